package providers

import "testing"

func TestParseProviderList(t *testing.T) {
	refs := ParseProviderList("remote:http://tok:9000|hash")
	if len(refs) != 2 {
		t.Fatalf("expected 2 encoders got %d", len(refs))
	}
	if refs[0].Name != "remote" || refs[0].Arg != "http://tok:9000" {
		t.Fatalf("unexpected parse result: %+v", refs[0])
	}
	if refs[1].Name != "hash" || refs[1].Arg != "" {
		t.Fatalf("unexpected parse result: %+v", refs[1])
	}
}

func TestParseProviderListDefaultsToHash(t *testing.T) {
	refs := ParseProviderList("  | ")
	if len(refs) != 1 || refs[0].Name != "hash" {
		t.Fatalf("unexpected default: %+v", refs)
	}
}

func TestParseProviderListNormalizesNames(t *testing.T) {
	refs := ParseProviderList("HASH | hash|HASH")
	if len(refs) != 2 || refs[0].Name != "hash" || refs[1].Name != "hash" {
		t.Fatalf("unexpected parse result: %+v", refs)
	}
}
