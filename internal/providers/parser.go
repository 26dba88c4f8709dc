package providers

import "strings"

// ProviderRef is one entry of an encoder list such as "remote:http://tok:9000|hash".
type ProviderRef struct {
	Raw  string
	Name string
	Arg  string
}

// ParseProviderList splits the list in priority order. Names are lowercased and
// exact duplicates dropped; an empty list means the built-in hash encoder.
func ParseProviderList(raw string) []ProviderRef {
	var out []ProviderRef
	seen := map[string]bool{}
	for _, p := range strings.Split(raw, "|") {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		name, arg, _ := strings.Cut(p, ":")
		out = append(out, ProviderRef{
			Raw:  p,
			Name: strings.ToLower(strings.TrimSpace(name)),
			Arg:  strings.TrimSpace(arg),
		})
	}
	if len(out) == 0 {
		out = []ProviderRef{{Raw: "hash", Name: "hash"}}
	}
	return out
}
