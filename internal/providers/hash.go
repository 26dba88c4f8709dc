package providers

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/spaolacci/murmur3"
)

const (
	// ids below this are reserved for special tokens
	firstWordID     = 1000
	maxCharsPerWord = 100
)

// HashEncoder is a deterministic wordpiece-free tokenizer: lower-cased words and
// punctuation are mapped into a fixed vocabulary by murmur3.
type HashEncoder struct {
	vocabSize int
}

func NewHashEncoder(vocabSize int) *HashEncoder {
	if vocabSize <= firstWordID {
		vocabSize = 8192
	}
	return &HashEncoder{vocabSize: vocabSize}
}

func (h *HashEncoder) Info() EncoderInfo {
	return EncoderInfo{Name: "hash", Ref: "hash", Model: fmt.Sprintf("murmur3-%d", h.vocabSize), VocabSize: h.vocabSize}
}

func (h *HashEncoder) Encode(ctx context.Context, texts []string, maxLength int) (Encoding, error) {
	if maxLength < 2 {
		return Encoding{}, fmt.Errorf("max length %d leaves no room for special tokens", maxLength)
	}
	out := Encoding{
		InputIDs:      make([][]int64, 0, len(texts)),
		TokenTypeIDs:  make([][]int64, 0, len(texts)),
		AttentionMask: make([][]int64, 0, len(texts)),
	}
	for i, text := range texts {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return Encoding{}, err
			}
		}
		words := basicTokenize(text)
		if len(words) > maxLength-2 {
			words = words[:maxLength-2]
		}
		ids := make([]int64, 0, len(words)+2)
		ids = append(ids, ClsID)
		for _, w := range words {
			ids = append(ids, h.wordID(w))
		}
		ids = append(ids, SepID)

		mask := make([]int64, len(ids))
		for j := range mask {
			mask[j] = 1
		}
		out.InputIDs = append(out.InputIDs, ids)
		out.TokenTypeIDs = append(out.TokenTypeIDs, make([]int64, len(ids)))
		out.AttentionMask = append(out.AttentionMask, mask)
	}
	return out, nil
}

func (h *HashEncoder) wordID(w string) int64 {
	if len([]rune(w)) > maxCharsPerWord {
		return UnkID
	}
	span := uint32(h.vocabSize - firstWordID)
	return int64(firstWordID + murmur3.Sum32([]byte(w))%span)
}

// basicTokenize lower-cases, splits on whitespace and isolates punctuation.
func basicTokenize(text string) []string {
	var out []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsSpace(r) || unicode.IsControl(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			out = append(out, string(r))
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return out
}
