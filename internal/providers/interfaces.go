package providers

import "context"

// Special token ids shared by every encoder.
const (
	PadID int64 = 0
	UnkID int64 = 100
	ClsID int64 = 101
	SepID int64 = 102
)

// EncoderInfo identifies an encoder well enough to rebuild it at serving time.
type EncoderInfo struct {
	Name      string `json:"name"`
	Ref       string `json:"ref"`
	Model     string `json:"model"`
	VocabSize int    `json:"vocab_size"`
}

// Encoding holds one row per input text. Rows are truncated but not padded.
type Encoding struct {
	InputIDs      [][]int64
	TokenTypeIDs  [][]int64
	AttentionMask [][]int64
}

func (e Encoding) Len() int { return len(e.InputIDs) }

type TextEncoder interface {
	Encode(ctx context.Context, texts []string, maxLength int) (Encoding, error)
	Info() EncoderInfo
}
