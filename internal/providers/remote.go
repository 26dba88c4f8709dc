package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"spamflow/internal/logger"
)

// RemoteEncoder calls an HTTP tokenizer service:
// POST {base}/tokenize {"texts": [...], "max_length": n}.
type RemoteEncoder struct {
	baseURL   string
	vocabSize int
	client    *http.Client
	log       *zap.Logger
}

func NewRemoteEncoder(baseURL string, vocabSize int, log *zap.Logger) *RemoteEncoder {
	return &RemoteEncoder{
		baseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		vocabSize: vocabSize,
		client:    &http.Client{Timeout: 90 * time.Second},
		log:       logger.OrNop(log),
	}
}

func (r *RemoteEncoder) Info() EncoderInfo {
	return EncoderInfo{Name: "remote", Ref: "remote:" + r.baseURL, Model: r.baseURL, VocabSize: r.vocabSize}
}

type tokenizeResponse struct {
	InputIDs      [][]int64 `json:"input_ids"`
	TokenTypeIDs  [][]int64 `json:"token_type_ids"`
	AttentionMask [][]int64 `json:"attention_mask"`
}

func (r *RemoteEncoder) Encode(ctx context.Context, texts []string, maxLength int) (Encoding, error) {
	if len(texts) == 0 {
		return Encoding{}, nil
	}
	enc, err := r.call(ctx, texts, maxLength)
	if err != nil {
		r.log.Warn("remote tokenizer failed",
			zap.String("base_url", r.baseURL),
			zap.String("error_type", string(ClassifyError(err))),
			zap.Error(err))
		return Encoding{}, err
	}
	return enc, nil
}

func (r *RemoteEncoder) call(ctx context.Context, texts []string, maxLength int) (Encoding, error) {
	payload, err := json.Marshal(map[string]any{"texts": texts, "max_length": maxLength})
	if err != nil {
		return Encoding{}, fmt.Errorf("encode tokenizer request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/tokenize", bytes.NewReader(payload))
	if err != nil {
		return Encoding{}, fmt.Errorf("build tokenizer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return Encoding{}, fmt.Errorf("tokenizer request failed: %w", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Encoding{}, fmt.Errorf("tokenizer error %d: %s", resp.StatusCode, string(body))
	}
	var parsed tokenizeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Encoding{}, fmt.Errorf("decode tokenizer response: %w", err)
	}
	if len(parsed.InputIDs) != len(texts) {
		return Encoding{}, fmt.Errorf("tokenizer returned %d rows for %d texts", len(parsed.InputIDs), len(texts))
	}

	out := Encoding{
		InputIDs:      make([][]int64, len(texts)),
		TokenTypeIDs:  make([][]int64, len(texts)),
		AttentionMask: make([][]int64, len(texts)),
	}
	for i, ids := range parsed.InputIDs {
		if len(ids) == 0 {
			return Encoding{}, fmt.Errorf("tokenizer returned empty row %d", i)
		}
		ids = truncate(ids, maxLength)
		out.InputIDs[i] = ids
		out.TokenTypeIDs[i] = rowOr(parsed.TokenTypeIDs, i, len(ids), 0)
		out.AttentionMask[i] = rowOr(parsed.AttentionMask, i, len(ids), 1)
	}
	return out, nil
}

func truncate(v []int64, n int) []int64 {
	if n > 0 && len(v) > n {
		return v[:n]
	}
	return v
}

// rowOr returns rows[i] resized to n, or a row filled with fill when absent.
func rowOr(rows [][]int64, i, n int, fill int64) []int64 {
	out := make([]int64, n)
	if i < len(rows) && len(rows[i]) > 0 {
		copy(out, rows[i])
		return out
	}
	for j := range out {
		out[j] = fill
	}
	return out
}
