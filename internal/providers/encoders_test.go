package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"spamflow/internal/config"
)

func TestHashEncoderDeterministic(t *testing.T) {
	enc := NewHashEncoder(8192)
	a, err := enc.Encode(context.Background(), []string{"WIN a prize!", "win a prize !"}, 512)
	require.NoError(t, err)
	require.Equal(t, a.InputIDs[0], a.InputIDs[1])
	require.Len(t, a.InputIDs[0], 6)
	require.Equal(t, ClsID, a.InputIDs[0][0])
	require.Equal(t, SepID, a.InputIDs[0][5])
	for _, id := range a.InputIDs[0][1:5] {
		require.GreaterOrEqual(t, id, int64(firstWordID))
		require.Less(t, id, int64(8192))
	}
	require.Equal(t, []int64{1, 1, 1, 1, 1, 1}, a.AttentionMask[0])
	require.Equal(t, []int64{0, 0, 0, 0, 0, 0}, a.TokenTypeIDs[0])
}

func TestHashEncoderTruncatesKeepingSep(t *testing.T) {
	enc := NewHashEncoder(0)
	out, err := enc.Encode(context.Background(), []string{strings.Repeat("word ", 20)}, 8)
	require.NoError(t, err)
	require.Len(t, out.InputIDs[0], 8)
	require.Equal(t, SepID, out.InputIDs[0][7])
	require.Equal(t, 8192, enc.Info().VocabSize)
}

func TestHashEncoderLongWordIsUnknown(t *testing.T) {
	out, err := NewHashEncoder(4096).Encode(context.Background(), []string{strings.Repeat("a", 101)}, 16)
	require.NoError(t, err)
	require.Equal(t, []int64{ClsID, UnkID, SepID}, out.InputIDs[0])
}

func TestRemoteEncoder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tokenize", r.URL.Path)
		var req struct {
			Texts     []string `json:"texts"`
			MaxLength int      `json:"max_length"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, 3, req.MaxLength)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"input_ids": [][]int64{{101, 7592, 102, 0}, {101, 102}},
		})
	}))
	defer srv.Close()

	enc := NewRemoteEncoder(srv.URL+"/", 30522, nil)
	out, err := enc.Encode(context.Background(), []string{"hello", ""}, 3)
	require.NoError(t, err)
	require.Equal(t, [][]int64{{101, 7592, 102}, {101, 102}}, out.InputIDs)
	require.Equal(t, [][]int64{{1, 1, 1}, {1, 1}}, out.AttentionMask)
	require.Equal(t, [][]int64{{0, 0, 0}, {0, 0}}, out.TokenTypeIDs)
	require.Equal(t, "remote:"+srv.URL, enc.Info().Ref)
}

func TestRemoteEncoderRowMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"input_ids": [][]int64{{101, 102}}})
	}))
	defer srv.Close()
	_, err := NewRemoteEncoder(srv.URL, 100, nil).Encode(context.Background(), []string{"a", "b"}, 8)
	require.Error(t, err)
	require.Equal(t, ErrorDecode, ClassifyError(err))
}

func TestManagerAndFromInfo(t *testing.T) {
	m, err := NewManager(config.Config{Encoder: "hash|remote:http://tok:9000", VocabSize: 2048}, nil)
	require.NoError(t, err)
	require.Len(t, m.Refs(), 2)
	info := m.Encoder().Info()
	require.Equal(t, "hash", info.Name)

	rebuilt, err := FromInfo(info, nil)
	require.NoError(t, err)
	require.Equal(t, info, rebuilt.Info())

	_, err = NewManager(config.Config{Encoder: "bogus"}, nil)
	require.Error(t, err)
	_, err = NewManager(config.Config{Encoder: "remote"}, nil)
	require.Error(t, err)
}
