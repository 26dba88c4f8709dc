package util

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	err := fmt.Errorf("tokenize: %w", &SchemaError{Column: "Messages", Dataset: "training"})
	require.ErrorIs(t, err, ErrSchema)
	require.NotErrorIs(t, err, ErrNotFound)
	require.Equal(t, "tokenize: Messages column missing in training dataset", err.Error())

	var se *SchemaError
	require.True(t, errors.As(err, &se))
	require.Equal(t, "training", se.Dataset)

	require.ErrorIs(t, &NotFoundError{Kind: "pipeline", Detail: "processing"}, ErrNotFound)
	require.ErrorIs(t, &PreconditionError{Msg: "no run"}, ErrPrecondition)
}

func TestWriteCSVAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "rows.csv")
	require.NoError(t, WriteCSVAtomic(path, []string{"a", "b"}, [][]string{{"1", "0"}, {"0", "1"}}))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "a,b\n1,0\n0,1\n", string(b))
}

func TestJSONRoundTripOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v.json")
	require.NoError(t, WriteJSONAtomic(path, map[string]int{"x": 1}))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var out map[string]int
	require.NoError(t, json.Unmarshal(b, &out))
	require.Equal(t, 1, out["x"])
}

func TestWriteFileAtomicReplacesWithoutLeftovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accuracy.txt")
	require.NoError(t, WriteFileAtomic(path, []byte("old")))
	require.NoError(t, WriteFileAtomic(path, []byte("Accuracy: 1\n")))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "Accuracy: 1\n", string(b))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestMurmur128HexStable(t *testing.T) {
	a := Murmur128Hex([]byte("clean:abc"))
	require.Equal(t, a, Murmur128Hex([]byte("clean:abc")))
	require.NotEqual(t, a, Murmur128Hex([]byte("clean:abd")))
}
