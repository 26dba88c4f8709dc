package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"spamflow/internal/util"
)

var (
	encOnce sync.Once
	enc     *zstd.Encoder
	encErr  error

	decOnce sync.Once
	dec     *zstd.Decoder
	decErr  error
)

func encoder() (*zstd.Encoder, error) {
	encOnce.Do(func() {
		enc, encErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	})
	return enc, encErr
}

func decoder() (*zstd.Decoder, error) {
	decOnce.Do(func() {
		// 0 concurrency means GOMAXPROCS
		dec, decErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0), zstd.WithDecoderLowmem(false))
	})
	return dec, decErr
}

// Encode materializes v as zstd-compressed JSON. The checksum is taken over the
// uncompressed JSON so equal values always share it.
func Encode(v any) (payload []byte, checksum string, err error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, "", fmt.Errorf("marshal artifact: %w", err)
	}
	e, err := encoder()
	if err != nil {
		return nil, "", fmt.Errorf("zstd encoder: %w", err)
	}
	return e.EncodeAll(raw, make([]byte, 0, len(raw)/2)), util.Murmur128Hex(raw), nil
}

func Decode(payload []byte, dst any) error {
	d, err := decoder()
	if err != nil {
		return fmt.Errorf("zstd decoder: %w", err)
	}
	raw, err := d.DecodeAll(payload, make([]byte, 0, len(payload)*3))
	if err != nil {
		return fmt.Errorf("decompress artifact: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("unmarshal artifact: %w", err)
	}
	return nil
}
