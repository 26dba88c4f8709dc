package providers

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"spamflow/internal/config"
)

type NamedEncoder struct {
	Ref     ProviderRef
	Encoder TextEncoder
}

// Manager owns the encoders built from SPAMFLOW_ENCODER. The first entry is
// the one used for tokenization.
type Manager struct {
	encoders []NamedEncoder
}

func NewManager(cfg config.Config, log *zap.Logger) (*Manager, error) {
	m := &Manager{}
	for _, ref := range ParseProviderList(cfg.Encoder) {
		enc, err := BuildEncoder(ref, cfg.VocabSize, log)
		if err != nil {
			return nil, err
		}
		m.encoders = append(m.encoders, NamedEncoder{Ref: ref, Encoder: enc})
	}
	return m, nil
}

func (m *Manager) Encoder() TextEncoder {
	return m.encoders[0].Encoder
}

func (m *Manager) Refs() []ProviderRef {
	out := make([]ProviderRef, 0, len(m.encoders))
	for _, e := range m.encoders {
		out = append(out, e.Ref)
	}
	return out
}

// FromInfo rebuilds the encoder recorded alongside a promoted model.
func FromInfo(info EncoderInfo, log *zap.Logger) (TextEncoder, error) {
	ref := ParseProviderList(info.Ref)[0]
	return BuildEncoder(ref, info.VocabSize, log)
}

func BuildEncoder(ref ProviderRef, vocabSize int, log *zap.Logger) (TextEncoder, error) {
	switch strings.ToLower(ref.Name) {
	case "hash":
		return NewHashEncoder(vocabSize), nil
	case "remote":
		if ref.Arg == "" {
			return nil, fmt.Errorf("remote encoder needs a base url: %s", ref.Raw)
		}
		return NewRemoteEncoder(ref.Arg, vocabSize, log), nil
	default:
		return nil, fmt.Errorf("unsupported encoder: %s", ref.Name)
	}
}
