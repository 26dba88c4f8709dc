package pipeline

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/spaolacci/murmur3"
)

// bump to invalidate every cached step output
const fingerprintVersion = "v1"

// Fingerprint hashes the step name, the checksums of its inputs in order and
// its params. Inputs are content addressed, so re-running an uncached upstream
// step with identical output keeps downstream fingerprints stable.
func Fingerprint(spec StepSpec) (string, error) {
	params, err := json.Marshal(spec.Params)
	if err != nil {
		return "", fmt.Errorf("marshal params of %s: %w", spec.Name, err)
	}
	h := murmur3.New128()
	_, _ = h.Write([]byte(fingerprintVersion))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(spec.Name))
	for _, in := range spec.Inputs {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(in.Checksum))
	}
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(params)
	return hex.EncodeToString(h.Sum(nil)), nil
}
