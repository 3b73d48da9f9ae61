package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// Fingerprint derives a cache key from the synthesis-affecting request
// parameters. Parameters are canonicalized by sorting their names so the
// same parameter set always produces the same digest regardless of map
// iteration order. The key is the hex form of the first 16 bytes of a
// SHA-256 over the name/value tuple.
func Fingerprint(params map[string]string) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write([]byte(params[name]))
		h.Write([]byte{0})
	}

	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}
