package state

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"sort"
	gosync "sync"

	"github.com/zeebo/blake3"
)

// hasherPool amortizes blake3 hasher allocations across fingerprints.
var hasherPool = &gosync.Pool{
	New: func() any {
		return blake3.New()
	},
}

// Type tags keep the encoding unambiguous: the string "1" and the number 1,
// or an empty mapping and null, never share a byte sequence.
const (
	tagNull   = 'n'
	tagTrue   = 't'
	tagFalse  = 'f'
	tagNumber = 'd'
	tagString = 's'
	tagMap    = 'm'
)

// Fingerprint validates and normalizes m the way a Store would, then returns
// its deterministic hex-encoded blake3 digest. Trees that a Store would hold
// equal always share a fingerprint.
func Fingerprint(m Map) (string, error) {
	normalized, err := normalizeRoot(m)
	if err != nil {
		return "", err
	}
	return fingerprint(normalized), nil
}

// fingerprint digests an already normalized tree. Mapping keys are visited
// in sorted order; values of any other Go type are not representable.
func fingerprint(m Map) string {
	h := hasherPool.Get().(*blake3.Hasher)
	defer func() {
		h.Reset()
		hasherPool.Put(h)
	}()

	w := &canonicalWriter{h: h}
	w.mapping(m)

	var out [32]byte
	return hex.EncodeToString(h.Sum(out[:0]))
}

type canonicalWriter struct {
	h   *blake3.Hasher
	buf [binary.MaxVarintLen64]byte
}

func (w *canonicalWriter) tag(t byte) {
	w.buf[0] = t
	_, _ = w.h.Write(w.buf[:1])
}

func (w *canonicalWriter) length(n int) {
	k := binary.PutUvarint(w.buf[:], uint64(n))
	_, _ = w.h.Write(w.buf[:k])
}

func (w *canonicalWriter) str(s string) {
	w.length(len(s))
	_, _ = w.h.Write([]byte(s))
}

func (w *canonicalWriter) value(v any) {
	switch x := v.(type) {
	case nil:
		w.tag(tagNull)
	case bool:
		if x {
			w.tag(tagTrue)
		} else {
			w.tag(tagFalse)
		}
	case float64:
		w.tag(tagNumber)
		binary.BigEndian.PutUint64(w.buf[:8], math.Float64bits(x))
		_, _ = w.h.Write(w.buf[:8])
	case string:
		w.tag(tagString)
		w.str(x)
	case Map:
		w.mapping(x)
	}
}

func (w *canonicalWriter) mapping(m Map) {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if IsAbsent(v) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w.tag(tagMap)
	w.length(len(keys))
	for _, k := range keys {
		w.str(k)
		w.value(m[k])
	}
}
