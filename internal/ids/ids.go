// Package ids generates process-wide-unique identifiers and computes the
// canonical causal hash chaining ledger events and tombstones.
//
// IDs are 128 bits of crypto/rand, hex-encoded — collision probability is
// negligible, so identity uniqueness is enforced ontologically (the
// graveyard's Lazarus check) rather than relied upon statistically.
//
// Causal hashing follows the same canonical-encoding discipline as
// governance.ConstitutionalKernel's decision hash: fixed-endianness
// integers, length-prefixed strings, and (for maps) sorted keys, so that
// the hash is reproducible independent of map iteration order or host
// endianness.
package ids

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
)

// New returns a fresh 128-bit identifier encoded as 32 lowercase hex
// characters. The source is crypto/rand; callers must not rely on any
// structure beyond uniqueness.
func New() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand.Read failing means the OS entropy source is broken.
		// There is no safe fallback for identity generation.
		panic(fmt.Sprintf("ids.New: crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(buf[:])
}

// ZeroHash is the all-zero causal hash used as the "prev" value of the
// genesis ledger event.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// CausalHash computes SHA-256 over the canonical encoding of
// (prevHash, seq, timestampMs, kind, payload) and returns it as lowercase
// hex. It is pure and total: the same inputs always produce the same
// output, regardless of map key order in payload.
func CausalHash(prevHash string, seq int64, timestampMs int64, kind string, payload map[string]any) string {
	h := sha256.New()
	writeString(h, prevHash)
	writeInt64(h, seq)
	writeInt64(h, timestampMs)
	writeString(h, kind)
	writeCanonicalValue(h, payload)
	return hex.EncodeToString(h.Sum(nil))
}

type byteWriter interface {
	Write(p []byte) (int, error)
}

// writeString writes a length-prefixed UTF-8 string: a fixed 8-byte
// big-endian length followed by the raw bytes. Length-prefixing prevents
// ambiguity between e.g. ("ab","c") and ("a","bc").
func writeString(w byteWriter, s string) {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(s)))
	_, _ = w.Write(lenBuf[:])
	_, _ = w.Write([]byte(s))
}

// writeInt64 writes a fixed-width big-endian 64-bit integer.
func writeInt64(w byteWriter, n int64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	_, _ = w.Write(buf[:])
}

// writeFloat64 writes a fixed-width big-endian IEEE-754 double, via its
// raw bit pattern.
func writeFloat64(w byteWriter, f float64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(f))
	_, _ = w.Write(buf[:])
}

// writeCanonicalValue recursively encodes a JSON-like value (as produced
// by decoding/constructing payload maps) in a deterministic byte form.
// Supported kinds: nil, bool, string, int, int64, float64, []any,
// map[string]any — sufficient for the event and tombstone payloads this
// package is asked to hash. Map keys are sorted before writing.
func writeCanonicalValue(w byteWriter, v any) {
	switch t := v.(type) {
	case nil:
		_, _ = w.Write([]byte{0x00})
	case bool:
		_, _ = w.Write([]byte{0x01})
		if t {
			_, _ = w.Write([]byte{0x01})
		} else {
			_, _ = w.Write([]byte{0x00})
		}
	case string:
		_, _ = w.Write([]byte{0x02})
		writeString(w, t)
	case int:
		_, _ = w.Write([]byte{0x03})
		writeInt64(w, int64(t))
	case int64:
		_, _ = w.Write([]byte{0x03})
		writeInt64(w, t)
	case float64:
		_, _ = w.Write([]byte{0x04})
		writeFloat64(w, t)
	case []any:
		_, _ = w.Write([]byte{0x05})
		writeInt64(w, int64(len(t)))
		for _, el := range t {
			writeCanonicalValue(w, el)
		}
	case map[string]any:
		_, _ = w.Write([]byte{0x06})
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		writeInt64(w, int64(len(keys)))
		for _, k := range keys {
			writeString(w, k)
			writeCanonicalValue(w, t[k])
		}
	default:
		// Unsupported type: fall back to its fmt representation so the
		// function stays total rather than panicking mid-chain.
		_, _ = w.Write([]byte{0xff})
		writeString(w, fmt.Sprintf("%v", t))
	}
}
