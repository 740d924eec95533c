// Package privacy redacts identity material before it leaves the service.
package privacy

import (
	"strings"

	"golang.org/x/crypto/sha3"
)

const (
	maskPrefixLen = 6
	maskSuffixLen = 4
	// Longer values keep a prefix and suffix; the rendering is shorter than
	// the input, so it can never contain it.
	minRevealLen = maskPrefixLen + len("...") + maskSuffixLen
	digestLen    = 8
)

// Digest renderings for short values. Their character sets are disjoint, so
// an input contained in one cannot be contained in the other.
var (
	hexDigest   = digestStyle{prefix: "nh:", alphabet: "0123456789abcdef"}
	upperDigest = digestStyle{prefix: "~", alphabet: "GHIJKLMNOPQRSTUV"}
)

type digestStyle struct {
	prefix   string
	alphabet string
}

func (d digestStyle) render(sum []byte) string {
	var b strings.Builder
	b.WriteString(d.prefix)
	for _, c := range sum[:digestLen/2] {
		b.WriteByte(d.alphabet[c>>4])
		b.WriteByte(d.alphabet[c&0x0f])
	}
	return b.String()
}

// MaskNullifier returns a deterministic, non-reversible rendering of an
// identity nullifier that still lets a human tell two values apart. The
// result never contains a non-empty input.
func MaskNullifier(nullifier string) string {
	if len(nullifier) > minRevealLen {
		return nullifier[:maskPrefixLen] + "..." + nullifier[len(nullifier)-maskSuffixLen:]
	}
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(nullifier))
	sum := h.Sum(nil)

	out := hexDigest.render(sum)
	if nullifier != "" && strings.Contains(out, nullifier) {
		out = upperDigest.render(sum)
	}
	return out
}
