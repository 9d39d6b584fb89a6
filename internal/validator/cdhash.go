package validator

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// CDHashLen is the length in bytes of a code directory hash.
const CDHashLen = 20

// ErrInvalidCDHash is returned for digests that are not CDHashLen bytes of hex.
var ErrInvalidCDHash = errors.New("invalid cdhash")

// CanonicalCDHash renders a hex digest in canonical form: lowercase, no
// whitespace, colons or dashes. Canonical input is returned unchanged.
func CanonicalCDHash(s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', ':', '-':
			continue
		}
		b.WriteRune(r)
	}
	out := strings.ToLower(b.String())
	out = strings.TrimPrefix(out, "0x")

	raw, err := hex.DecodeString(out)
	if err != nil {
		return "", fmt.Errorf("%w: %q is not hex", ErrInvalidCDHash, s)
	}
	if len(raw) != CDHashLen {
		return "", fmt.Errorf("%w: %q is %d bytes, want %d", ErrInvalidCDHash, s, len(raw), CDHashLen)
	}
	return out, nil
}

// ParseDataDescription extracts a canonical cdhash from an NSData object
// description. Both the legacy "<aabbccdd ...>" form and the
// "{length = 20, bytes = 0xaabb...}" form are accepted.
func ParseDataDescription(desc string) (string, error) {
	d := strings.TrimSpace(desc)
	switch {
	case strings.HasPrefix(d, "<") && strings.HasSuffix(d, ">"):
		d = d[1 : len(d)-1]
	case strings.HasPrefix(d, "{") && strings.HasSuffix(d, "}"):
		i := strings.Index(d, "bytes =")
		if i < 0 {
			return "", fmt.Errorf("%w: no bytes in %q", ErrInvalidCDHash, desc)
		}
		d = strings.TrimSpace(d[i+len("bytes =") : len(d)-1])
	default:
		return "", fmt.Errorf("%w: unrecognized data description %q", ErrInvalidCDHash, desc)
	}
	if strings.Contains(d, "...") {
		return "", fmt.Errorf("%w: truncated data description %q", ErrInvalidCDHash, desc)
	}
	return CanonicalCDHash(d)
}
