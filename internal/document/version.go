package document

import (
	"fmt"
	"strconv"
)

// Versions are persisted and compared as fixed-width zero-padded decimal
// strings so lexical and numeric ordering coincide. Fifteen digits cover
// every int64 a document will plausibly reach.
const versionDigits = 15

// VersionZero is the encoded form of version 0, assigned lazily on the
// first local read of a document.
const VersionZero = "000000000000000"

// FormatVersion encodes a version counter as a fixed-width decimal
// string. Versions are non-negative by construction; a negative input
// is a programming error.
func FormatVersion(v int64) string {
	if v < 0 {
		panic(fmt.Sprintf("negative document version %d", v))
	}
	return fmt.Sprintf("%0*d", versionDigits, v)
}

// ParseVersion decodes a fixed-width version string.
func ParseVersion(s string) (int64, error) {
	if len(s) != versionDigits {
		return 0, fmt.Errorf("version %q: want %d digits, got %d", s, versionDigits, len(s))
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("version %q: %w", s, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("version %q: negative", s)
	}
	return v, nil
}
