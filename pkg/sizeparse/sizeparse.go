// Package sizeparse converts human-readable byte and memory quantities
// (as reported by the container driver and accepted from operator input)
// into canonical integer counts.
package sizeparse

import (
	"fmt"
	"strconv"
	"strings"

	units "github.com/docker/go-units"
)

// ParseBytes parses a size string such as "512KiB", "1.5 GiB", or "11,59MiB"
// (comma used as a decimal point) into a raw byte count.
func ParseBytes(s string) (int64, error) {
	normalized := normalize(s)
	if normalized == "" {
		return 0, fmt.Errorf("sizeparse: empty input")
	}
	n, err := units.RAMInBytes(normalized)
	if err != nil {
		return 0, fmt.Errorf("sizeparse: parse %q: %w", s, err)
	}
	return n, nil
}

// ParseMemory parses a memory size string and returns whole mebibytes,
// rounding any fractional remainder up so that any non-zero amount below
// one MiB still reports as at least 1.
func ParseMemory(s string) (uint64, error) {
	raw, err := ParseBytes(s)
	if err != nil {
		return 0, err
	}
	if raw <= 0 {
		return 0, nil
	}
	const mib = 1024 * 1024
	mibCount := (raw + mib - 1) / mib
	return uint64(mibCount), nil
}

// FormatMemoryMiB renders a MiB count the way the compose synthesizer
// injects memory limits, e.g. 512 -> "512m".
func FormatMemoryMiB(mib uint64) string {
	return strconv.FormatUint(mib, 10) + "m"
}

// normalize rewrites a comma-decimal quantity ("11,59MiB") into the dotted
// form ("11.59MiB") that go-units understands, and trims surrounding space.
func normalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}

	// Split the leading numeric run (digits, at most one comma or dot) from
	// the trailing unit suffix, then swap a comma decimal for a dot.
	i := 0
	sawSeparator := false
	for i < len(s) {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			i++
		case (c == ',' || c == '.') && !sawSeparator:
			sawSeparator = true
			i++
		default:
			goto done
		}
	}
done:
	numeric := s[:i]
	rest := s[i:]
	numeric = strings.Replace(numeric, ",", ".", 1)
	return numeric + rest
}
