package sizeparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMemorySubMiBFloor(t *testing.T) {
	mib, err := ParseMemory("0.5 MiB")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), mib)
}

func TestParseMemoryCommaDecimal(t *testing.T) {
	mib, err := ParseMemory("11,59MiB")
	require.NoError(t, err)
	assert.Equal(t, uint64(12), mib)
}

func TestParseMemoryWholeMiB(t *testing.T) {
	mib, err := ParseMemory("4MiB")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), mib)
}

func TestParseMemoryZero(t *testing.T) {
	mib, err := ParseMemory("0MiB")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), mib)
}

func TestParseBytesMonotoneWithinSuffixClass(t *testing.T) {
	small, err := ParseBytes("10MiB")
	require.NoError(t, err)
	large, err := ParseBytes("20MiB")
	require.NoError(t, err)
	assert.Less(t, small, large)
}

func TestParseBytesSuffixes(t *testing.T) {
	cases := map[string]int64{
		"1KiB": 1024,
		"1MiB": 1024 * 1024,
		"1GiB": 1024 * 1024 * 1024,
	}
	for in, want := range cases {
		got, err := ParseBytes(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestParseBytesEmptyInput(t *testing.T) {
	_, err := ParseBytes("")
	assert.Error(t, err)
}

func TestFormatMemoryMiB(t *testing.T) {
	assert.Equal(t, "512m", FormatMemoryMiB(512))
}
