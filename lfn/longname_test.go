package lfn_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/embedfat/fatguard/lfn"
)

func TestEncodeDecodeLongNameRoundTrip(t *testing.T) {
	name := "Ærøskøbing & co.txt"
	entries := lfn.EncodeLongName(name, 0x42)
	require.Len(t, entries, 2)

	require.EqualValues(t, 0x40|2, entries[0][0])
	require.EqualValues(t, 1, entries[1][0])

	decoded := lfn.DecodeLongName(entries)
	require.Equal(t, name, decoded)
}

func TestEncodeLongNameExactMultipleOf13HasNoPadding(t *testing.T) {
	name := "1234567890123" // exactly 13 characters
	entries := lfn.EncodeLongName(name, 0x10)
	require.Len(t, entries, 1)

	decoded := lfn.DecodeLongName(entries)
	require.Equal(t, name, decoded)
}

func TestValidateLongNameRejectsAllDots(t *testing.T) {
	require.Error(t, lfn.ValidateLongName("..."))
}

func TestValidateLongNameRejectsReservedChars(t *testing.T) {
	require.Error(t, lfn.ValidateLongName("bad:name.txt"))
}

func TestNormalizeLongNameTrimsSpacesAndDots(t *testing.T) {
	require.Equal(t, "report", lfn.NormalizeLongName("  report.. "))
}
