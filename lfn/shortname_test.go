package lfn_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/embedfat/fatguard/lfn"
)

func TestGenerateShortNameFitsDirectly(t *testing.T) {
	result, err := lfn.GenerateShortName("README.TXT", nil)
	require.NoError(t, err)
	require.False(t, result.NeedsLFN)
	require.Equal(t, "README  ", string(result.Base[:]))
	require.Equal(t, "TXT", string(result.Ext[:]))
}

func TestGenerateShortNameCollisionAdvancesIndex(t *testing.T) {
	existing := []string{"FILENAME.TXT"}
	// Single-digit suffixes reserve a 6-char base ("FILENA~1".."FILENA~9");
	// once that range is exhausted the search drops to a 5-char base for
	// two-digit suffixes ("FILEN~10"..).
	for i := 1; i <= 9; i++ {
		existing = append(existing, fmt.Sprintf("FILENA~%d.TXT", i))
	}
	for i := 10; i <= 63; i++ {
		existing = append(existing, fmt.Sprintf("FILEN~%d.TXT", i))
	}

	result, err := lfn.GenerateShortName("FileNameVeryLong64.txt", existing)
	require.NoError(t, err)
	require.True(t, result.NeedsLFN)
	require.Equal(t, "FILEN~64", trimSpaces(string(result.Base[:])))
	require.Equal(t, "TXT", string(result.Ext[:]))
}

func TestGenerateShortNameReplacesInvalidChars(t *testing.T) {
	result, err := lfn.GenerateShortName("bad:name?.txt", nil)
	require.NoError(t, err)
	require.True(t, result.NeedsLFN)
	require.Equal(t, "BAD_NA~1", trimSpaces(string(result.Base[:])))
}

func trimSpaces(s string) string {
	for len(s) > 0 && s[len(s)-1] == ' ' {
		s = s[:len(s)-1]
	}
	return s
}
