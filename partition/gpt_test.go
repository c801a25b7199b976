package partition_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/embedfat/fatguard/partition"
)

func TestWriteReadGPTHeaderRoundTrips(t *testing.T) {
	diskGUID, err := partition.NewRandomGUID()
	require.NoError(t, err)

	typeGUID, ok := partition.WellKnownPartitionType("Linux Filesystem Data")
	require.True(t, ok)
	uniqueGUID, err := partition.NewRandomGUID()
	require.NoError(t, err)

	entries := []partition.GPTEntry{
		{
			TypeGUID:   typeGUID,
			UniqueGUID: uniqueGUID,
			FirstLBA:   2048,
			LastLBA:    206847,
			Name:       "DATA",
		},
	}

	primaryHeader, backupHeader, entryArray, backupEntryArrayLBA, err := partition.WriteGPT(diskGUID, entries, 1, 409599, 2048, 409566, 2, 512)
	require.NoError(t, err)
	require.Len(t, primaryHeader, 512)
	require.Len(t, backupHeader, 512)
	require.NotEmpty(t, entryArray)
	require.EqualValues(t, 409599-partition.EntryArraySectorCount(512), backupEntryArrayLBA)

	decoded, err := partition.ReadGPTHeader(primaryHeader, 1, 409599, false, 512)
	require.NoError(t, err)
	require.Equal(t, diskGUID, decoded.DiskGUID)
	require.EqualValues(t, 1, decoded.CurrentLBA)
	require.EqualValues(t, 409599, decoded.BackupLBA)

	backupDecoded, err := partition.ReadGPTHeader(backupHeader, 409599, 1, true, 512)
	require.NoError(t, err)
	require.EqualValues(t, 409599, backupDecoded.CurrentLBA)
	require.EqualValues(t, 1, backupDecoded.BackupLBA)
}

func TestReadGPTHeaderRejectsBadCRC(t *testing.T) {
	diskGUID, err := partition.NewRandomGUID()
	require.NoError(t, err)
	primaryHeader, _, _, _, err := partition.WriteGPT(diskGUID, nil, 1, 409599, 2048, 409566, 2, 512)
	require.NoError(t, err)

	primaryHeader[20] ^= 0xFF
	_, err = partition.ReadGPTHeader(primaryHeader, 1, 409599, false, 512)
	require.Error(t, err)
}

func TestReadGPTHeaderRejectsWrongLBA(t *testing.T) {
	diskGUID, err := partition.NewRandomGUID()
	require.NoError(t, err)
	primaryHeader, _, _, _, err := partition.WriteGPT(diskGUID, nil, 1, 409599, 2048, 409566, 2, 512)
	require.NoError(t, err)

	_, err = partition.ReadGPTHeader(primaryHeader, 99, 409599, false, 512)
	require.Error(t, err)
}

func TestResolveLayoutAutoClaimsAllRemainingSpace(t *testing.T) {
	typeGUID, ok := partition.WellKnownPartitionType("Linux Filesystem Data")
	require.True(t, ok)

	entries, err := partition.ResolveLayout([]partition.PartitionRequest{
		{TypeGUID: typeGUID, Name: "DATA"},
	}, 2048, 409566)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.EqualValues(t, 2048, entries[0].FirstLBA)
	require.EqualValues(t, 409566, entries[0].LastLBA)
}

func TestResolveLayoutChainsSuccessivePartitions(t *testing.T) {
	typeGUID, ok := partition.WellKnownPartitionType("Linux Filesystem Data")
	require.True(t, ok)

	entries, err := partition.ResolveLayout([]partition.PartitionRequest{
		{TypeGUID: typeGUID, Name: "A", NumSectors: 1000},
		{TypeGUID: typeGUID, Name: "B"},
	}, 2048, 409566)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.EqualValues(t, 2048, entries[0].FirstLBA)
	require.EqualValues(t, 3047, entries[0].LastLBA)
	require.EqualValues(t, 3048, entries[1].FirstLBA)
	require.EqualValues(t, 409566, entries[1].LastLBA)
}

func TestResolveLayoutRejectsOverflow(t *testing.T) {
	typeGUID, ok := partition.WellKnownPartitionType("Linux Filesystem Data")
	require.True(t, ok)

	_, err := partition.ResolveLayout([]partition.PartitionRequest{
		{TypeGUID: typeGUID, Name: "TOO-BIG", NumSectors: 1 << 40},
	}, 2048, 409566)
	require.Error(t, err)
}

func TestResolveLayoutRejectsEarlyZeroNumSectors(t *testing.T) {
	typeGUID, ok := partition.WellKnownPartitionType("Linux Filesystem Data")
	require.True(t, ok)

	_, err := partition.ResolveLayout([]partition.PartitionRequest{
		{TypeGUID: typeGUID, Name: "A"},
		{TypeGUID: typeGUID, Name: "B", NumSectors: 1000},
	}, 2048, 409566)
	require.Error(t, err)
}

func TestValidateLayoutCatchesOverlap(t *testing.T) {
	diskGUID, err := partition.NewRandomGUID()
	require.NoError(t, err)
	typeGUID, ok := partition.WellKnownPartitionType("Linux Filesystem Data")
	require.True(t, ok)

	table := &partition.Table{
		Header: &partition.Header{
			FirstUsableLBA: 2048,
			LastUsableLBA:  409566,
		},
		Entries: []partition.GPTEntry{
			{TypeGUID: typeGUID, UniqueGUID: diskGUID, FirstLBA: 2048, LastLBA: 100000},
			{TypeGUID: typeGUID, UniqueGUID: diskGUID, FirstLBA: 90000, LastLBA: 200000},
		},
	}

	err = table.ValidateLayout()
	require.Error(t, err)
}

func TestValidateLayoutAcceptsDisjointEntries(t *testing.T) {
	typeGUID, ok := partition.WellKnownPartitionType("Linux Filesystem Data")
	require.True(t, ok)
	uniqueA, err := partition.NewRandomGUID()
	require.NoError(t, err)
	uniqueB, err := partition.NewRandomGUID()
	require.NoError(t, err)

	table := &partition.Table{
		Header: &partition.Header{
			FirstUsableLBA: 2048,
			LastUsableLBA:  409566,
		},
		Entries: []partition.GPTEntry{
			{TypeGUID: typeGUID, UniqueGUID: uniqueA, FirstLBA: 2048, LastLBA: 100000},
			{TypeGUID: typeGUID, UniqueGUID: uniqueB, FirstLBA: 100001, LastLBA: 200000},
		},
	}

	require.NoError(t, table.ValidateLayout())
}
