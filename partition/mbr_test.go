package partition_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/embedfat/fatguard"
	"github.com/embedfat/fatguard/partition"
)

func TestReadMBRRejectsMissingSignature(t *testing.T) {
	sector := make([]byte, 512)
	_, err := partition.ReadMBR(sector)
	require.Error(t, err)
}

func TestReadMBRRejectsBootSectorLookalike(t *testing.T) {
	sector := make([]byte, 512)
	sector[0] = 0xEB
	sector[1] = 0x3C
	sector[2] = 0x90
	sector[510] = 0x55
	sector[511] = 0xAA
	_, err := partition.ReadMBR(sector)
	require.Error(t, err)
}

func TestWriteReadMBRRoundTrips(t *testing.T) {
	mbr := &partition.MBR{}
	mbr.Entries[0] = partition.NewEntry(true, 2048, 1048576, partition.PartitionTypeEmpty, 4194304)

	sector, err := partition.WriteMBR(mbr, nil)
	require.NoError(t, err)
	require.Len(t, sector, 512)

	decoded, err := partition.ReadMBR(sector)
	require.NoError(t, err)
	require.True(t, decoded.Entries[0].Active)
	require.EqualValues(t, 2048, decoded.Entries[0].StartLBA)
	require.EqualValues(t, 1048576, decoded.Entries[0].NumSectors)
	require.Equal(t, partition.PartitionTypeFAT16, decoded.Entries[0].Type)
}

func TestSynthesizeTypeThresholds(t *testing.T) {
	require.Equal(t, partition.PartitionTypeFAT12, partition.SynthesizeType(100))
	require.Equal(t, partition.PartitionTypeFAT16Small, partition.SynthesizeType(0x8000))
	require.Equal(t, partition.PartitionTypeFAT16, partition.SynthesizeType(0x100000))
	require.Equal(t, partition.PartitionTypeFAT32CHS, partition.SynthesizeType(0x400000))
	require.Equal(t, partition.PartitionTypeFAT32LBA, partition.SynthesizeType(0xFFFFFFF))
}

func TestProtectiveMBRDetection(t *testing.T) {
	mbr := partition.NewProtectiveMBR(1000000)
	require.True(t, mbr.IsProtectiveMBR())

	sector, err := partition.WriteMBR(mbr, nil)
	require.NoError(t, err)
	require.Equal(t, fatguard.SchemeGPT, partition.DetectScheme(sector))
}
