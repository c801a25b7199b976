package fatcore_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/embedfat/fatguard"
	"github.com/embedfat/fatguard/fatcore"
)

// buildFAT16Sector hand-assembles a minimal FAT16 boot sector byte image
// matching fatcore.RawBPB's field layout.
func buildFAT16Sector(bytesPerSector uint16, sectorsPerCluster uint8, reservedSectors uint16, numFATs uint8, rootEntryCount uint16, totalSectors16 uint16, sectorsPerFAT16 uint16) []byte {
	sector := make([]byte, 512)
	sector[0], sector[1], sector[2] = 0xEB, 0x3C, 0x90
	binary.LittleEndian.PutUint16(sector[11:13], bytesPerSector)
	sector[13] = sectorsPerCluster
	binary.LittleEndian.PutUint16(sector[14:16], reservedSectors)
	sector[16] = numFATs
	binary.LittleEndian.PutUint16(sector[17:19], rootEntryCount)
	binary.LittleEndian.PutUint16(sector[19:21], totalSectors16)
	sector[21] = 0xF8
	binary.LittleEndian.PutUint16(sector[22:24], sectorsPerFAT16)
	sector[510] = 0x55
	sector[511] = 0xAA
	return sector
}

func TestParseBPBFAT16(t *testing.T) {
	sector := buildFAT16Sector(512, 4, 1, 2, 512, 65535, 256)

	bpb, err := fatcore.ParseBPB(sector)
	require.NoError(t, err)
	require.Equal(t, fatguard.FAT16, bpb.Variant)
	require.EqualValues(t, 256, bpb.SectorsPerFAT)
	require.EqualValues(t, 512, bpb.TotalFATSectors)
	require.EqualValues(t, 32, bpb.RootDirSectors)
	require.EqualValues(t, 2048, bpb.BytesPerCluster)
}

func TestParseBPBRejectsBadBytesPerSector(t *testing.T) {
	sector := buildFAT16Sector(500, 4, 1, 2, 512, 65535, 256)
	_, err := fatcore.ParseBPB(sector)
	require.Error(t, err)
}

func TestParseBPBRejectsBadSectorsPerCluster(t *testing.T) {
	sector := buildFAT16Sector(512, 3, 1, 2, 512, 65535, 256)
	_, err := fatcore.ParseBPB(sector)
	require.Error(t, err)
}

func TestClusterToSector(t *testing.T) {
	sector := buildFAT16Sector(512, 4, 1, 2, 512, 65535, 256)
	bpb, err := fatcore.ParseBPB(sector)
	require.NoError(t, err)

	require.EqualValues(t, bpb.FirstDataSector, bpb.ClusterToSector(2))
	require.EqualValues(t, bpb.FirstDataSector+4, bpb.ClusterToSector(3))
}
