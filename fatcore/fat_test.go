package fatcore_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/embedfat/fatguard/blockio"
	"github.com/embedfat/fatguard/fatcore"
)

func newMountedFAT(t *testing.T, sector []byte, totalSectors uint) *fatcore.FAT {
	t.Helper()
	bpb, err := fatcore.ParseBPB(sector)
	require.NoError(t, err)

	backing := make([]byte, uint(bpb.Raw.BytesPerSector)*totalSectors)
	copy(backing, sector)
	stream := bytesextra.NewReadWriteSeeker(backing)
	vol := blockio.New(stream, uint(bpb.Raw.BytesPerSector), totalSectors, 0)
	return fatcore.Mount(bpb, vol)
}

func TestFAT16EntryRoundTrip(t *testing.T) {
	sector := buildFAT16Sector(512, 4, 1, 2, 512, 65535, 8)
	fat := newMountedFAT(t, sector, 300)

	require.NoError(t, fat.WriteEntry(2, 5))
	value, err := fat.ReadEntry(2)
	require.NoError(t, err)
	require.EqualValues(t, 5, value)

	require.NoError(t, fat.MarkEOC(5))
	last, count, err := fat.FindLastCluster(2)
	require.NoError(t, err)
	require.EqualValues(t, 5, last)
	require.EqualValues(t, 2, count)
}

func TestFAT16AllocAndFreeChain(t *testing.T) {
	sector := buildFAT16Sector(512, 4, 1, 2, 512, 65535, 8)
	fat := newMountedFAT(t, sector, 300)

	head, err := fat.AllocateClusterChain(3)
	require.NoError(t, err)
	require.EqualValues(t, 2, head)

	_, count, err := fat.FindLastCluster(head)
	require.NoError(t, err)
	require.EqualValues(t, 3, count)

	require.NoError(t, fat.FreeChain(head, 0))
	value, err := fat.ReadEntry(head)
	require.NoError(t, err)
	require.EqualValues(t, 0, value)
}

func TestFAT32EntryPreservesTopBits(t *testing.T) {
	sector := make([]byte, 512)
	sector[0], sector[1], sector[2] = 0xEB, 0x3C, 0x90
	sector[11], sector[12] = 0x00, 0x02 // bytes per sector 512
	sector[13] = 8                      // sectors per cluster
	sector[14], sector[15] = 32, 0      // reserved sectors
	sector[16] = 2                      // num FATs
	sector[510], sector[511] = 0x55, 0xAA
	// totalSectors32 at offset 32
	putU32(sector, 32, 600000)
	// sectorsPerFAT32 at offset 36
	putU32(sector, 36, 4000)
	// RootCluster at offset 44 (within the FAT32 tail, offset 36+8=44)
	putU32(sector, 44, 2)

	bpb, err := fatcore.ParseBPB(sector)
	require.NoError(t, err)

	backing := make([]byte, 512*9000)
	copy(backing, sector)
	// Cluster 2's entry is bytes 8..11 of the first FAT sector (32); give
	// its reserved top nibble a non-zero value for the write to keep.
	backing[32*512+11] = 0xA0
	stream := bytesextra.NewReadWriteSeeker(backing)
	vol := blockio.New(stream, 512, 9000, 0)
	fat := fatcore.Mount(bpb, vol)

	require.NoError(t, fat.WriteEntry(2, 0x0FFFFFF8))
	value, err := fat.ReadEntry(2)
	require.NoError(t, err)
	require.EqualValues(t, 0x0FFFFFF8, value)
	require.True(t, fatcore.IsEndOfChain(bpb.Variant, value))

	raw, err := fat.Volume().ReadSector(32, blockio.SectorManagement)
	require.NoError(t, err)
	require.EqualValues(t, 0xAF, raw[11])
}

func putU32(buf []byte, offset int, value uint32) {
	buf[offset] = byte(value)
	buf[offset+1] = byte(value >> 8)
	buf[offset+2] = byte(value >> 16)
	buf[offset+3] = byte(value >> 24)
}
