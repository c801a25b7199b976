package checkdisk_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/embedfat/fatguard"
	"github.com/embedfat/fatguard/blockio"
	"github.com/embedfat/fatguard/checkdisk"
	"github.com/embedfat/fatguard/fatcore"
	"github.com/embedfat/fatguard/lfn"
)

// buildFAT16Sector mirrors fatcore's own test fixture builder; duplicated
// here because fatcore_test's helper isn't exported across packages.
func buildFAT16Sector(bytesPerSector uint16, sectorsPerCluster uint8, reservedSectors uint16, numFATs uint8, rootEntryCount uint16, totalSectors16 uint16, sectorsPerFAT16 uint16) []byte {
	sector := make([]byte, 512)
	sector[0], sector[1], sector[2] = 0xEB, 0x3C, 0x90
	putU16(sector[11:13], bytesPerSector)
	sector[13] = sectorsPerCluster
	putU16(sector[14:16], reservedSectors)
	sector[16] = numFATs
	putU16(sector[17:19], rootEntryCount)
	putU16(sector[19:21], totalSectors16)
	sector[21] = 0xF8
	putU16(sector[22:24], sectorsPerFAT16)
	sector[510] = 0x55
	sector[511] = 0xAA
	return sector
}

func putU16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

const testTotalSectors = 4300

func newTestFAT(t *testing.T) *fatcore.FAT {
	t.Helper()
	sector := buildFAT16Sector(512, 1, 1, 2, 512, testTotalSectors, 64)
	bpb, err := fatcore.ParseBPB(sector)
	require.NoError(t, err)
	require.Equal(t, fatguard.FAT16, bpb.Variant)

	backing := make([]byte, uint(bpb.Raw.BytesPerSector)*testTotalSectors)
	copy(backing, sector)
	stream := bytesextra.NewReadWriteSeeker(backing)
	vol := blockio.New(stream, uint(bpb.Raw.BytesPerSector), testTotalSectors, 0)
	return fatcore.Mount(bpb, vol)
}

func testOptions(fat *fatcore.FAT, cb checkdisk.Callback) checkdisk.Options {
	return checkdisk.Options{
		Callback:          cb,
		MaxRecursionDepth: 2,
		FirstClusterID:    fatguard.FirstDataClusterIndex,
		NumClusters:       int(fat.BPB().TotalClusters),
	}
}

func createFile(t *testing.T, fat *fatcore.FAT, root fatcore.DirStream, name string, numClusters int, existing []string) (fatcore.ClusterID, int) {
	t.Helper()
	head, err := fat.AllocateClusterChain(numClusters)
	require.NoError(t, err)
	size := uint32(numClusters) * fat.BPB().BytesPerCluster
	result, err := lfn.InsertName(root, name, fatguard.AttrArchive, head, size, existing)
	require.NoError(t, err)
	return head, result.SFNSlot
}

func always(action checkdisk.Action) checkdisk.Callback {
	return func(checkdisk.Finding) checkdisk.Action { return action }
}
