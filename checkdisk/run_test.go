package checkdisk_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/embedfat/fatguard"
	"github.com/embedfat/fatguard/checkdisk"
	"github.com/embedfat/fatguard/fatcore"
	"github.com/embedfat/fatguard/lfn"
)

// writeDotEntries mirrors the package's own helper, kept here so this
// external test doesn't need access to unexported symbols.
func writeDotEntries(t *testing.T, dir fatcore.DirStream, self, parent fatcore.ClusterID) {
	t.Helper()
	var dotBase, dotdotBase [8]byte
	copy(dotBase[:], ".       ")
	copy(dotdotBase[:], "..      ")
	var ext [3]byte
	copy(ext[:], "   ")
	var zero time.Time
	require.NoError(t, dir.Put(0, fatcore.EncodeSFN(dotBase, ext, fatguard.AttrDirectory, self, 0, zero, zero, zero)))
	require.NoError(t, dir.Put(1, fatcore.EncodeSFN(dotdotBase, ext, fatguard.AttrDirectory, parent, 0, zero, zero, zero)))
}

func lookup(t *testing.T, dir fatcore.DirStream, name string) *lfn.LookupResult {
	t.Helper()
	result, err := lfn.LookupByName(dir, name, 0)
	require.NoError(t, err)
	return result
}

// TestRunDeletesLostChain drives a full lost-chain scenario through Run:
// a file's chain is cut short of its recorded size (a FEW_CLUSTER
// finding), and the clusters stranded beyond the cut become a lost chain
// that a second Run call discovers and frees.
func TestRunDeletesLostChain(t *testing.T) {
	fat := newTestFAT(t)
	root, err := fatcore.NewRootDirStream(fat)
	require.NoError(t, err)

	head, _ := createFile(t, fat, root, "A.TXT", 3, nil)
	require.EqualValues(t, 2, head)
	// Cut the chain after its first cluster without freeing 3/4: the
	// directory entry still claims 3 clusters' worth of size.
	require.NoError(t, fat.MarkEOC(head))

	opts := testOptions(fat, always(checkdisk.DeleteClusters))

	result, err := checkdisk.Run(fat, opts)
	require.NoError(t, err)
	require.Equal(t, checkdisk.ResultRetry, result)

	entry := lookup(t, root, "A.TXT")
	require.EqualValues(t, fat.BPB().BytesPerCluster, entry.SFN.Size)

	result, err = checkdisk.Run(fat, opts)
	require.NoError(t, err)
	require.Equal(t, checkdisk.ResultRetry, result)

	value3, err := fat.ReadEntry(3)
	require.NoError(t, err)
	require.EqualValues(t, 0, value3)
	value4, err := fat.ReadEntry(4)
	require.NoError(t, err)
	require.EqualValues(t, 0, value4)

	result, err = checkdisk.Run(fat, opts)
	require.NoError(t, err)
	require.Equal(t, checkdisk.ResultOK, result)
}

// TestRunSalvagesLostChainIntoFoundDirectory exercises the same setup as
// TestRunDeletesLostChain but with SaveClusters chosen at the lost-chain
// finding, verifying the stranded clusters land in FOUND.000/FILE0000.CHK.
func TestRunSalvagesLostChainIntoFoundDirectory(t *testing.T) {
	fat := newTestFAT(t)
	root, err := fatcore.NewRootDirStream(fat)
	require.NoError(t, err)

	head, _ := createFile(t, fat, root, "A.TXT", 3, nil)
	require.NoError(t, fat.MarkEOC(head))

	opts := testOptions(fat, always(checkdisk.SaveClusters))

	result, err := checkdisk.Run(fat, opts)
	require.NoError(t, err)
	require.Equal(t, checkdisk.ResultRetry, result)

	result, err = checkdisk.Run(fat, opts)
	require.NoError(t, err)
	require.Equal(t, checkdisk.ResultRetry, result)

	foundEntry := lookup(t, root, "FOUND.000")
	require.NotZero(t, foundEntry.SFN.Attributes&fatguard.AttrDirectory)

	foundDir, err := fatcore.NewChainDirStream(fat, foundEntry.SFN.FirstCluster)
	require.NoError(t, err)

	salvaged := lookup(t, foundDir, "FILE0000.CHK")
	require.EqualValues(t, 3, salvaged.SFN.FirstCluster)
	require.EqualValues(t, 2*fat.BPB().BytesPerCluster, salvaged.SFN.Size)

	result, err = checkdisk.Run(fat, opts)
	require.NoError(t, err)
	require.Equal(t, checkdisk.ResultOK, result)
}

// TestRunDemotesDirectoryWithNonZeroSize covers the §4.5.5 directory
// demotion rule: a directory entry is never supposed to carry a non-zero
// FileSize, and Run is expected to clear its directory attribute rather
// than try to interpret the size.
func TestRunDemotesDirectoryWithNonZeroSize(t *testing.T) {
	fat := newTestFAT(t)
	root, err := fatcore.NewRootDirStream(fat)
	require.NoError(t, err)

	head, err := fat.AllocateClusterChain(1)
	require.NoError(t, err)
	_, err = lfn.InsertName(root, "SUBDIR", fatguard.AttrDirectory, head, 0, nil)
	require.NoError(t, err)

	subdir, err := fatcore.NewChainDirStream(fat, head)
	require.NoError(t, err)
	writeDotEntries(t, subdir, head, 0)

	entry := lookup(t, root, "SUBDIR")
	raw, err := root.Get(entry.SFNSlot)
	require.NoError(t, err)
	corrupted := make([]byte, len(raw))
	copy(corrupted, raw)
	corrupted[28] = 1 // force FileSize != 0
	require.NoError(t, root.Put(entry.SFNSlot, corrupted))

	opts := testOptions(fat, always(checkdisk.DeleteClusters))
	result, err := checkdisk.Run(fat, opts)
	require.NoError(t, err)
	require.Equal(t, checkdisk.ResultRetry, result)

	after := lookup(t, root, "SUBDIR")
	require.Zero(t, after.SFN.Attributes&fatguard.AttrDirectory)
	require.EqualValues(t, 1, after.SFN.Size)
}

// TestRunDetectsCrossLinkedCluster covers §4.5.2/§4.5.3's CROSSLINKED_CLUSTER
// finding: two files sharing a cluster, detected once the second file's
// chain is walked and the cluster map reports a duplicate add.
func TestRunDetectsCrossLinkedCluster(t *testing.T) {
	fat := newTestFAT(t)
	root, err := fatcore.NewRootDirStream(fat)
	require.NoError(t, err)

	headA, _ := createFile(t, fat, root, "A.TXT", 2, nil)
	_, _ = createFile(t, fat, root, "B.TXT", 2, nil)

	entryB := lookup(t, root, "B.TXT")
	// Point B's first cluster at A's second cluster, creating a cross-link.
	aSecond, err := fat.ReadEntry(headA)
	require.NoError(t, err)
	raw, err := root.Get(entryB.SFNSlot)
	require.NoError(t, err)
	corrupted := make([]byte, len(raw))
	copy(corrupted, raw)
	corrupted[26] = byte(aSecond)
	corrupted[27] = byte(aSecond >> 8)
	require.NoError(t, root.Put(entryB.SFNSlot, corrupted))

	opts := testOptions(fat, always(checkdisk.DeleteClusters))
	result, err := checkdisk.Run(fat, opts)
	require.NoError(t, err)
	require.Equal(t, checkdisk.ResultRetry, result)

	after := lookup(t, root, "B.TXT")
	require.EqualValues(t, 0, after.SFN.Size)
	require.EqualValues(t, 0, after.SFN.FirstCluster)
}
