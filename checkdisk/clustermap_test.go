package checkdisk_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/embedfat/fatguard/checkdisk"
	"github.com/embedfat/fatguard/fatcore"
)

func TestClusterMapAddDetectsDuplicate(t *testing.T) {
	m := checkdisk.NewClusterMap(2, 16)
	require.Equal(t, checkdisk.AddOK, m.Add(5))
	require.Equal(t, checkdisk.AddDuplicate, m.Add(5))
}

func TestClusterMapAddOutOfRange(t *testing.T) {
	m := checkdisk.NewClusterMap(2, 16)
	require.Equal(t, checkdisk.AddOutOfRange, m.Add(1))
	require.Equal(t, checkdisk.AddOutOfRange, m.Add(18))
}

func TestLostClustersFindsUnreachableChain(t *testing.T) {
	fat := newTestFAT(t)

	head, err := fat.AllocateClusterChain(3)
	require.NoError(t, err)
	require.EqualValues(t, 2, head)

	// Orphan clusters 3/4 by cutting cluster 2's link without freeing them.
	require.NoError(t, fat.MarkEOC(2))

	m := checkdisk.NewClusterMap(2, int(fat.BPB().TotalClusters))
	require.Equal(t, checkdisk.AddOK, m.Add(2))

	heads, err := checkdisk.LostClusters(fat, m)
	require.NoError(t, err)
	require.Equal(t, []fatcore.ClusterID{3}, heads)
}
