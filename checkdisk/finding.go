package checkdisk

import "github.com/embedfat/fatguard/fatcore"

// Kind identifies which check raised a Finding, named after the spec's own
// condition labels (§4.5.3/§4.5.5/§4.5.6).
type Kind int

const (
	KindZeroLengthFileHasCluster Kind = iota // "0FILE", §4.5.3 step 1
	KindShortenCluster                       // §4.5.3 step 3
	KindInvalidCluster                       // §4.5.3 step 3
	KindCrossLinkedCluster                   // §4.5.2, §4.5.3 step 3
	KindClusterNotEOC                        // §4.5.3 step 4
	KindFewClusters                          // §4.5.3 step 5
	KindLostChain                            // §4.5.2/§4.5.4
	KindInvalidDirectoryEntry                // §4.5.5
	KindDirectoryMissingDotEntries           // §4.5.5
	KindDirectoryDemoted                     // §4.5.5 (FileSize != 0 on a directory)
	KindInvalidLongEntryGroup                // §4.5.6
)

func (k Kind) String() string {
	switch k {
	case KindZeroLengthFileHasCluster:
		return "0FILE"
	case KindShortenCluster:
		return "SHORTEN_CLUSTER"
	case KindInvalidCluster:
		return "INVALID_CLUSTER"
	case KindCrossLinkedCluster:
		return "CROSSLINKED_CLUSTER"
	case KindClusterNotEOC:
		return "CLUSTER_NOT_EOC"
	case KindFewClusters:
		return "FEW_CLUSTER"
	case KindLostChain:
		return "LOST_CHAIN"
	case KindInvalidDirectoryEntry:
		return "INVALID_DIRECTORY_ENTRY"
	case KindDirectoryMissingDotEntries:
		return "DIRECTORY_MISSING_DOT_ENTRIES"
	case KindDirectoryDemoted:
		return "DIRECTORY_DEMOTED"
	case KindInvalidLongEntryGroup:
		return "INVALID_LONG_ENTRY_GROUP"
	default:
		return "UNKNOWN"
	}
}

// DirPos identifies a directory entry by its parent directory's first
// cluster (0 for the FAT12/16 fixed root) and slot index within it, per
// the DirPos design note (spec §9).
type DirPos struct {
	DirFirstCluster fatcore.ClusterID
	Slot            int
}

// Finding is one reported integrity problem, passed to the session
// Callback.
type Finding struct {
	Kind Kind

	// Dir/Pos locate the offending directory entry, when Kind is one of
	// the file/directory-entry checks. Pos.Slot is -1 when Kind is
	// KindLostChain, which has no owning directory entry.
	Dir fatcore.DirStream
	Pos DirPos

	// Cluster is the cluster id implicated by the finding (the head of a
	// lost chain, the colliding cluster in a cross-link, etc).
	Cluster fatcore.ClusterID

	// ExpectedClusters/ActualClusters carry the counts a SHORTEN_CLUSTER/
	// FEW_CLUSTER/CLUSTER_NOT_EOC finding needs to compute its repair.
	ExpectedClusters uint32
	ActualClusters   uint32

	Message string
}
