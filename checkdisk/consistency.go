package checkdisk

import (
	"encoding/binary"

	"github.com/embedfat/fatguard"
	"github.com/embedfat/fatguard/fatcore"
)

func ceilDivU32(numerator, denominator uint32) uint32 {
	if denominator == 0 {
		return 0
	}
	return (numerator + denominator - 1) / denominator
}

// setDirentClusterSize overwrites the first-cluster and size fields of the
// short entry at slot, used by every repair in this file.
func setDirentClusterSize(dir fatcore.DirStream, slot int, cluster fatcore.ClusterID, size uint32) error {
	raw, err := dir.Get(slot)
	if err != nil {
		return err
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	binary.LittleEndian.PutUint16(out[20:22], uint16(uint32(cluster)>>16))
	binary.LittleEndian.PutUint16(out[26:28], uint16(uint32(cluster)&0xFFFF))
	binary.LittleEndian.PutUint32(out[28:32], size)
	return dir.Put(slot, out)
}

// checkFileConsistency runs spec §4.5.3 against one file entry. It reports
// at most one finding per call (bounded work): on a finding it invokes cb,
// applies the repair described by the spec unless the callback chose
// DoNotRepair, and returns ResultRetry. A fully consistent file returns
// ResultOK having added every one of its clusters to cm.
func checkFileConsistency(fat *fatcore.FAT, cm *ClusterMap, dir fatcore.DirStream, pos DirPos, e sfnEntry, cb Callback) (Result, error) {
	bpb := fat.BPB()
	sfn := e.sfn

	if sfn.Size == 0 && sfn.FirstCluster != 0 {
		finding := Finding{Kind: KindZeroLengthFileHasCluster, Dir: dir, Pos: pos, Cluster: sfn.FirstCluster}
		action := cb(finding)
		if action == Abort {
			return ResultAbort, nil
		}
		if action != DoNotRepair {
			if err := fat.FreeChain(sfn.FirstCluster, 0); err != nil {
				return 0, err
			}
			if err := setDirentClusterSize(dir, pos.Slot, 0, 0); err != nil {
				return 0, err
			}
		}
		return ResultRetry, nil
	}

	if sfn.FirstCluster == 0 {
		if sfn.Size > 0 {
			finding := Finding{Kind: KindFewClusters, Dir: dir, Pos: pos, ExpectedClusters: ceilDivU32(sfn.Size, bpb.BytesPerCluster), ActualClusters: 0}
			action := cb(finding)
			if action == Abort {
				return ResultAbort, nil
			}
			if action != DoNotRepair {
				if err := setDirentClusterSize(dir, pos.Slot, 0, 0); err != nil {
					return 0, err
				}
			}
			return ResultRetry, nil
		}
		return ResultOK, nil
	}

	expected := ceilDivU32(sfn.Size, bpb.BytesPerCluster)
	current := sfn.FirstCluster
	var prev fatcore.ClusterID
	var i uint32

	for {
		i++

		if uint32(current) < fatguard.FirstDataClusterIndex || uint32(current)-fatguard.FirstDataClusterIndex >= bpb.TotalClusters {
			finding := Finding{Kind: KindInvalidCluster, Dir: dir, Pos: pos, Cluster: current, ActualClusters: i - 1}
			action := cb(finding)
			if action == Abort {
				return ResultAbort, nil
			}
			if action != DoNotRepair {
				if err := truncateFileChain(fat, dir, pos.Slot, prev, i-1, bpb.BytesPerCluster); err != nil {
					return 0, err
				}
			}
			return ResultRetry, nil
		}

		if i > expected {
			finding := Finding{Kind: KindShortenCluster, Dir: dir, Pos: pos, Cluster: current, ExpectedClusters: expected, ActualClusters: i}
			action := cb(finding)
			if action == Abort {
				return ResultAbort, nil
			}
			if action != DoNotRepair {
				if err := fat.FreeChain(current, 0); err != nil {
					return 0, err
				}
				if err := fat.MarkEOC(prev); err != nil {
					return 0, err
				}
			}
			return ResultRetry, nil
		}

		switch cm.Add(current) {
		case AddDuplicate:
			finding := Finding{Kind: KindCrossLinkedCluster, Dir: dir, Pos: pos, Cluster: current, ActualClusters: i}
			action := cb(finding)
			if action == Abort {
				return ResultAbort, nil
			}
			if action != DoNotRepair {
				if err := truncateFileChain(fat, dir, pos.Slot, prev, i-1, bpb.BytesPerCluster); err != nil {
					return 0, err
				}
			}
			return ResultRetry, nil
		case AddOutOfRange:
			// Cluster belongs to a later window; this call's window can't
			// adjudicate it, so it isn't added and isn't a finding here.
		}

		value, err := fat.ReadEntry(current)
		if err != nil {
			return 0, err
		}

		if fatcore.IsEndOfChain(bpb.Variant, value) {
			if i < expected {
				finding := Finding{Kind: KindFewClusters, Dir: dir, Pos: pos, ExpectedClusters: expected, ActualClusters: i}
				action := cb(finding)
				if action == Abort {
					return ResultAbort, nil
				}
				if action != DoNotRepair {
					if err := setDirentClusterSize(dir, pos.Slot, sfn.FirstCluster, i*bpb.BytesPerCluster); err != nil {
						return 0, err
					}
				}
				return ResultRetry, nil
			}
			return ResultOK, nil
		}

		if value == 0 {
			if i < expected {
				finding := Finding{Kind: KindFewClusters, Dir: dir, Pos: pos, ExpectedClusters: expected, ActualClusters: i}
				action := cb(finding)
				if action == Abort {
					return ResultAbort, nil
				}
				if action != DoNotRepair {
					if err := setDirentClusterSize(dir, pos.Slot, sfn.FirstCluster, i*bpb.BytesPerCluster); err != nil {
						return 0, err
					}
				}
				return ResultRetry, nil
			}
			finding := Finding{Kind: KindClusterNotEOC, Dir: dir, Pos: pos, Cluster: current, ActualClusters: i}
			action := cb(finding)
			if action == Abort {
				return ResultAbort, nil
			}
			if action != DoNotRepair {
				if err := fat.MarkEOC(current); err != nil {
					return 0, err
				}
			}
			return ResultRetry, nil
		}

		prev = current
		current = fatcore.ClusterID(value)
	}
}

// checkDirectoryChain adds every cluster of a subdirectory's own chain to
// cm, per spec §4.5.2's "for each cluster in each chain, call add" — this
// covers directory chains, not just file chains. Unlike file consistency
// there's no expected length to compare against; only range and cross-link
// violations apply.
func checkDirectoryChain(fat *fatcore.FAT, cm *ClusterMap, dir fatcore.DirStream, pos DirPos, first fatcore.ClusterID, cb Callback) (Result, error) {
	bpb := fat.BPB()
	current := first
	var prev fatcore.ClusterID
	var i uint32

	for {
		i++

		if uint32(current) < fatguard.FirstDataClusterIndex || uint32(current)-fatguard.FirstDataClusterIndex >= bpb.TotalClusters {
			finding := Finding{Kind: KindInvalidCluster, Dir: dir, Pos: pos, Cluster: current, ActualClusters: i - 1}
			action := cb(finding)
			if action == Abort {
				return ResultAbort, nil
			}
			if action != DoNotRepair && prev != 0 {
				if err := fat.MarkEOC(prev); err != nil {
					return 0, err
				}
			}
			return ResultRetry, nil
		}

		switch cm.Add(current) {
		case AddDuplicate:
			finding := Finding{Kind: KindCrossLinkedCluster, Dir: dir, Pos: pos, Cluster: current, ActualClusters: i}
			action := cb(finding)
			if action == Abort {
				return ResultAbort, nil
			}
			if action != DoNotRepair && prev != 0 {
				if err := fat.MarkEOC(prev); err != nil {
					return 0, err
				}
			}
			return ResultRetry, nil
		case AddOutOfRange:
		}

		value, err := fat.ReadEntry(current)
		if err != nil {
			return 0, err
		}
		if fatcore.IsEndOfChain(bpb.Variant, value) || value == 0 {
			return ResultOK, nil
		}

		prev = current
		current = fatcore.ClusterID(value)
	}
}

// truncateFileChain implements the "truncate to previous cluster"/
// "truncate file to i * bytes_per_cluster" repairs shared by
// INVALID_CLUSTER and CROSSLINKED_CLUSTER: stop the chain at prev (or
// empty the file if the very first cluster was the offending one) and
// shrink the size field to match.
func truncateFileChain(fat *fatcore.FAT, dir fatcore.DirStream, slot int, prev fatcore.ClusterID, keptClusters uint32, bytesPerCluster uint32) error {
	if prev == 0 {
		return setDirentClusterSize(dir, slot, 0, 0)
	}
	if err := fat.MarkEOC(prev); err != nil {
		return err
	}
	raw, err := dir.Get(slot)
	if err != nil {
		return err
	}
	rawSFN := fatcore.ParseSFN(raw)
	firstCluster := fatcore.ClusterID((uint32(rawSFN.FirstClusterHigh) << 16) | uint32(rawSFN.FirstClusterLow))
	return setDirentClusterSize(dir, slot, firstCluster, keptClusters*bytesPerCluster)
}
