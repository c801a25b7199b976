package checkdisk

import (
	"github.com/embedfat/fatguard"
	"github.com/embedfat/fatguard/fatcore"
)

// WindowBytes is the default Cluster Map window size in bytes, sized so a
// single window covers every cluster of a FAT16 volume without the caller
// needing to iterate windows; FAT32 callers with more clusters than this
// covers should loop, advancing FirstClusterID by the window's
// NumClusters each Run call (spec §4.5.2).
const WindowBytes = 8192

// AbortFlag is the process-wide FS_FAT_AbortCheckDisk poll point from spec
// §5: any caller can set it; Run observes it before each non-trivial
// step.
type AbortFlag struct {
	abort bool
}

// Set raises the flag.
func (f *AbortFlag) Set() { f.abort = true }

// Clear lowers the flag, for reuse across sessions.
func (f *AbortFlag) Clear() { f.abort = false }

// IsSet reports the flag's current state.
func (f *AbortFlag) IsSet() bool { return f.abort }

// Options configures one Run invocation.
type Options struct {
	// Callback is invoked once per finding; required.
	Callback Callback
	// MaxRecursionDepth bounds subdirectory descent, per spec §4.5.7. Zero
	// means "don't descend into any subdirectory" (only the root is
	// walked); the root counts as depth 0.
	MaxRecursionDepth int
	// Abort is polled before each non-trivial step. Nil means never abort.
	Abort *AbortFlag
	// FirstClusterID/NumClusters select this call's Cluster Map window.
	// NumClusters defaults to WindowBytes*8 clusters when zero.
	FirstClusterID fatcore.ClusterID
	NumClusters    int
}

// session carries the state one Run call threads through the recursive
// walk: the mounted FAT, the window being checked, and the bookkeeping
// that lets the walk return after the first finding (bounded work, spec
// §4.5.1).
type session struct {
	fat      *fatcore.FAT
	cm       *ClusterMap
	opts     Options
	startWC  uint64
	reported bool
	result   Result
}

// Run performs one bounded-work slice of CheckDisk against the cluster
// window described by opts, per spec §4.5.1-§4.5.7. It returns as soon as
// one finding has been handled (ResultRetry), the window is exhausted
// clean (ResultOK), the recursion cap was hit (ResultMaxRecursion), or an
// abort was observed (ResultAbort).
func Run(fat *fatcore.FAT, opts Options) (Result, error) {
	if opts.Callback == nil {
		return 0, fatguard.ErrInvalidArgument
	}
	numClusters := opts.NumClusters
	if numClusters == 0 {
		numClusters = WindowBytes * 8
	}
	first := opts.FirstClusterID
	if first == 0 {
		first = fatguard.FirstDataClusterIndex
	}

	sess := &session{
		fat:     fat,
		cm:      NewClusterMap(first, numClusters),
		opts:    opts,
		startWC: fat.WriteCounter(),
		result:  ResultOK,
	}

	root, err := fatcore.NewRootDirStream(fat)
	if err != nil {
		return 0, err
	}

	var rootCluster fatcore.ClusterID
	if fat.BPB().Variant == fatguard.FAT32 {
		rootCluster = fatcore.ClusterID(fat.BPB().RootCluster())
		rootPos := DirPos{Slot: -1}
		result, err := checkDirectoryChain(fat, sess.cm, root, rootPos, rootCluster, opts.Callback)
		if err != nil {
			return 0, err
		}
		if result != ResultOK {
			return result, nil
		}
	}

	if err := sess.walkDirectory(root, 0, rootCluster); err != nil {
		return 0, err
	}
	if sess.reported {
		return sess.result, nil
	}

	heads, err := LostClusters(fat, sess.cm)
	if err != nil {
		return 0, err
	}
	if len(heads) > 0 {
		if sess.pollAbort() {
			return ResultAbort, nil
		}
		finding := Finding{Kind: KindLostChain, Cluster: heads[0], Pos: DirPos{Slot: -1}}
		action := opts.Callback(finding)
		if action == Abort {
			return ResultAbort, nil
		}
		return recoverLostChain(fat, root, heads[0], action)
	}

	if fat.WriteCounter() != sess.startWC {
		// Another subsystem mutated the allocation table while this slice
		// ran; spec §5 calls for restarting from the outer loop rather
		// than trusting a window that may now be stale.
		return ResultRetry, nil
	}

	return ResultOK, nil
}

func (s *session) pollAbort() bool {
	return s.opts.Abort != nil && s.opts.Abort.IsSet()
}

// walkDirectory recurses into dir (whose own first cluster is
// selfCluster, 0 for the root directory's fixed area), applying every
// check in spec §4.5.3/§4.5.5/§4.5.6. It stops and records the outcome as
// soon as one finding is handled.
func (s *session) walkDirectory(dir fatcore.DirStream, depth int, selfCluster fatcore.ClusterID) error {
	if s.reported {
		return nil
	}
	if s.pollAbort() {
		s.reported = true
		s.result = ResultAbort
		return nil
	}

	groups, err := scanLongGroups(dir)
	if err != nil {
		return err
	}
	for _, g := range groups {
		if err := validateLongGroup(g); err != nil {
			finding := Finding{Kind: KindInvalidLongEntryGroup, Dir: dir, Pos: DirPos{DirFirstCluster: selfCluster, Slot: g.slots[0]}, Message: err.Error()}
			action := s.opts.Callback(finding)
			if action == Abort {
				s.reported = true
				s.result = ResultAbort
				return nil
			}
			if action != DoNotRepair {
				if err := repairLongGroup(dir, g); err != nil {
					return err
				}
			}
			s.reported = true
			s.result = ResultRetry
			return nil
		}
	}

	entries, err := scanSFNEntries(dir)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if s.pollAbort() {
			s.reported = true
			s.result = ResultAbort
			return nil
		}

		if isDotName(e.sfn.Name8_3) {
			continue
		}

		if err := validateEntryStructure(s.fat.BPB(), e); err != nil {
			pos := DirPos{DirFirstCluster: selfCluster, Slot: e.slot}
			finding := Finding{Kind: KindInvalidDirectoryEntry, Dir: dir, Pos: pos, Message: err.Error()}
			action := s.opts.Callback(finding)
			if action == Abort {
				s.reported = true
				s.result = ResultAbort
				return nil
			}
			if action != DoNotRepair {
				if err := markDeleted(dir, e.slot); err != nil {
					return err
				}
			}
			s.reported = true
			s.result = ResultRetry
			return nil
		}

		if e.sfn.Attributes&fatguard.AttrDirectory != 0 {
			if err := s.checkSubdirectory(dir, e, depth, selfCluster); err != nil {
				return err
			}
			if s.reported {
				return nil
			}
			continue
		}

		if e.sfn.Attributes&fatguard.AttrVolumeID != 0 {
			continue
		}

		pos := DirPos{DirFirstCluster: selfCluster, Slot: e.slot}
		result, err := checkFileConsistency(s.fat, s.cm, dir, pos, e, s.opts.Callback)
		if err != nil {
			return err
		}
		if result != ResultOK {
			s.reported = true
			s.result = result
			return nil
		}
	}

	return nil
}

func isDotName(name string) bool {
	return name == "." || name == ".."
}

// checkSubdirectory validates a subdirectory's own "." / ".." invariants
// and demotion rules (spec §4.5.5) before recursing into it.
func (s *session) checkSubdirectory(parent fatcore.DirStream, e sfnEntry, depth int, parentSelfCluster fatcore.ClusterID) error {
	pos := DirPos{DirFirstCluster: parentSelfCluster, Slot: e.slot}

	if e.sfn.Size != 0 {
		finding := Finding{Kind: KindDirectoryDemoted, Dir: parent, Pos: pos, Message: "directory entry has non-zero FileSize"}
		action := s.opts.Callback(finding)
		if action == Abort {
			s.reported = true
			s.result = ResultAbort
			return nil
		}
		if action != DoNotRepair {
			if err := demoteToFile(parent, e.slot); err != nil {
				return err
			}
		}
		s.reported = true
		s.result = ResultRetry
		return nil
	}

	if e.sfn.FirstCluster == 0 {
		// No allocated content at all: nothing further to validate.
		return nil
	}

	value, err := s.fat.ReadEntry(e.sfn.FirstCluster)
	if err != nil {
		return err
	}

	childDir, err := fatcore.NewChainDirStream(s.fat, e.sfn.FirstCluster)
	if err != nil {
		return err
	}

	dot, dotdot, err := readDotEntries(childDir)
	if err != nil {
		return err
	}

	if value == 0 && dot.present && dot.cluster == e.sfn.FirstCluster {
		// FAT lost the link but the directory content proves it's a live
		// directory: repair the FAT, not the entry (spec §4.5.5).
		if err := repairOrphanedDirectoryFAT(s.fat, e.sfn.FirstCluster); err != nil {
			return err
		}
		s.reported = true
		s.result = ResultRetry
		return nil
	}

	if !dot.present || dot.cluster != e.sfn.FirstCluster || !dotdot.present {
		finding := Finding{Kind: KindDirectoryMissingDotEntries, Dir: parent, Pos: pos, Message: "missing or malformed '.' / '..' entries"}
		action := s.opts.Callback(finding)
		if action == Abort {
			s.reported = true
			s.result = ResultAbort
			return nil
		}
		if action != DoNotRepair {
			if err := demoteToFile(parent, e.slot); err != nil {
				return err
			}
		}
		s.reported = true
		s.result = ResultRetry
		return nil
	}

	chainResult, err := checkDirectoryChain(s.fat, s.cm, parent, pos, e.sfn.FirstCluster, s.opts.Callback)
	if err != nil {
		return err
	}
	if chainResult != ResultOK {
		s.reported = true
		s.result = chainResult
		return nil
	}

	if depth >= s.opts.MaxRecursionDepth {
		s.reported = true
		s.result = ResultMaxRecursion
		return nil
	}

	return s.walkDirectory(childDir, depth+1, e.sfn.FirstCluster)
}
