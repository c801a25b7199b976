package lfn

import (
	"time"

	"github.com/embedfat/fatguard"
	"github.com/embedfat/fatguard/fatcore"
)

// slotFree reports whether a directory slot is free or deleted, i.e.
// available for reuse by an insert.
func slotFree(raw []byte) bool {
	return raw[0] == fatguard.DirentFree || raw[0] == fatguard.DirentDeleted
}

// findFreeRun scans dir for a run of n consecutive free/deleted slots,
// starting a new candidate run at the next free slot each time a non-free
// slot breaks one. Growing the directory (via Grow) is the caller's
// responsibility once this returns notFound.
func findFreeRun(dir fatcore.DirStream, n int) (start int, found bool, err error) {
	runStart := -1
	runLen := 0

	for i := 0; i < dir.NumSlots(); i++ {
		raw, err := dir.Get(i)
		if err != nil {
			return 0, false, err
		}
		if raw[0] == fatguard.DirentFree {
			// Everything from here to the end of the directory is free;
			// the run succeeds unless the directory ends first.
			if runStart < 0 {
				runStart = i
			}
			runLen = i - runStart + 1
			if runLen >= n {
				return runStart, true, nil
			}
			continue
		}
		if slotFree(raw) {
			if runStart < 0 {
				runStart = i
			}
			runLen = i - runStart + 1
			if runLen >= n {
				return runStart, true, nil
			}
			continue
		}
		runStart = -1
		runLen = 0
	}
	return 0, false, nil
}

// InsertResult reports where an inserted entry group landed.
type InsertResult struct {
	SFNSlot  int
	LFNSlots []int
}

// InsertName writes the LFN group (if any) plus the SFN for name into dir,
// allocating new clusters as needed, per spec §4.4.5. attrs is the SFN's
// attribute byte; firstCluster/size are the new entry's initial field
// values (0/0 for a freshly created empty file or directory).
func InsertName(dir fatcore.DirStream, name string, attrs uint8, firstCluster fatcore.ClusterID, size uint32, existingShortNames []string) (*InsertResult, error) {
	if err := ValidateLongName(name); err != nil {
		return nil, err
	}

	short, err := GenerateShortName(name, existingShortNames)
	if err != nil {
		return nil, err
	}

	normalized := NormalizeLongName(name)
	var longEntries [][]byte
	if short.NeedsLFN {
		checksum := fatcore.Checksum(short.Base, short.Ext)
		longEntries = EncodeLongName(normalized, checksum)
	}

	needed := len(longEntries) + 1
	start, found, err := findFreeRun(dir, needed)
	if err != nil {
		return nil, err
	}
	if !found {
		for {
			ok, err := dir.Grow()
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fatguard.ErrDiskFull
			}
			start, found, err = findFreeRun(dir, needed)
			if err != nil {
				return nil, err
			}
			if found {
				break
			}
		}
	}

	lfnSlots := make([]int, 0, len(longEntries))
	for i, entry := range longEntries {
		slot := start + i
		if err := dir.Put(slot, entry); err != nil {
			return nil, err
		}
		lfnSlots = append(lfnSlots, slot)
	}

	sfnSlot := start + len(longEntries)
	now := time.Now()
	sfnRaw := fatcore.EncodeSFN(short.Base, short.Ext, attrs, firstCluster, size, now, now, now)
	if err := dir.Put(sfnSlot, sfnRaw); err != nil {
		return nil, err
	}

	return &InsertResult{SFNSlot: sfnSlot, LFNSlots: lfnSlots}, nil
}
