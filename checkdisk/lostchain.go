package checkdisk

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/embedfat/fatguard"
	"github.com/embedfat/fatguard/fatcore"
	"github.com/embedfat/fatguard/lfn"
)

func shortNamesOf(entries []sfnEntry) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.sfn.Name8_3
	}
	return names
}

func splitDirentName(name8_3 string) (base, ext string) {
	idx := strings.LastIndex(name8_3, ".")
	if idx < 0 {
		return name8_3, ""
	}
	return name8_3[:idx], name8_3[idx+1:]
}

func containsName(entries []sfnEntry, name string) bool {
	for _, e := range entries {
		if strings.EqualFold(e.sfn.Name8_3, name) {
			return true
		}
	}
	return false
}

// resolveFoundDirName picks the FOUND.DDD name this session will salvage
// into: the lowest 3-digit index not already present at root, per spec
// §4.5.4 step 3.
func resolveFoundDirName(rootEntries []sfnEntry) string {
	for idx := 0; idx <= 999; idx++ {
		name := fmt.Sprintf("FOUND.%03d", idx)
		if !containsName(rootEntries, name) {
			return name
		}
	}
	return "FOUND.999"
}

// nextCheckFileIndex picks the lowest 4-digit index not already used by a
// FILEnnnn.CHK entry in existing, per spec §4.5.4 step 4.
func nextCheckFileIndex(existing []sfnEntry) int {
	taken := make(map[int]bool)
	for _, e := range existing {
		base, ext := splitDirentName(e.sfn.Name8_3)
		if !strings.EqualFold(ext, "CHK") || !strings.HasPrefix(strings.ToUpper(base), "FILE") || len(base) != 8 {
			continue
		}
		if idx, err := strconv.Atoi(base[4:]); err == nil {
			taken[idx] = true
		}
	}
	for idx := 0; idx <= 9999; idx++ {
		if !taken[idx] {
			return idx
		}
	}
	return 9999
}

// getOrCreateFoundDir opens the FOUND.DDD directory at root if it already
// exists, or creates it (with proper "." / ".." entries) if not.
func getOrCreateFoundDir(fat *fatcore.FAT, root fatcore.DirStream, rootEntries []sfnEntry, name string) (fatcore.DirStream, error) {
	for _, e := range rootEntries {
		if strings.EqualFold(e.sfn.Name8_3, name) && e.sfn.Attributes&fatguard.AttrDirectory != 0 {
			return fatcore.NewChainDirStream(fat, e.sfn.FirstCluster)
		}
	}

	head, err := fat.AllocateClusterChain(1)
	if err != nil {
		return nil, err
	}
	if head == 0 {
		return nil, fatguard.ErrDiskFull
	}

	if _, err := lfn.InsertName(root, name, fatguard.AttrDirectory, head, 0, shortNamesOf(rootEntries)); err != nil {
		return nil, err
	}

	dir, err := fatcore.NewChainDirStream(fat, head)
	if err != nil {
		return nil, err
	}
	if err := writeDotEntries(dir, head, 0); err != nil {
		return nil, err
	}
	return dir, nil
}

// writeDotEntries populates slots 0/1 of a freshly created directory with
// "." (pointing at self) and ".." (pointing at parent, 0 for root).
func writeDotEntries(dir fatcore.DirStream, self, parent fatcore.ClusterID) error {
	var dotBase, dotdotBase [8]byte
	copy(dotBase[:], ".       ")
	copy(dotdotBase[:], "..      ")
	var ext [3]byte
	copy(ext[:], "   ")

	var zero time.Time
	dotRaw := fatcore.EncodeSFN(dotBase, ext, fatguard.AttrDirectory, self, 0, zero, zero, zero)
	dotdotRaw := fatcore.EncodeSFN(dotdotBase, ext, fatguard.AttrDirectory, parent, 0, zero, zero, zero)
	if err := dir.Put(0, dotRaw); err != nil {
		return err
	}
	return dir.Put(1, dotdotRaw)
}

// recoverLostChain implements spec §4.5.4: salvage or delete one lost
// chain head, depending on the callback's chosen action.
func recoverLostChain(fat *fatcore.FAT, root fatcore.DirStream, head fatcore.ClusterID, action Action) (Result, error) {
	if action == DeleteClusters {
		if err := fat.FreeChain(head, 0); err != nil {
			return 0, err
		}
		return ResultRetry, nil
	}
	if action != SaveClusters {
		return ResultRetry, nil
	}

	last, count, err := fat.FindLastCluster(head)
	if err != nil {
		return 0, err
	}
	value, err := fat.ReadEntry(last)
	if err != nil {
		return 0, err
	}
	if !fatcore.IsEndOfChain(fat.BPB().Variant, value) {
		if err := fat.MarkEOC(last); err != nil {
			return 0, err
		}
	}

	rootEntries, err := scanSFNEntries(root)
	if err != nil {
		return 0, err
	}
	foundName := resolveFoundDirName(rootEntries)
	foundDir, err := getOrCreateFoundDir(fat, root, rootEntries, foundName)
	if err != nil {
		return 0, err
	}

	foundEntries, err := scanSFNEntries(foundDir)
	if err != nil {
		return 0, err
	}
	fileIdx := nextCheckFileIndex(foundEntries)
	fileName := fmt.Sprintf("FILE%04d.CHK", fileIdx)
	size := count * fat.BPB().BytesPerCluster

	result, err := lfn.InsertName(foundDir, fileName, fatguard.AttrArchive, head, size, shortNamesOf(foundEntries))
	if err != nil {
		return 0, err
	}

	newEntries, err := scanSFNEntries(foundDir)
	if err != nil {
		return 0, err
	}
	for _, e := range newEntries {
		if e.slot != result.SFNSlot {
			continue
		}
		cm := NewClusterMap(fatguard.FirstDataClusterIndex, int(fat.BPB().TotalClusters))
		if _, err := checkFileConsistency(fat, cm, foundDir, DirPos{Slot: e.slot}, e, func(Finding) Action { return DoNotRepair }); err != nil {
			return 0, err
		}
		break
	}

	return ResultRetry, nil
}
