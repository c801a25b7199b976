package checkdisk

import (
	"strings"

	"github.com/embedfat/fatguard"
	"github.com/embedfat/fatguard/fatcore"
	"github.com/embedfat/fatguard/lfn"
)

// sfnEntry is one live (non-deleted, non-long, non-free) short entry found
// during a directory scan, with its slot and decoded form.
type sfnEntry struct {
	slot int
	raw  []byte
	sfn  fatcore.SFN
}

// scanSFNEntries collects every live short entry in dir, in slot order.
func scanSFNEntries(dir fatcore.DirStream) ([]sfnEntry, error) {
	var entries []sfnEntry
	for slot := 0; slot < dir.NumSlots(); slot++ {
		raw, err := dir.Get(slot)
		if err != nil {
			return nil, err
		}
		if raw[0] == fatguard.DirentFree {
			break
		}
		if raw[0] == fatguard.DirentDeleted || raw[11] == fatguard.AttrLongName {
			continue
		}
		rawSFN := fatcore.ParseSFN(raw)
		sfn, err := fatcore.DecodeSFN(&rawSFN)
		if err != nil {
			continue
		}
		entries = append(entries, sfnEntry{slot: slot, raw: raw, sfn: sfn})
	}
	return entries, nil
}

// validateEntryStructure checks the attribute/cluster-range/size rules
// from spec §4.5.5 that apply to every live short entry. A nil return
// means the entry is structurally sound; otherwise the caller reports
// KindInvalidDirectoryEntry.
func validateEntryStructure(bpb *fatcore.BPB, e sfnEntry) error {
	if e.sfn.Attributes&^fatguard.FATAttrMask != 0 {
		return fatguard.ErrInvalidDirectoryEntry.WithMessage("reserved attribute bits set")
	}
	if e.sfn.Name8_3 != "." && e.sfn.Name8_3 != ".." {
		if err := validateShortNameChars(e.sfn.Name8_3); err != nil {
			return err
		}
	}
	if uint32(e.sfn.FirstCluster) != 0 && uint32(e.sfn.FirstCluster) >= bpb.TotalClusters+2 {
		return fatguard.ErrInvalidDirectoryEntry.WithMessage("first cluster out of range")
	}
	maxBytes := uint64(bpb.TotalDataSectors) * uint64(bpb.Raw.BytesPerSector)
	if uint64(e.sfn.Size) > maxBytes {
		return fatguard.ErrInvalidDirectoryEntry.WithMessage("file size exceeds data area capacity")
	}
	return nil
}

// validateShortNameChars rejects a non-"."/".." short name that contains
// lowercase letters or any byte outside the 8.3 character set the lfn
// package's generator itself produces, per spec §4.5.5.
func validateShortNameChars(name8_3 string) error {
	for i := 0; i < len(name8_3); i++ {
		c := name8_3[i]
		if c == '.' {
			continue
		}
		if c >= 'a' && c <= 'z' {
			return fatguard.ErrInvalidDirectoryEntry.WithMessage("short name contains lowercase letters")
		}
		if !lfn.IsValidShortNameByte(c) {
			return fatguard.ErrInvalidDirectoryEntry.WithMessage("short name contains invalid characters")
		}
	}
	return nil
}

// dotEntry describes what a directory's "." or ".." slot actually points
// at, for the checks in spec §4.5.5.
type dotEntry struct {
	present bool
	cluster fatcore.ClusterID
}

// readDotEntries inspects the first two slots of dir, returning whatever
// it finds there without assuming they're well-formed.
func readDotEntries(dir fatcore.DirStream) (dot, dotdot dotEntry, err error) {
	if dir.NumSlots() < 2 {
		return dotEntry{}, dotEntry{}, nil
	}
	raw0, err := dir.Get(0)
	if err != nil {
		return dotEntry{}, dotEntry{}, err
	}
	raw1, err := dir.Get(1)
	if err != nil {
		return dotEntry{}, dotEntry{}, err
	}

	dotName := "." + strings.Repeat(" ", 7)
	dotdotName := ".." + strings.Repeat(" ", 6)

	if string(raw0[0:8]) == dotName {
		sfn := fatcore.ParseSFN(raw0)
		cluster := fatcore.ClusterID((uint32(sfn.FirstClusterHigh) << 16) | uint32(sfn.FirstClusterLow))
		dot = dotEntry{present: true, cluster: cluster}
	}
	if string(raw1[0:8]) == dotdotName {
		sfn := fatcore.ParseSFN(raw1)
		cluster := fatcore.ClusterID((uint32(sfn.FirstClusterHigh) << 16) | uint32(sfn.FirstClusterLow))
		dotdot = dotEntry{present: true, cluster: cluster}
	}
	return dot, dotdot, nil
}

// demoteToFile clears the directory attribute bit on the entry at slot in
// dir, per spec §4.5.5's demotion rule: a subdirectory entry that fails
// the "." / ".." presence check, or that carries a non-zero FileSize, is
// no longer treated as a directory.
func demoteToFile(dir fatcore.DirStream, slot int) error {
	raw, err := dir.Get(slot)
	if err != nil {
		return err
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	out[11] &^= fatguard.AttrDirectory
	return dir.Put(slot, out)
}

// repairOrphanedDirectoryFAT handles the special case in spec §4.5.5: a
// subdirectory whose first cluster's FAT entry reads 0 but whose content
// (a live "." entry pointing at itself) proves the directory data is
// intact. The FAT is corrupted, not the directory; repair by marking the
// cluster EOC instead of demoting.
func repairOrphanedDirectoryFAT(fat *fatcore.FAT, first fatcore.ClusterID) error {
	return fat.MarkEOC(first)
}
