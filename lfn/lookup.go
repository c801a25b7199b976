package lfn

import (
	"strings"
	"unicode/utf16"

	"github.com/embedfat/fatguard"
	"github.com/embedfat/fatguard/fatcore"
)

func isLongEntry(raw []byte) bool {
	return raw[11] == fatguard.AttrLongName
}

func unitsOf(raw []byte) []uint16 {
	e := decodeRaw(raw)
	units := make([]uint16, 0, charsPerLongEntry)
	units = append(units, e.Chars1[:]...)
	units = append(units, e.Chars2[:]...)
	units = append(units, e.Chars3[:]...)
	return units
}

// payloadEqualFold compares two long-entry records' 13-code-unit payloads
// using Unicode uppercase comparison, per spec §4.4.4 step 2.
func payloadEqualFold(a, b []byte) bool {
	ua, ub := unitsOf(a), unitsOf(b)
	sa := string(utf16.Decode(trimTrailingFFFF(ua)))
	sb := string(utf16.Decode(trimTrailingFFFF(ub)))
	return strings.EqualFold(sa, sb)
}

func trimTrailingFFFF(units []uint16) []uint16 {
	end := len(units)
	for end > 0 && (units[end-1] == 0xFFFF || units[end-1] == 0x0000) {
		end--
	}
	return units[:end]
}

// LookupResult is a successful directory lookup, per spec §4.4.4.
type LookupResult struct {
	SFN      fatcore.SFN
	SFNSlot  int
	LFNSlots []int // physically-first to last, empty for an SFN-only match
}

// LookupByName scans dir for targetName, matching either a full LFN group
// or, by the compatibility path in spec §4.4.4 step 3, a bare SFN whose
// decoded name equals targetName outright. requiredAttrMask, if nonzero,
// restricts matches to entries carrying every bit in the mask.
func LookupByName(dir fatcore.DirStream, targetName string, requiredAttrMask uint8) (*LookupResult, error) {
	normalized := NormalizeLongName(targetName)
	units := utf16.Encode([]rune(normalized))
	n := numLongEntries(len(units))

	slot := 0
	for slot < dir.NumSlots() {
		raw, err := dir.Get(slot)
		if err != nil {
			return nil, err
		}
		if raw[0] == fatguard.DirentFree {
			break
		}
		if raw[0] == fatguard.DirentDeleted {
			slot++
			continue
		}

		if isLongEntry(raw) {
			if result := tryMatchGroup(dir, slot, raw, n, normalized, requiredAttrMask); result != nil {
				return result, nil
			}
			slot++
			continue
		}

		sfn, err := fatcore.DecodeSFN(sfnFromRaw(raw))
		if err == nil && !sfn.Deleted && strings.EqualFold(sfn.Name8_3, normalized) {
			if sfn.Attributes&requiredAttrMask == requiredAttrMask {
				return &LookupResult{SFN: sfn, SFNSlot: slot}, nil
			}
		}
		slot++
	}

	return nil, fatguard.ErrNotFound
}

func sfnFromRaw(raw []byte) *fatcore.RawSFN {
	r := fatcore.ParseSFN(raw)
	return &r
}

// tryMatchGroup attempts to match a long-entry group starting at slot
// (whose ordinal carries the last-entry flag) against the expected
// rendering of normalized. Returns nil if the group doesn't match,
// leaving the caller to advance one slot and keep scanning — this is what
// implements the "multiple of 13" restart in spec §4.4.4 step 4: a
// mismatched or unrelated group is simply skipped entry-by-entry rather
// than as a block.
func tryMatchGroup(dir fatcore.DirStream, slot int, first []byte, n int, normalized string, requiredAttrMask uint8) *LookupResult {
	ordByte := first[0]
	if ordByte&LastOrdinalFlag == 0 {
		return nil
	}
	ordVal := int(ordByte & OrdinalMask)
	if ordVal != n {
		return nil
	}

	checksum := first[13]
	ours := EncodeLongName(normalized, checksum)
	if !payloadEqualFold(first, ours[0]) {
		return nil
	}

	groupSlots := []int{slot}
	remaining := ordVal - 1
	pos := slot + 1
	for remaining > 0 {
		if pos >= dir.NumSlots() {
			return nil
		}
		next, err := dir.Get(pos)
		if err != nil || next[0] == fatguard.DirentFree || next[0] == fatguard.DirentDeleted {
			return nil
		}
		if !isLongEntry(next) {
			return nil
		}
		if int(next[0]&OrdinalMask) != remaining || next[0]&LastOrdinalFlag != 0 {
			return nil
		}
		if next[13] != checksum {
			return nil
		}
		expectedIdx := ordVal - remaining
		if !payloadEqualFold(next, ours[expectedIdx]) {
			return nil
		}
		groupSlots = append(groupSlots, pos)
		remaining--
		pos++
	}

	if pos >= dir.NumSlots() {
		return nil
	}
	sfnRaw, err := dir.Get(pos)
	if err != nil || sfnRaw[0] == fatguard.DirentFree || sfnRaw[0] == fatguard.DirentDeleted || isLongEntry(sfnRaw) {
		return nil
	}

	var base [8]byte
	var ext [3]byte
	copy(base[:], sfnRaw[0:8])
	copy(ext[:], sfnRaw[8:11])
	if fatcore.Checksum(base, ext) != checksum {
		return nil
	}

	sfn, err := fatcore.DecodeSFN(sfnFromRaw(sfnRaw))
	if err != nil || sfn.Attributes&requiredAttrMask != requiredAttrMask {
		return nil
	}
	return &LookupResult{SFN: sfn, SFNSlot: pos, LFNSlots: groupSlots}
}
