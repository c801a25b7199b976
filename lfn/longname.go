// Package lfn implements the Long File Name encoder/decoder of spec §4.4:
// composing/decomposing the chained long-entry records, generating
// collision-free 8.3 short names, validating character sets, and the
// directory lookup/insert algorithms LFN requires on top of fatcore.
//
// Grounded on drivers/fat/dirent.go for the on-disk record shape and
// timestamp conventions (the teacher's own LFN support is an explicit
// TODO there), and on soypat-fat's internal/utf16x package for the
// surrogate-pair-aware UTF-16 technique, reimplemented here directly
// against the standard library's unicode/utf16 since no pack dependency
// offers anything beyond what that package already does.
package lfn

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/embedfat/fatguard"
)

const charsPerLongEntry = 13
const longEntrySize = 32

// LastOrdinalFlag marks the physically-first long entry in a group (spec
// §3, §4.4.1).
const LastOrdinalFlag = 0x40

// OrdinalMask isolates the ordinal number from the last-entry flag.
const OrdinalMask = 0x3F

// rawLongEntry is one 32-byte LFN fragment record.
type rawLongEntry struct {
	Ordinal         uint8
	Chars1          [5]uint16 // offsets 1..10
	Attribute       uint8     // fixed 0x0F == fatguard.AttrLongName
	Type            uint8     // always 0
	Checksum        uint8
	Chars2          [6]uint16 // offsets 14..25
	FirstClusterLow uint16    // always 0
	Chars3          [2]uint16 // offsets 28..31
}

// EncodeLongName renders name's UTF-16 code units into the physically
// ordered (first-to-last, i.e. highest ordinal first) sequence of 32-byte
// LFN fragment records, per spec §4.4.1. checksum is the companion SFN's
// checksum (fatcore.Checksum of its base+extension bytes).
func EncodeLongName(name string, checksum uint8) [][]byte {
	units := utf16.Encode([]rune(name))
	n := numLongEntries(len(units))

	padded := make([]uint16, n*charsPerLongEntry)
	for i := range padded {
		padded[i] = 0xFFFF
	}
	copy(padded, units)
	if len(units)%charsPerLongEntry != 0 {
		padded[len(units)] = 0x0000
	}

	entries := make([][]byte, n)
	for ord := 1; ord <= n; ord++ {
		slot := padded[(ord-1)*charsPerLongEntry : ord*charsPerLongEntry]
		raw := rawLongEntry{
			Ordinal:   uint8(ord),
			Attribute: fatguard.AttrLongName,
			Checksum:  checksum,
		}
		copy(raw.Chars1[:], slot[0:5])
		copy(raw.Chars2[:], slot[5:11])
		copy(raw.Chars3[:], slot[11:13])
		if ord == n {
			raw.Ordinal |= LastOrdinalFlag
		}
		// Physical order is highest-ordinal-first; ord runs low-to-high
		// above so the slot index is reversed.
		entries[n-ord] = encodeRaw(&raw)
	}
	return entries
}

// numLongEntries computes ceil(numUnits / 13), per spec §4.4.1.
func numLongEntries(numUnits int) int {
	if numUnits == 0 {
		return 1
	}
	return (numUnits + charsPerLongEntry - 1) / charsPerLongEntry
}

func encodeRaw(raw *rawLongEntry) []byte {
	out := make([]byte, longEntrySize)
	out[0] = raw.Ordinal
	for i, u := range raw.Chars1 {
		binary.LittleEndian.PutUint16(out[1+i*2:3+i*2], u)
	}
	out[11] = raw.Attribute
	out[12] = raw.Type
	out[13] = raw.Checksum
	for i, u := range raw.Chars2 {
		binary.LittleEndian.PutUint16(out[14+i*2:16+i*2], u)
	}
	binary.LittleEndian.PutUint16(out[26:28], raw.FirstClusterLow)
	for i, u := range raw.Chars3 {
		binary.LittleEndian.PutUint16(out[28+i*2:30+i*2], u)
	}
	return out
}

func decodeRaw(data []byte) rawLongEntry {
	raw := rawLongEntry{
		Ordinal:   data[0],
		Attribute: data[11],
		Type:      data[12],
		Checksum:  data[13],
	}
	for i := range raw.Chars1 {
		raw.Chars1[i] = binary.LittleEndian.Uint16(data[1+i*2 : 3+i*2])
	}
	for i := range raw.Chars2 {
		raw.Chars2[i] = binary.LittleEndian.Uint16(data[14+i*2 : 16+i*2])
	}
	raw.FirstClusterLow = binary.LittleEndian.Uint16(data[26:28])
	for i := range raw.Chars3 {
		raw.Chars3[i] = binary.LittleEndian.Uint16(data[28+i*2 : 30+i*2])
	}
	return raw
}

// DecodeLongName reassembles a name from its physically ordered (highest
// ordinal first) sequence of raw 32-byte entries. Callers that can't
// already trust the group's structure (checkdisk, scanning arbitrary
// on-disk state) should validate it first.
func DecodeLongName(entries [][]byte) string {
	n := len(entries)
	units := make([]uint16, 0, n*charsPerLongEntry)

	// entries[0] has the highest ordinal (physically first); reassemble in
	// ordinal-ascending order by walking the slice backwards.
	for i := n - 1; i >= 0; i-- {
		raw := decodeRaw(entries[i])
		units = append(units, raw.Chars1[:]...)
		units = append(units, raw.Chars2[:]...)
		units = append(units, raw.Chars3[:]...)
	}

	end := len(units)
	for i, u := range units {
		if u == 0x0000 {
			end = i
			break
		}
	}
	return string(utf16.Decode(units[:end]))
}

// LongEntryOrdinal, LongEntryChecksum, LongEntryAttribute, and
// LongEntryFirstCluster give callers (including checkdisk) field-level
// access to a raw 32-byte LFN fragment without decoding the whole group,
// for the structural checks in spec §4.5.6.
func LongEntryOrdinal(data []byte) uint8       { return data[0] }
func LongEntryChecksum(data []byte) uint8      { return data[13] }
func LongEntryAttribute(data []byte) uint8     { return data[11] }
func LongEntryFirstCluster(data []byte) uint16 { return binary.LittleEndian.Uint16(data[26:28]) }
