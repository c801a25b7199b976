// Package partition implements the Partitioner component of spec §4.2: MBR
// and GPT parsing/emission, and the helpers higher layers use to locate the
// first partition's (start_sector, sector_count).
//
// It is grounded on two pack examples that never fit together in their
// source repos: the byte-offset accessor style of soypat-fat's
// internal/gpt and internal/mbr packages, and the teacher's
// "binary.Read/Write on a tagged struct, embed a CSV lookup table for a
// size-indexed constant table" idiom from drivers/fat/common.go and
// disks/disks.go respectively.
package partition

import (
	_ "embed"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/noxer/bytewriter"

	"github.com/embedfat/fatguard"
)

// SectorSize is the only sector size this package assumes for MBR/GPT
// geometry math; FAT volumes themselves may use a different
// bytes-per-sector, but partition tables are conventionally 512-byte
// sector structures even on 4Kn media at the BIOS/UEFI boundary.
const SectorSize = 512

const mbrSignature = 0xAA55
const mbrPartitionTableOffset = 446
const mbrEntrySize = 16
const mbrEntryCount = 4

// PartitionType is the single-byte MBR partition type code.
type PartitionType uint8

const (
	PartitionTypeEmpty       PartitionType = 0x00
	PartitionTypeFAT12       PartitionType = 0x01
	PartitionTypeFAT16Small  PartitionType = 0x04
	PartitionTypeFAT16       PartitionType = 0x06
	PartitionTypeFAT32CHS    PartitionType = 0x0B
	PartitionTypeFAT32LBA    PartitionType = 0x0C
	PartitionTypeGPTProtective PartitionType = 0xEE
)

// CHS is a Cylinder/Head/Sector address as packed into an MBR partition
// entry: the cylinder's high two bits are folded into the sector byte
// (spec §4.2.1).
type CHS struct {
	Head     uint8
	Sector   uint8 // 1-63, bits 6-7 hold cylinder bits 8-9
	Cylinder uint16
}

func decodeCHS(raw [3]byte) CHS {
	return CHS{
		Head:     raw[0],
		Sector:   raw[1] & 0x3F,
		Cylinder: (uint16(raw[1]>>6) << 8) | uint16(raw[2]),
	}
}

func encodeCHS(c CHS) [3]byte {
	return [3]byte{
		c.Head,
		(c.Sector & 0x3F) | (uint8(c.Cylinder>>8) << 6),
		uint8(c.Cylinder & 0xFF),
	}
}

// Entry is a single decoded 16-byte MBR partition table slot.
type Entry struct {
	Active      bool
	StartCHS    CHS
	Type        PartitionType
	EndCHS      CHS
	StartLBA    uint32
	NumSectors  uint32
}

// IsEmpty reports whether this slot describes no partition at all.
func (e Entry) IsEmpty() bool {
	return e.Type == PartitionTypeEmpty && e.NumSectors == 0
}

// MBR is the decoded contents of sector 0 for a non-GPT disk, or the
// protective MBR preceding a GPT disk.
type MBR struct {
	Entries [mbrEntryCount]Entry
}

func looksLikeBootSectorBPB(sector []byte) bool {
	// An x86 JMP opcode at offset 0 (EB xx 90, or E9 xx xx) indicates this
	// sector is actually a FAT boot sector with an embedded BPB, not a
	// partition table, even though the 0xAA55 signature is also present at
	// the end of a boot sector. Spec §4.2.1.
	if len(sector) < 3 {
		return false
	}
	if sector[0] == 0xEB && sector[2] == 0x90 {
		return true
	}
	if sector[0] == 0xE9 {
		return true
	}
	return false
}

// ReadMBR parses a 512-byte (or larger, only the first 512 bytes are used)
// sector 0 image into an MBR. It returns fatguard.ErrNotPartitioned if no
// valid MBR signature is present, per spec §4.2.1.
func ReadMBR(sector []byte) (*MBR, error) {
	if len(sector) < SectorSize {
		return nil, fatguard.ErrInvalidArgument.WithMessage("sector 0 shorter than 512 bytes")
	}

	signature := binary.LittleEndian.Uint16(sector[510:512])
	if signature != mbrSignature {
		return nil, fatguard.ErrNotPartitioned
	}
	if looksLikeBootSectorBPB(sector) {
		return nil, fatguard.ErrNotPartitioned.WithMessage("sector 0 looks like a FAT boot sector, not an MBR")
	}

	mbr := &MBR{}
	for i := 0; i < mbrEntryCount; i++ {
		off := mbrPartitionTableOffset + i*mbrEntrySize
		raw := sector[off : off+mbrEntrySize]

		var startCHSRaw, endCHSRaw [3]byte
		copy(startCHSRaw[:], raw[1:4])
		copy(endCHSRaw[:], raw[5:8])

		mbr.Entries[i] = Entry{
			Active:     raw[0]&0x80 != 0,
			StartCHS:   decodeCHS(startCHSRaw),
			Type:       PartitionType(raw[4]),
			EndCHS:     decodeCHS(endCHSRaw),
			StartLBA:   binary.LittleEndian.Uint32(raw[8:12]),
			NumSectors: binary.LittleEndian.Uint32(raw[12:16]),
		}
	}
	return mbr, nil
}

// chsSizeRow is one row of the CHS synthesis table from spec §4.2.2,
// unmarshalled from the embedded CSV the way disks/disks.go unmarshals its
// floppy-geometry CSV.
type chsSizeRow struct {
	MaxSectors      uint32 `csv:"max_sectors"`
	Heads           uint32 `csv:"heads"`
	SectorsPerTrack uint32 `csv:"sectors_per_track"`
}

//go:embed chs_table.csv
var chsTableCSV string

var chsSizeTable []chsSizeRow

func init() {
	rows := []chsSizeRow{}
	if err := gocsv.UnmarshalString(chsTableCSV, &rows); err != nil {
		panic(fmt.Sprintf("partition: malformed embedded CHS table: %s", err))
	}
	chsSizeTable = rows
}

// geometryFor picks the (heads, sectors-per-track) pair for a device of
// the given total sector count, per the size-indexed table in spec §4.2.2.
func geometryFor(deviceTotalSectors uint32) (heads, sectorsPerTrack uint32) {
	for _, row := range chsSizeTable {
		if deviceTotalSectors <= row.MaxSectors {
			return row.Heads, row.SectorsPerTrack
		}
	}
	last := chsSizeTable[len(chsSizeTable)-1]
	return last.Heads, last.SectorsPerTrack
}

// SynthesizeCHS computes the CHS triple for an LBA, given a device's total
// sector count, per spec §4.2.2.
func SynthesizeCHS(lba, deviceTotalSectors uint32) CHS {
	heads, spt := geometryFor(deviceTotalSectors)
	head := (lba / spt) % heads
	sector := (lba % spt) + 1
	cylinder := lba / (heads * spt)
	return CHS{Head: uint8(head), Sector: uint8(sector), Cylinder: uint16(cylinder)}
}

// SynthesizeType derives the partition type byte from a partition's size in
// sectors, per spec §4.2.2's size thresholds.
func SynthesizeType(numSectors uint32) PartitionType {
	switch {
	case numSectors <= 0x7FA7:
		return PartitionTypeFAT12
	case numSectors <= 0xFFFF:
		return PartitionTypeFAT16Small
	case numSectors <= 0x3FFFFF:
		return PartitionTypeFAT16
	case numSectors <= 0xFB03FF:
		return PartitionTypeFAT32CHS
	default:
		return PartitionTypeFAT32LBA
	}
}

// NewEntry builds a fully-populated Entry for (startLBA, numSectors),
// synthesizing CHS and type when the caller passes PartitionTypeEmpty as a
// "figure it out" sentinel, per spec §4.2.2.
func NewEntry(active bool, startLBA, numSectors uint32, explicitType PartitionType, deviceTotalSectors uint32) Entry {
	endLBA := startLBA + numSectors - 1
	partType := explicitType
	if partType == PartitionTypeEmpty && numSectors > 0 {
		partType = SynthesizeType(numSectors)
	}
	return Entry{
		Active:     active,
		StartCHS:   SynthesizeCHS(startLBA, deviceTotalSectors),
		Type:       partType,
		EndCHS:     SynthesizeCHS(endLBA, deviceTotalSectors),
		StartLBA:   startLBA,
		NumSectors: numSectors,
	}
}

// WriteMBR serializes mbr into a fresh 512-byte sector image. bootCode, if
// non-nil, is copied into the first 446 bytes (truncated/zero-padded as
// needed); a nil bootCode leaves that region zeroed.
func WriteMBR(mbr *MBR, bootCode []byte) ([]byte, error) {
	sector := make([]byte, SectorSize)
	buf := bytewriter.New(sector)

	if bootCode != nil {
		n := len(bootCode)
		if n > mbrPartitionTableOffset {
			n = mbrPartitionTableOffset
		}
		if _, err := buf.Write(bootCode[:n]); err != nil {
			return nil, fatguard.ErrIOFailed.Wrap(err)
		}
	}

	for i, entry := range mbr.Entries {
		off := mbrPartitionTableOffset + i*mbrEntrySize
		raw := sector[off : off+mbrEntrySize]

		status := byte(0)
		if entry.Active {
			status = 0x80
		}
		raw[0] = status
		startCHS := encodeCHS(entry.StartCHS)
		copy(raw[1:4], startCHS[:])
		raw[4] = byte(entry.Type)
		endCHS := encodeCHS(entry.EndCHS)
		copy(raw[5:8], endCHS[:])
		binary.LittleEndian.PutUint32(raw[8:12], entry.StartLBA)
		binary.LittleEndian.PutUint32(raw[12:16], entry.NumSectors)
	}

	binary.LittleEndian.PutUint16(sector[510:512], mbrSignature)
	return sector, nil
}

// NewProtectiveMBR builds the single-entry protective MBR that precedes a
// GPT header, per spec §4.2.4: one slot of type 0xEE spanning
// min(deviceTotalSectors-1, 0xFFFFFFFF) sectors starting at LBA 1.
func NewProtectiveMBR(deviceTotalSectors uint64) *MBR {
	span := deviceTotalSectors - 1
	if span > 0xFFFFFFFF {
		span = 0xFFFFFFFF
	}

	mbr := &MBR{}
	mbr.Entries[0] = Entry{
		Active:     false,
		StartCHS:   CHS{Head: 0, Sector: 2, Cylinder: 0},
		Type:       PartitionTypeGPTProtective,
		EndCHS:     CHS{Head: 0xFF, Sector: 0xFF, Cylinder: 0xFFFF},
		StartLBA:   1,
		NumSectors: uint32(span),
	}
	return mbr
}

// IsProtectiveMBR reports whether mbr marks the disk as GPT-partitioned per
// spec §4.2.3: a slot of type 0xEE starting at LBA 1.
func (m *MBR) IsProtectiveMBR() bool {
	for _, e := range m.Entries {
		if e.Type == PartitionTypeGPTProtective && e.StartLBA == 1 {
			return true
		}
	}
	return false
}

// DetectScheme probes sector 0 (and, if GPT, the rest of the device isn't
// needed for this check) to answer spec §6's "query partitioning scheme"
// surface.
func DetectScheme(sector0 []byte) fatguard.PartitioningScheme {
	mbr, err := ReadMBR(sector0)
	if err != nil {
		return fatguard.SchemeNone
	}
	if mbr.IsProtectiveMBR() {
		return fatguard.SchemeGPT
	}
	return fatguard.SchemeMBR
}

// FirstPartition returns the (start_sector, sector_count) of the first
// non-empty partition table entry, the contract spec §6 requires
// Partitioner to expose to higher layers.
func (m *MBR) FirstPartition() (startSector, sectorCount uint32, found bool) {
	for _, e := range m.Entries {
		if !e.IsEmpty() {
			return e.StartLBA, e.NumSectors, true
		}
	}
	return 0, 0, false
}

// dumpEntry is used by the CLI to render a partition table entry as a
// readable summary.
func dumpEntry(i int, e Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "entry %d: type=0x%02X start=%d count=%d active=%v", i, e.Type, e.StartLBA, e.NumSectors, e.Active)
	return b.String()
}

// String renders the full MBR's entries for diagnostic output.
func (m *MBR) String() string {
	var b strings.Builder
	for i, e := range m.Entries {
		if e.IsEmpty() {
			continue
		}
		b.WriteString(dumpEntry(i, e))
		b.WriteString("\n")
	}
	return b.String()
}
