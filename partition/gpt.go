package partition

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/hashicorp/go-multierror"
	"github.com/noxer/bytewriter"

	"github.com/embedfat/fatguard"
)

const gptHeaderSignature = "EFI PART"
const gptHeaderSize = 92
const gptEntrySize = 128
const gptDefaultEntryCount = 128

// gptMaxEntryCount is the configured cap spec §4.2.3 requires ReadGPTHeader
// to enforce on NumPartitionEntries, well above the 128 entries this
// package itself writes but far short of letting a corrupt header claim an
// unbounded entry array.
const gptMaxEntryCount = 1024

// Header is the decoded 92-byte GPT header, per spec §4.2.3. Reserved
// padding out to the sector size is not retained; it is regenerated as
// zero bytes on write.
type Header struct {
	Revision               uint32
	HeaderSize             uint32
	HeaderCRC32            uint32
	CurrentLBA             uint64
	BackupLBA              uint64
	FirstUsableLBA         uint64
	LastUsableLBA          uint64
	DiskGUID               GUID
	PartitionEntryLBA      uint64
	NumPartitionEntries    uint32
	PartitionEntrySize     uint32
	PartitionArrayCRC32    uint32
}

// GPTEntry is one decoded 128-byte GPT partition entry, per spec §4.2.3.
type GPTEntry struct {
	TypeGUID   GUID
	UniqueGUID GUID
	FirstLBA   uint64
	LastLBA    uint64
	Attributes uint64
	Name       string // decoded from the 72-byte UTF-16LE name field
}

func decodeUTF16Name(raw []byte) string {
	units := make([]uint16, len(raw)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(raw[i*2 : i*2+2])
	}
	end := len(units)
	for i, u := range units {
		if u == 0 {
			end = i
			break
		}
	}
	runes := make([]rune, 0, end)
	for i := 0; i < end; i++ {
		// Partition names are conventionally within the BMP for the
		// filesystem labels this package cares about; surrogate pairs are
		// not decoded.
		runes = append(runes, rune(units[i]))
	}
	return string(runes)
}

func encodeUTF16Name(name string, fieldLen int) []byte {
	raw := make([]byte, fieldLen)
	runes := []rune(name)
	maxUnits := fieldLen / 2
	for i := 0; i < len(runes) && i < maxUnits; i++ {
		binary.LittleEndian.PutUint16(raw[i*2:i*2+2], uint16(runes[i]))
	}
	return raw
}

// ReadGPTHeader decodes a single GPT header sector (LBA 1 for the primary,
// the device's last sector for the backup) and runs every structural check
// spec §4.2.3 requires beyond the header CRC32: revision, header size,
// My-LBA/BackupLBA against the sector this copy and its alternate actually
// occupy on disk, FirstUsableLBA's ordering against the entry-array LBA,
// and the entry-count/entry-size bounds.
//
// currentLBA is the LBA sector was read from; backupLBA is the LBA the
// alternate copy occupies (the device's last sector for a primary read,
// LBA 1 for a backup read); isBackup selects which FirstUsableLBA ordering
// applies. sectorSize bounds HeaderSize and PartitionEntrySize.
func ReadGPTHeader(sector []byte, currentLBA, backupLBA uint64, isBackup bool, sectorSize int) (*Header, error) {
	if len(sector) < gptHeaderSize {
		return nil, fatguard.ErrInvalidArgument.WithMessage("GPT header sector too short")
	}
	if string(sector[0:8]) != gptHeaderSignature {
		return nil, fatguard.ErrInvalidGPT.WithMessage("bad GPT header signature")
	}

	h := &Header{
		Revision:            binary.LittleEndian.Uint32(sector[8:12]),
		HeaderSize:          binary.LittleEndian.Uint32(sector[12:16]),
		HeaderCRC32:         binary.LittleEndian.Uint32(sector[16:20]),
		CurrentLBA:          binary.LittleEndian.Uint64(sector[24:32]),
		BackupLBA:           binary.LittleEndian.Uint64(sector[32:40]),
		FirstUsableLBA:      binary.LittleEndian.Uint64(sector[40:48]),
		LastUsableLBA:       binary.LittleEndian.Uint64(sector[48:56]),
		PartitionEntryLBA:   binary.LittleEndian.Uint64(sector[72:80]),
		NumPartitionEntries: binary.LittleEndian.Uint32(sector[80:84]),
		PartitionEntrySize:  binary.LittleEndian.Uint32(sector[84:88]),
		PartitionArrayCRC32: binary.LittleEndian.Uint32(sector[88:92]),
	}
	copy(h.DiskGUID[:], sector[56:72])

	if h.Revision != 0x00010000 {
		return nil, fatguard.ErrInvalidGPT.WithMessage("unsupported GPT revision")
	}
	if h.HeaderSize < gptHeaderSize || int(h.HeaderSize) > sectorSize {
		return nil, fatguard.ErrInvalidGPT.WithMessage("header size out of range")
	}
	if h.CurrentLBA != currentLBA {
		return nil, fatguard.ErrInvalidGPT.WithMessage("MyLBA does not match the sector this copy was read from")
	}
	if h.BackupLBA != backupLBA {
		return nil, fatguard.ErrInvalidGPT.WithMessage("BackupLBA does not match the alternate copy's LBA")
	}
	if !isBackup {
		if h.FirstUsableLBA <= h.PartitionEntryLBA {
			return nil, fatguard.ErrInvalidGPT.WithMessage("FirstUsableLBA does not follow the primary entry array")
		}
	} else {
		if h.FirstUsableLBA >= h.PartitionEntryLBA {
			return nil, fatguard.ErrInvalidGPT.WithMessage("FirstUsableLBA does not precede the backup entry array")
		}
	}
	if h.NumPartitionEntries > gptMaxEntryCount {
		return nil, fatguard.ErrInvalidGPT.WithMessage("partition entry count exceeds the configured cap")
	}
	if h.PartitionEntrySize == 0 || int(h.PartitionEntrySize) > sectorSize {
		return nil, fatguard.ErrInvalidGPT.WithMessage("partition entry size out of range")
	}

	if !h.verifyCRC(sector) {
		return nil, fatguard.ErrInvalidGPT.WithMessage("GPT header CRC32 mismatch")
	}
	return h, nil
}

// verifyCRC recomputes the header CRC32 the way spec §4.2.3 requires: over
// the first HeaderSize bytes with the stored CRC32 field zeroed during the
// computation.
func (h *Header) verifyCRC(sector []byte) bool {
	scratch := make([]byte, h.HeaderSize)
	copy(scratch, sector[:h.HeaderSize])
	binary.LittleEndian.PutUint32(scratch[16:20], 0)
	return crc32.ChecksumIEEE(scratch) == h.HeaderCRC32
}

// ReadGPTEntries decodes the partition entry array given the header that
// describes it and the raw bytes of that array (NumPartitionEntries *
// PartitionEntrySize bytes, typically read starting at PartitionEntryLBA).
func ReadGPTEntries(h *Header, raw []byte) ([]GPTEntry, error) {
	needed := uint64(h.NumPartitionEntries) * uint64(h.PartitionEntrySize)
	if uint64(len(raw)) < needed {
		return nil, fatguard.ErrInvalidGPT.WithMessage("partition entry array truncated")
	}
	if crc32.ChecksumIEEE(raw[:needed]) != h.PartitionArrayCRC32 {
		return nil, fatguard.ErrInvalidGPT.WithMessage("partition entry array CRC32 mismatch")
	}

	entries := make([]GPTEntry, 0, h.NumPartitionEntries)
	for i := uint32(0); i < h.NumPartitionEntries; i++ {
		off := uint64(i) * uint64(h.PartitionEntrySize)
		rec := raw[off : off+uint64(h.PartitionEntrySize)]

		var typeGUID, uniqueGUID GUID
		copy(typeGUID[:], rec[0:16])
		copy(uniqueGUID[:], rec[16:32])
		if typeGUID == ZeroGUID {
			continue
		}

		entries = append(entries, GPTEntry{
			TypeGUID:   typeGUID,
			UniqueGUID: uniqueGUID,
			FirstLBA:   binary.LittleEndian.Uint64(rec[32:40]),
			LastLBA:    binary.LittleEndian.Uint64(rec[40:48]),
			Attributes: binary.LittleEndian.Uint64(rec[48:56]),
			Name:       decodeUTF16Name(rec[56:128]),
		})
	}
	return entries, nil
}

// Table is a fully decoded GPT: the header plus its entry array.
type Table struct {
	Header  *Header
	Entries []GPTEntry
}

// ReadGPT decodes and validates the primary and backup GPT copies, per
// spec §4.2.3. If both are valid it returns the primary with no error; the
// two copies' contents are not compared. If only one is valid it returns
// that copy together with an ErrInvalidGPT error naming the invalid one. If
// neither is valid it returns nil and both errors, collected with
// multierror. primarySectors/backupSectors must each
// contain the header sector immediately followed by enough sectors for the
// entry array (the caller is responsible for sector-granular I/O via
// blockio; this function works on already-assembled byte slices).
// primaryLBA/backupLBA are the actual on-disk LBAs of the two header
// sectors (conventionally 1 and the device's last sector), used to
// validate each header's own My-LBA/BackupLBA fields against where it was
// really read from.
func ReadGPT(primarySectors, backupSectors []byte, primaryLBA, backupLBA uint64, sectorSize int) (*Table, error) {
	primary, primaryErr := decodeGPTCopy(primarySectors, sectorSize, primaryLBA, backupLBA, false)
	backup, backupErr := decodeGPTCopy(backupSectors, sectorSize, backupLBA, primaryLBA, true)

	if primaryErr == nil {
		if backupErr != nil {
			return primary, fatguard.ErrInvalidGPT.WithMessage("backup GPT copy is invalid, continuing from primary")
		}
		return primary, nil
	}
	if backupErr == nil {
		return backup, fatguard.ErrInvalidGPT.WithMessage("primary GPT copy is invalid, recovered from backup")
	}
	var merr *multierror.Error
	merr = multierror.Append(merr, primaryErr)
	merr = multierror.Append(merr, backupErr)
	return nil, merr.ErrorOrNil()
}

func decodeGPTCopy(sectors []byte, sectorSize int, currentLBA, backupLBA uint64, isBackup bool) (*Table, error) {
	if len(sectors) < sectorSize {
		return nil, fatguard.ErrInvalidGPT.WithMessage("GPT copy buffer too short")
	}
	header, err := ReadGPTHeader(sectors[:sectorSize], currentLBA, backupLBA, isBackup, sectorSize)
	if err != nil {
		return nil, err
	}
	entries, err := ReadGPTEntries(header, sectors[sectorSize:])
	if err != nil {
		return nil, err
	}
	return &Table{Header: header, Entries: entries}, nil
}

// EntryArraySectorCount returns how many sectorSize sectors the default
// 128-entry GPT entry array occupies, the figure spec §4.2.4 needs to place
// the primary array at LBA 2 and the backup array immediately before the
// backup header.
func EntryArraySectorCount(sectorSize int) uint64 {
	bytes := uint64(gptDefaultEntryCount) * gptEntrySize
	return (bytes + uint64(sectorSize) - 1) / uint64(sectorSize)
}

// WriteGPT serializes both GPT copies given the entries and disk geometry,
// per spec §4.2.4: the primary header goes at currentLBA with its entry
// array at entryArrayLBA (conventionally 1 and 2); the backup header goes
// at backupLBA with its own entry array placed immediately before it. The
// two headers differ in MyLBA/BackupLBA, in their respective entry-array
// LBA, and consequently in their header CRC32 — everything else, including
// the entry array's bytes, is identical between copies.
func WriteGPT(diskGUID GUID, entries []GPTEntry, currentLBA, backupLBA, firstUsableLBA, lastUsableLBA, entryArrayLBA uint64, sectorSize int) (primaryHeader, backupHeader, entryArray []byte, backupEntryArrayLBA uint64, err error) {
	entryCount := uint32(gptDefaultEntryCount)
	if uint32(len(entries)) > entryCount {
		entryCount = uint32(len(entries))
	}

	entryArray = make([]byte, uint64(entryCount)*gptEntrySize)
	for i, e := range entries {
		off := uint64(i) * gptEntrySize
		rec := entryArray[off : off+gptEntrySize]
		copy(rec[0:16], e.TypeGUID[:])
		copy(rec[16:32], e.UniqueGUID[:])
		binary.LittleEndian.PutUint64(rec[32:40], e.FirstLBA)
		binary.LittleEndian.PutUint64(rec[40:48], e.LastLBA)
		binary.LittleEndian.PutUint64(rec[48:56], e.Attributes)
		copy(rec[56:128], encodeUTF16Name(e.Name, 72))
	}
	arrayCRC := crc32.ChecksumIEEE(entryArray)

	entrySectors := (uint64(entryCount)*gptEntrySize + uint64(sectorSize) - 1) / uint64(sectorSize)
	backupEntryArrayLBA = backupLBA - entrySectors

	header := make([]byte, sectorSize)
	buildHeader := func(current, backup, entryLBA uint64) {
		for i := range header {
			header[i] = 0
		}
		copy(header[0:8], gptHeaderSignature)
		binary.LittleEndian.PutUint32(header[8:12], 0x00010000)
		binary.LittleEndian.PutUint32(header[12:16], gptHeaderSize)
		binary.LittleEndian.PutUint64(header[24:32], current)
		binary.LittleEndian.PutUint64(header[32:40], backup)
		binary.LittleEndian.PutUint64(header[40:48], firstUsableLBA)
		binary.LittleEndian.PutUint64(header[48:56], lastUsableLBA)
		copy(header[56:72], diskGUID[:])
		binary.LittleEndian.PutUint64(header[72:80], entryLBA)
		binary.LittleEndian.PutUint32(header[80:84], entryCount)
		binary.LittleEndian.PutUint32(header[84:88], gptEntrySize)
		binary.LittleEndian.PutUint32(header[88:92], arrayCRC)
		crc := crc32.ChecksumIEEE(header[:gptHeaderSize])
		binary.LittleEndian.PutUint32(header[16:20], crc)
	}

	buildHeader(currentLBA, backupLBA, entryArrayLBA)
	primaryHeader = make([]byte, sectorSize)
	w := bytewriter.New(primaryHeader)
	if _, werr := w.Write(header); werr != nil {
		return nil, nil, nil, 0, fatguard.ErrIOFailed.Wrap(werr)
	}

	buildHeader(backupLBA, currentLBA, backupEntryArrayLBA)
	backupHeader = make([]byte, sectorSize)
	w2 := bytewriter.New(backupHeader)
	if _, werr := w2.Write(header); werr != nil {
		return nil, nil, nil, 0, fatguard.ErrIOFailed.Wrap(werr)
	}

	return primaryHeader, backupHeader, entryArray, backupEntryArrayLBA, nil
}

// PartitionRequest is one caller-specified partition for CreateGPT/
// ResolveLayout, before spec §4.2.4's auto-layout defaults are applied.
type PartitionRequest struct {
	TypeGUID    GUID
	UniqueGUID  GUID
	Name        string
	StartSector uint64 // 0 means "auto": first-usable, or right after the previous partition
	NumSectors  uint64 // 0 means "auto": claim all remaining space; only valid on the last request
}

// ResolveLayout applies spec §4.2.4's creation validation policy to
// requests and returns concrete GPTEntry values with every StartSector/
// NumSectors resolved: a zero StartSector defaults to firstUsableLBA for
// the first request and to the sector following the previous request's end
// for every later one; a zero NumSectors is only permitted on the last
// request and claims everything up to lastUsableLBA. Any resulting overlap
// or extent past [firstUsableLBA, lastUsableLBA] is rejected with
// fatguard.ErrInvalidParameter (INVALID_PARA).
func ResolveLayout(requests []PartitionRequest, firstUsableLBA, lastUsableLBA uint64) ([]GPTEntry, error) {
	entries := make([]GPTEntry, 0, len(requests))
	next := firstUsableLBA

	for i, req := range requests {
		start := req.StartSector
		if start == 0 {
			start = next
		}

		var size uint64
		if req.NumSectors == 0 {
			if i != len(requests)-1 {
				return nil, fatguard.ErrInvalidParameter.WithMessage("a NumSectors of 0 is only permitted on the last partition")
			}
			if start > lastUsableLBA {
				return nil, fatguard.ErrInvalidParameter.WithMessage("partition start exceeds the usable LBA range")
			}
			size = lastUsableLBA - start + 1
		} else {
			size = req.NumSectors
		}

		last := start + size - 1
		if last < start || start < firstUsableLBA || last > lastUsableLBA {
			return nil, fatguard.ErrInvalidParameter.WithMessage("partition overflows the usable LBA range")
		}
		if len(entries) > 0 && start <= entries[len(entries)-1].LastLBA {
			return nil, fatguard.ErrInvalidParameter.WithMessage("partition overlaps the previous one")
		}

		entries = append(entries, GPTEntry{
			TypeGUID:   req.TypeGUID,
			UniqueGUID: req.UniqueGUID,
			FirstLBA:   start,
			LastLBA:    last,
			Name:       req.Name,
		})
		next = last + 1
	}

	return entries, nil
}

// ValidateLayout runs the structural checks spec §4.2.3 requires of a
// decoded table beyond the two CRC32s already checked at parse time:
// entries must not overlap, must fall within [FirstUsableLBA,
// LastUsableLBA], and FirstUsableLBA must precede LastUsableLBA. All
// violations are collected rather than stopping at the first one.
func (t *Table) ValidateLayout() error {
	var merr *multierror.Error

	if t.Header.FirstUsableLBA >= t.Header.LastUsableLBA {
		merr = multierror.Append(merr, fatguard.ErrInvalidGPT.WithMessage("FirstUsableLBA >= LastUsableLBA"))
	}

	sorted := append([]GPTEntry(nil), t.Entries...)
	for i, e := range sorted {
		if e.FirstLBA > e.LastLBA {
			merr = multierror.Append(merr, fatguard.ErrInvalidGPT.WithMessage("entry has FirstLBA > LastLBA"))
			continue
		}
		if e.FirstLBA < t.Header.FirstUsableLBA || e.LastLBA > t.Header.LastUsableLBA {
			merr = multierror.Append(merr, fatguard.ErrInvalidGPT.WithMessage("entry falls outside usable LBA range"))
		}
		for j, other := range sorted {
			if i == j {
				continue
			}
			if e.FirstLBA <= other.LastLBA && other.FirstLBA <= e.LastLBA {
				merr = multierror.Append(merr, fatguard.ErrInvalidGPT.WithMessage("overlapping GPT entries"))
			}
		}
	}

	return merr.ErrorOrNil()
}

// FirstPartition mirrors MBR.FirstPartition for GPT tables, giving callers
// a scheme-agnostic way to find the first partition's extent.
func (t *Table) FirstPartition() (startSector, sectorCount uint64, found bool) {
	if len(t.Entries) == 0 {
		return 0, 0, false
	}
	e := t.Entries[0]
	return e.FirstLBA, e.LastLBA - e.FirstLBA + 1, true
}
