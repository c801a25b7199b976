package fatcore

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/embedfat/fatguard"
)

// RawSFN is the on-disk 32-byte short directory entry, field for field,
// grounded on drivers/fat/dirent.go's RawDirent.
type RawSFN struct {
	Name              [8]byte
	Extension         [3]byte
	AttributeFlags    uint8
	NTReserved        uint8
	CreatedTimeMillis uint8
	CreatedTime       uint16
	CreatedDate       uint16
	LastAccessedDate  uint16
	FirstClusterHigh  uint16
	LastModifiedTime  uint16
	LastModifiedDate  uint16
	FirstClusterLow   uint16
	FileSize          uint32
}

// SFN is a short directory entry in a friendlier shape, with the
// deleted/escape name-byte handling already resolved (spec §3).
type SFN struct {
	Name8_3        string // "NAME.EXT", trimmed, uppercase as stored
	Attributes     uint8
	FirstCluster   ClusterID
	Size           uint32
	Created        time.Time
	LastAccessed   time.Time
	LastModified   time.Time
	Deleted        bool
	EscapedE5First bool // name's first on-disk byte was the 0x05 escape
}

func dateFromInt(value uint16) time.Time {
	day := int(value & 0x1F)
	month := time.Month((value >> 5) & 0x0F)
	year := 1980 + int(value>>9)
	if day == 0 || month == 0 {
		return time.Time{}
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func timestampFromParts(datePart, timePart uint16, hundredths uint8) time.Time {
	d := dateFromInt(datePart)
	if d.IsZero() {
		return d
	}
	seconds := int(timePart&0x1F) * 2
	if hundredths >= 100 {
		seconds++
		hundredths -= 100
	}
	minutes := int((timePart >> 5) & 0x3F)
	hours := int(timePart >> 11)
	nanoseconds := int(hundredths) * 10000000
	return time.Date(d.Year(), d.Month(), d.Day(), hours, minutes, seconds, nanoseconds, time.UTC)
}

func intToDate(t time.Time) uint16 {
	if t.IsZero() {
		return 0
	}
	return uint16(t.Day()) | uint16(t.Month())<<5 | uint16(t.Year()-1980)<<9
}

func intToTime(t time.Time) uint16 {
	if t.IsZero() {
		return 0
	}
	return uint16(t.Second()/2) | uint16(t.Minute())<<5 | uint16(t.Hour())<<11
}

// ParseSFN decodes a 32-byte record into a RawSFN.
func ParseSFN(data []byte) RawSFN {
	raw := RawSFN{
		AttributeFlags:    data[11],
		NTReserved:        data[12],
		CreatedTimeMillis: data[13],
		CreatedTime:       binary.LittleEndian.Uint16(data[14:16]),
		CreatedDate:       binary.LittleEndian.Uint16(data[16:18]),
		LastAccessedDate:  binary.LittleEndian.Uint16(data[18:20]),
		FirstClusterHigh:  binary.LittleEndian.Uint16(data[20:22]),
		LastModifiedTime:  binary.LittleEndian.Uint16(data[22:24]),
		LastModifiedDate:  binary.LittleEndian.Uint16(data[24:26]),
		FirstClusterLow:   binary.LittleEndian.Uint16(data[26:28]),
		FileSize:          binary.LittleEndian.Uint32(data[28:32]),
	}
	copy(raw.Name[:], data[0:8])
	copy(raw.Extension[:], data[8:11])
	return raw
}

// NameByteState classifies the first byte of a RawSFN.Name, per spec §3.
type NameByteState int

const (
	NameByteLive NameByteState = iota
	NameByteEndOfDirectory
	NameByteDeleted
)

func classifyNameByte(b byte) NameByteState {
	switch b {
	case fatguard.DirentFree:
		return NameByteEndOfDirectory
	case fatguard.DirentDeleted:
		return NameByteDeleted
	default:
		return NameByteLive
	}
}

// DecodeSFN converts a RawSFN into the friendlier SFN shape. Returns
// fatguard.ErrNotFound when raw.Name[0] is the end-of-directory sentinel
// (0x00), signaling the caller has reached the end of live entries.
func DecodeSFN(raw *RawSFN) (SFN, error) {
	state := classifyNameByte(raw.Name[0])
	if state == NameByteEndOfDirectory {
		return SFN{}, fatguard.ErrNotFound
	}

	sfn := SFN{
		Attributes: raw.AttributeFlags,
		Size:       raw.FileSize,
		FirstCluster: ClusterID(
			(uint32(raw.FirstClusterHigh) << 16) | uint32(raw.FirstClusterLow)),
		Deleted:      state == NameByteDeleted,
		LastAccessed: dateFromInt(raw.LastAccessedDate),
		LastModified: timestampFromParts(raw.LastModifiedDate, raw.LastModifiedTime, 0),
	}

	nameBytes := raw.Name
	if state == NameByteDeleted {
		// The real first character was overwritten by the deleted-marker
		// byte and is preserved in CreatedTimeMillis (spec §3).
		nameBytes[0] = raw.CreatedTimeMillis
	} else if nameBytes[0] == fatguard.DirentEscapedE5 {
		nameBytes[0] = 0xE5
		sfn.EscapedE5First = true
	}

	trimmedName := strings.TrimRight(string(nameBytes[:]), " ")
	trimmedExt := strings.TrimRight(string(raw.Extension[:]), " ")
	if trimmedExt == "" {
		sfn.Name8_3 = trimmedName
	} else {
		sfn.Name8_3 = trimmedName + "." + trimmedExt
	}

	if sfn.Deleted {
		sfn.Created = timestampFromParts(raw.CreatedDate, raw.CreatedTime, 0)
	} else {
		sfn.Created = timestampFromParts(raw.CreatedDate, raw.CreatedTime, raw.CreatedTimeMillis)
	}

	return sfn, nil
}

// EncodeSFN serializes a base/extension pair plus metadata into a 32-byte
// record. base and ext are expected to already be the final 8 and 3-byte
// space-padded fields (see the lfn package's short-name generator).
func EncodeSFN(base [8]byte, ext [3]byte, attrs uint8, firstCluster ClusterID, size uint32, created, modified, accessed time.Time) []byte {
	out := make([]byte, 32)
	copy(out[0:8], base[:])
	copy(out[8:11], ext[:])
	out[11] = attrs
	out[13] = uint8((created.Nanosecond() / 10000000))
	binary.LittleEndian.PutUint16(out[14:16], intToTime(created))
	binary.LittleEndian.PutUint16(out[16:18], intToDate(created))
	binary.LittleEndian.PutUint16(out[18:20], intToDate(accessed))
	binary.LittleEndian.PutUint16(out[20:22], uint16(uint32(firstCluster)>>16))
	binary.LittleEndian.PutUint16(out[22:24], intToTime(modified))
	binary.LittleEndian.PutUint16(out[24:26], intToDate(modified))
	binary.LittleEndian.PutUint16(out[26:28], uint16(uint32(firstCluster)&0xFFFF))
	binary.LittleEndian.PutUint32(out[28:32], size)
	return out
}

// Checksum computes the SFN checksum LFN long entries must match, per spec
// §4.4.1: rotr8 fold over the 11 raw name+extension bytes.
func Checksum(base [8]byte, ext [3]byte) uint8 {
	var sum uint8
	name83 := make([]byte, 0, 11)
	name83 = append(name83, base[:]...)
	name83 = append(name83, ext[:]...)
	for _, b := range name83 {
		sum = ((sum >> 1) | (sum << 7)) + b
	}
	return sum
}
