// Package fatcore interprets the BIOS Parameter Block, walks the
// allocation table (FAT12/16/32), and decodes/encodes short directory
// entries. It is the layer CheckDisk and LFN build on (spec §4.3).
//
// Grounded on drivers/fat/common.go's RawFATBootSectorWithBPB /
// FATBootSector / DetermineFATVersion / NewFATBootSectorFromStream, and
// drivers/fat/fat32.go's RawFAT32BootSector for the FAT32-only tail fields.
package fatcore

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/embedfat/fatguard"
)

// RawBPB is the on-disk BIOS Parameter Block common to FAT12/16/32,
// matching the teacher's RawFATBootSectorWithBPB field-for-field.
type RawBPB struct {
	JmpBoot         [3]byte
	OEMName         [8]byte
	BytesPerSector  uint16
	SectorsPerCluster uint8
	ReservedSectors uint16
	NumFATs         uint8
	RootEntryCount  uint16
	TotalSectors16  uint16
	Media           uint8
	SectorsPerFAT16 uint16
	SectorsPerTrack uint16
	NumHeads        uint16
	HiddenSectors   uint32
	TotalSectors32  uint32
}

// RawBPB32Tail is the FAT32-only extension following the common BPB,
// grounded on RawFAT32BootSector.
type RawBPB32Tail struct {
	SectorsPerFAT32  uint32
	ExtFlags         uint16
	FSVersionMinor   uint8
	FSVersionMajor   uint8
	RootCluster      uint32
	FSInfoSector     uint16
	BackupBootSector uint16
	Reserved         [12]byte
	DriveNumber      uint8
	NTReserved       uint8
	ExBootSignature  uint8
	VolumeID         uint32
	VolumeLabel      [11]byte
	FileSystemType   [8]byte
}

// BPB is the fully processed boot sector: the raw fields plus every
// derived quantity the rest of fatcore needs, computed once at mount.
type BPB struct {
	Raw     RawBPB
	Raw32   RawBPB32Tail // zero value when Variant != FAT32

	Variant           fatguard.FATVariant
	SectorsPerFAT     uint32
	TotalFATSectors   uint32
	RootDirSectors    uint32
	BytesPerCluster   uint32
	TotalClusters     uint32
	TotalDataSectors  uint32
	FirstDataSector   uint32
	FirstFATSector    uint32
	RootDirSector     uint32 // FAT12/16 only
	DirentsPerCluster uint32
}

const direntSize = 32

// DetermineFATVariant classifies a volume purely by its cluster count, per
// spec §4.3 (mirrors the teacher's DetermineFATVersion using Microsoft's
// documented thresholds).
func DetermineFATVariant(totalClusters uint32) fatguard.FATVariant {
	if totalClusters < 4085 {
		return fatguard.FAT12
	}
	if totalClusters < 65525 {
		return fatguard.FAT16
	}
	return fatguard.FAT32
}

// ParseBPB decodes a boot sector image (at least 512 bytes) into a BPB,
// validating the structural constraints spec §4.3 inherits from the FAT
// format itself.
func ParseBPB(sector []byte) (*BPB, error) {
	reader := bytesReader(sector)

	raw := RawBPB{}
	if err := binary.Read(reader, binary.LittleEndian, &raw); err != nil {
		return nil, fatguard.ErrIOFailed.Wrap(err)
	}

	var sectorsPerFAT32 uint32
	if err := binary.Read(reader, binary.LittleEndian, &sectorsPerFAT32); err != nil {
		return nil, fatguard.ErrIOFailed.Wrap(err)
	}

	switch raw.BytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		return nil, fatguard.ErrInvalidFileSystem.WithMessage(
			fmt.Sprintf("bad BytesPerSector %d", raw.BytesPerSector))
	}

	switch raw.SectorsPerCluster {
	case 1, 2, 4, 8, 16, 32, 64, 128:
	default:
		return nil, fatguard.ErrInvalidFileSystem.WithMessage(
			fmt.Sprintf("bad SectorsPerCluster %d", raw.SectorsPerCluster))
	}

	sectorsPerFAT := uint32(raw.SectorsPerFAT16)
	if sectorsPerFAT == 0 {
		sectorsPerFAT = sectorsPerFAT32
	}

	totalSectors := uint32(raw.TotalSectors16)
	if totalSectors == 0 {
		totalSectors = raw.TotalSectors32
	}

	rootDirSectors := (uint32(raw.RootEntryCount)*direntSize + uint32(raw.BytesPerSector) - 1) / uint32(raw.BytesPerSector)
	totalFATSectors := uint32(raw.NumFATs) * sectorsPerFAT
	firstDataSector := uint32(raw.ReservedSectors) + totalFATSectors + rootDirSectors
	dataSectors := totalSectors - firstDataSector
	bytesPerCluster := uint32(raw.BytesPerSector) * uint32(raw.SectorsPerCluster)
	totalClusters := dataSectors / uint32(raw.SectorsPerCluster)

	if bytesPerCluster > 32768 {
		return nil, fatguard.ErrInvalidFileSystem.WithMessage(
			fmt.Sprintf("BytesPerCluster %d exceeds 32768", bytesPerCluster))
	}

	variant := DetermineFATVariant(totalClusters)
	if variant == fatguard.FAT32 && rootDirSectors != 0 {
		return nil, fatguard.ErrInvalidFileSystem.WithMessage("RootEntryCount nonzero on a FAT32 volume")
	}

	bpb := &BPB{
		Raw:               raw,
		Variant:           variant,
		SectorsPerFAT:     sectorsPerFAT,
		TotalFATSectors:   totalFATSectors,
		RootDirSectors:    rootDirSectors,
		BytesPerCluster:   bytesPerCluster,
		TotalClusters:     totalClusters,
		TotalDataSectors:  dataSectors,
		FirstDataSector:   firstDataSector,
		FirstFATSector:    uint32(raw.ReservedSectors),
		RootDirSector:     uint32(raw.ReservedSectors) + totalFATSectors,
		DirentsPerCluster: bytesPerCluster / direntSize,
	}

	if variant == fatguard.FAT32 {
		tail := RawBPB32Tail{}
		if err := binary.Read(bytesReader(sector[36:]), binary.LittleEndian, &tail); err != nil {
			return nil, fatguard.ErrIOFailed.Wrap(err)
		}
		bpb.Raw32 = tail
		bpb.SectorsPerFAT = tail.SectorsPerFAT32
		bpb.TotalFATSectors = uint32(raw.NumFATs) * tail.SectorsPerFAT32
		bpb.FirstDataSector = uint32(raw.ReservedSectors) + bpb.TotalFATSectors
	}

	return bpb, nil
}

func bytesReader(b []byte) io.Reader {
	return &sliceReader{data: b}
}

type sliceReader struct {
	data []byte
	pos  int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

// ClusterToSector computes the first sector of a cluster, per spec §4.3:
// data_start + (cluster_id - 2) * sectors_per_cluster.
func (b *BPB) ClusterToSector(cluster uint32) uint32 {
	return b.FirstDataSector + (cluster-2)*uint32(b.Raw.SectorsPerCluster)
}

// RootCluster returns the FAT32 root directory's first cluster, or 0 for
// FAT12/16 where the root is a fixed area rather than a cluster chain.
func (b *BPB) RootCluster() uint32 {
	if b.Variant == fatguard.FAT32 {
		return b.Raw32.RootCluster
	}
	return 0
}
