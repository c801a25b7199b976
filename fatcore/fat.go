package fatcore

import (
	"encoding/binary"

	"github.com/embedfat/fatguard"
	"github.com/embedfat/fatguard/blockio"
)

// ClusterID identifies a cluster in the data region. Values 0 and 1 are
// never valid data clusters; the first real data cluster is always 2
// (spec §3, FirstDataClusterIndex).
type ClusterID uint32

// endOfChain returns the variant-specific marker value CheckDisk/LFN
// compare walk_chain results against (spec §4.3).
func endOfChain(variant fatguard.FATVariant) uint32 {
	switch variant {
	case fatguard.FAT12:
		return 0xFFF
	case fatguard.FAT16:
		return 0xFFFF
	default:
		return 0x0FFFFFFF
	}
}

// IsEndOfChain reports whether a raw FAT entry value (already masked to
// the variant's width) denotes end-of-chain. Any marker value >= the
// minimum EOC code is treated as EOC, matching how real FAT drivers treat
// the whole 0xFF8-0xFFF / 0xFFF8-0xFFFF / 0x0FFFFFF8-0x0FFFFFFF ranges as
// "end", not just the single all-ones value.
func IsEndOfChain(variant fatguard.FATVariant, value uint32) bool {
	switch variant {
	case fatguard.FAT12:
		return value >= 0xFF8
	case fatguard.FAT16:
		return value >= 0xFFF8
	default:
		return value >= 0x0FFFFFF8
	}
}

// FAT is a mounted allocation table: the BPB it was parsed from, the
// backing volume, and the write counter interference detection described
// in spec §5 requires.
type FAT struct {
	bpb          *BPB
	volume       *blockio.Volume
	writeCounter uint64
}

// Mount binds a parsed BPB to a block volume, ready for entry reads/writes
// and chain walks.
func Mount(bpb *BPB, volume *blockio.Volume) *FAT {
	return &FAT{bpb: bpb, volume: volume}
}

// WriteCounter reports the number of allocation-table mutations made
// through this FAT so far, for the interference check in spec §5.
func (f *FAT) WriteCounter() uint64 {
	return f.writeCounter
}

// entryLocation returns the (sector, offset-within-sector) pair holding
// the FAT12/16/32 entry for cluster.
func (f *FAT) entryLocation(cluster ClusterID) (sector blockio.SectorID, offset uint32, width int) {
	bytesPerSector := uint32(f.bpb.Raw.BytesPerSector)

	switch f.bpb.Variant {
	case fatguard.FAT12:
		// FAT12 entries are 12 bits and may straddle a sector boundary;
		// the byte offset within the whole FAT is floor(cluster * 1.5).
		byteOff := uint32(cluster) + uint32(cluster)/2
		sec := f.bpb.FirstFATSector + byteOff/bytesPerSector
		off := byteOff % bytesPerSector
		return blockio.SectorID(sec), off, 12
	case fatguard.FAT16:
		byteOff := uint32(cluster) * 2
		sec := f.bpb.FirstFATSector + byteOff/bytesPerSector
		off := byteOff % bytesPerSector
		return blockio.SectorID(sec), off, 16
	default:
		byteOff := uint32(cluster) * 4
		sec := f.bpb.FirstFATSector + byteOff/bytesPerSector
		off := byteOff % bytesPerSector
		return blockio.SectorID(sec), off, 32
	}
}

// ReadEntry returns the raw value stored for cluster, masked to the
// variant's width (spec §4.3's read_fat_entry).
func (f *FAT) ReadEntry(cluster ClusterID) (uint32, error) {
	sector, offset, width := f.entryLocation(cluster)

	sb, err := f.volume.Acquire(sector, blockio.SectorManagement)
	if err != nil {
		return 0, err
	}
	defer sb.Release()

	switch width {
	case 12:
		return f.read12(sb, cluster, sector, offset)
	case 16:
		return uint32(binary.LittleEndian.Uint16(sb.Bytes()[offset : offset+2])), nil
	default:
		return binary.LittleEndian.Uint32(sb.Bytes()[offset:offset+4]) & 0x0FFFFFFF, nil
	}
}

// read12 handles the FAT12 straddling case: if the 12-bit entry crosses
// into the next sector, that sector must be acquired separately.
func (f *FAT) read12(sb *blockio.SectorBuffer, cluster ClusterID, sector blockio.SectorID, offset uint32) (uint32, error) {
	bytesPerSector := uint32(f.bpb.Raw.BytesPerSector)
	var lo, hi byte
	lo = sb.Bytes()[offset]
	if offset+1 < bytesPerSector {
		hi = sb.Bytes()[offset+1]
	} else {
		next, err := f.volume.Acquire(sector+1, blockio.SectorManagement)
		if err != nil {
			return 0, err
		}
		defer next.Release()
		hi = next.Bytes()[0]
	}

	value := uint32(lo) | (uint32(hi) << 8)
	if cluster%2 == 0 {
		return value & 0xFFF, nil
	}
	return value >> 4, nil
}

// WriteEntry stores value into cluster's FAT entry. FAT32 writes preserve
// the existing top 4 reserved bits, per spec §4.3's caveat. Both copies of
// the allocation table (NumFATs) are kept in sync.
func (f *FAT) WriteEntry(cluster ClusterID, value uint32) error {
	sector, offset, width := f.entryLocation(cluster)

	for copyIdx := uint8(0); copyIdx < f.bpb.Raw.NumFATs; copyIdx++ {
		copySector := sector + blockio.SectorID(copyIdx)*blockio.SectorID(f.bpb.SectorsPerFAT)

		if width == 12 {
			if err := f.write12(copySector, cluster, offset, value); err != nil {
				return err
			}
			continue
		}

		sb, err := f.volume.Acquire(copySector, blockio.SectorManagement)
		if err != nil {
			return err
		}
		if width == 16 {
			binary.LittleEndian.PutUint16(sb.Bytes()[offset:offset+2], uint16(value))
		} else {
			existing := binary.LittleEndian.Uint32(sb.Bytes()[offset : offset+4])
			merged := (existing & 0xF0000000) | (value & 0x0FFFFFFF)
			binary.LittleEndian.PutUint32(sb.Bytes()[offset:offset+4], merged)
		}
		sb.MarkDirty()
		if err := sb.Release(); err != nil {
			return err
		}
	}

	f.writeCounter++
	return nil
}

func (f *FAT) write12(sector blockio.SectorID, cluster ClusterID, offset uint32, value uint32) error {
	bytesPerSector := uint32(f.bpb.Raw.BytesPerSector)

	sb, err := f.volume.Acquire(sector, blockio.SectorManagement)
	if err != nil {
		return err
	}

	var next *blockio.SectorBuffer
	if offset+1 >= bytesPerSector {
		next, err = f.volume.Acquire(sector+1, blockio.SectorManagement)
		if err != nil {
			sb.Release()
			return err
		}
	}

	lo := sb.Bytes()[offset]
	var hi byte
	if next != nil {
		hi = next.Bytes()[0]
	} else {
		hi = sb.Bytes()[offset+1]
	}
	existing := uint32(lo) | (uint32(hi) << 8)

	var merged uint32
	if cluster%2 == 0 {
		merged = (existing & 0xF000) | (value & 0xFFF)
	} else {
		merged = (existing & 0x000F) | ((value & 0xFFF) << 4)
	}

	sb.Bytes()[offset] = byte(merged)
	if next != nil {
		next.Bytes()[0] = byte(merged >> 8)
		next.MarkDirty()
		if err := next.Release(); err != nil {
			sb.Release()
			return err
		}
	} else {
		sb.Bytes()[offset+1] = byte(merged >> 8)
	}
	sb.MarkDirty()
	return sb.Release()
}

// MarkEOC writes the variant's end-of-chain marker into cluster's entry
// (spec §4.3's mark_eoc).
func (f *FAT) MarkEOC(cluster ClusterID) error {
	return f.WriteEntry(cluster, endOfChain(f.bpb.Variant))
}

// WalkChain follows the chain from first for nSteps hops and returns the
// resulting cluster id. A return of 0 means the chain ended in a free
// cluster (corruption); IsEndOfChain on the returned value signals a
// normal terminus.
func (f *FAT) WalkChain(first ClusterID, nSteps int) (ClusterID, error) {
	current := first
	for i := 0; i < nSteps; i++ {
		value, err := f.ReadEntry(current)
		if err != nil {
			return 0, err
		}
		if value == 0 || IsEndOfChain(f.bpb.Variant, value) {
			return ClusterID(value), nil
		}
		current = ClusterID(value)
	}
	return current, nil
}

// FindLastCluster follows the chain from first to its end (a cluster
// whose entry is EOC), returning the last cluster id and the number of
// clusters visited, per spec §4.3's find_last_cluster.
func (f *FAT) FindLastCluster(first ClusterID) (last ClusterID, count uint32, err error) {
	current := first
	count = 1
	for {
		value, err := f.ReadEntry(current)
		if err != nil {
			return 0, 0, err
		}
		if IsEndOfChain(f.bpb.Variant, value) {
			return current, count, nil
		}
		if value == 0 {
			// Chain dangles into a free cluster; report what we have so
			// callers (CheckDisk) can treat this as a truncated chain.
			return current, count, nil
		}
		current = ClusterID(value)
		count++
	}
}

// FreeChain walks from first, zeroing every entry it visits, up to max
// clusters (0 means unbounded). Per spec §4.3/§8 testable property 7, a
// freed cluster's entry reads back 0.
func (f *FAT) FreeChain(first ClusterID, max uint32) error {
	current := first
	var visited uint32
	for current != 0 {
		value, err := f.ReadEntry(current)
		if err != nil {
			return err
		}
		if err := f.WriteEntry(current, 0); err != nil {
			return err
		}
		visited++
		if max != 0 && visited >= max {
			return nil
		}
		if IsEndOfChain(f.bpb.Variant, value) || value == 0 {
			return nil
		}
		current = ClusterID(value)
	}
	return nil
}

// AllocCluster performs a first-fit scan of the allocation table for a
// free cluster (entry == 0), links it after 'after' if after != 0, marks
// it EOC, and returns its id. Returns 0 if the volume is full, per spec
// §4.3's alloc_cluster contract.
func (f *FAT) AllocCluster(after ClusterID) (ClusterID, error) {
	for candidate := ClusterID(2); candidate < ClusterID(f.bpb.TotalClusters+2); candidate++ {
		value, err := f.ReadEntry(candidate)
		if err != nil {
			return 0, err
		}
		if value != 0 {
			continue
		}
		if err := f.MarkEOC(candidate); err != nil {
			return 0, err
		}
		if after != 0 {
			if err := f.WriteEntry(after, uint32(candidate)); err != nil {
				return 0, err
			}
		}
		return candidate, nil
	}
	return 0, nil
}

// AllocateClusterChain allocates n fresh clusters linked head-to-tail and
// returns the head. Each cluster is the first free one found by
// AllocCluster, so the chain need not be contiguous. Used by lost-chain
// salvage (spec §4.5.4); directory growth uses AllocCluster directly.
func (f *FAT) AllocateClusterChain(n int) (ClusterID, error) {
	if n <= 0 {
		return 0, fatguard.ErrInvalidArgument
	}

	head, err := f.AllocCluster(0)
	if err != nil {
		return 0, err
	}
	if head == 0 {
		return 0, nil
	}

	tail := head
	for i := 1; i < n; i++ {
		next, err := f.AllocCluster(tail)
		if err != nil {
			return 0, err
		}
		if next == 0 {
			f.FreeChain(head, 0)
			return 0, nil
		}
		tail = next
	}
	return head, nil
}

// ClusterToSector delegates to the mounted BPB.
func (f *FAT) ClusterToSector(cluster ClusterID) blockio.SectorID {
	return blockio.SectorID(f.bpb.ClusterToSector(uint32(cluster)))
}

// BPB exposes the mounted boot sector parameters to sibling packages.
func (f *FAT) BPB() *BPB { return f.bpb }

// Volume exposes the backing block volume to sibling packages.
func (f *FAT) Volume() *blockio.Volume { return f.volume }
