package fatcore

import (
	"github.com/embedfat/fatguard"
	"github.com/embedfat/fatguard/blockio"
)

// DirStream is a flat view over a directory's 32-byte slots, hiding
// whether the backing storage is the FAT12/16 fixed root area or a
// cluster chain (FAT32 root, or any subdirectory). LFN and CheckDisk both
// walk directories exclusively through this interface.
type DirStream interface {
	NumSlots() int
	Get(slot int) ([]byte, error)
	Put(slot int, data []byte) error
	// Grow appends one cluster's worth of zeroed slots. ok is false when
	// the directory cannot grow (the FAT12/16 fixed root area), per spec
	// §4.4.5's DISK_FULL case.
	Grow() (ok bool, err error)
}

// fixedRootDir backs the FAT12/16 root directory: a run of whole sectors
// immediately following the FAT copies, sized once at format time.
type fixedRootDir struct {
	fat         *FAT
	firstSector blockio.SectorID
	numSectors  uint32
}

func (d *fixedRootDir) slotsPerSector() int {
	return int(d.fat.bpb.Raw.BytesPerSector) / direntSize
}

func (d *fixedRootDir) NumSlots() int {
	return d.slotsPerSector() * int(d.numSectors)
}

func (d *fixedRootDir) locate(slot int) (blockio.SectorID, int) {
	perSector := d.slotsPerSector()
	return d.firstSector + blockio.SectorID(slot/perSector), (slot % perSector) * direntSize
}

func (d *fixedRootDir) Get(slot int) ([]byte, error) {
	if slot < 0 || slot >= d.NumSlots() {
		return nil, fatguard.ErrArgumentOutOfRange
	}
	sector, offset := d.locate(slot)
	sb, err := d.fat.volume.Acquire(sector, blockio.SectorDirectory)
	if err != nil {
		return nil, err
	}
	defer sb.Release()
	out := make([]byte, direntSize)
	copy(out, sb.Bytes()[offset:offset+direntSize])
	return out, nil
}

func (d *fixedRootDir) Put(slot int, data []byte) error {
	if slot < 0 || slot >= d.NumSlots() {
		return fatguard.ErrArgumentOutOfRange
	}
	sector, offset := d.locate(slot)
	sb, err := d.fat.volume.Acquire(sector, blockio.SectorDirectory)
	if err != nil {
		return err
	}
	copy(sb.Bytes()[offset:offset+direntSize], data)
	sb.MarkDirty()
	return sb.Release()
}

func (d *fixedRootDir) Grow() (bool, error) {
	return false, nil
}

// chainDir backs any cluster-chain directory: FAT32's root, or any
// subdirectory on any variant.
type chainDir struct {
	fat     *FAT
	first   ClusterID
	clusters []ClusterID // cached chain, extended by Grow
}

// NewRootDirStream returns the DirStream for the volume's root directory,
// choosing the fixed-area or cluster-chain implementation per variant.
func NewRootDirStream(fat *FAT) (DirStream, error) {
	if fat.bpb.Variant == fatguard.FAT32 {
		return NewChainDirStream(fat, ClusterID(fat.bpb.RootCluster()))
	}
	rootSector := blockio.SectorID(fat.bpb.RootDirSector)
	return &fixedRootDir{fat: fat, firstSector: rootSector, numSectors: fat.bpb.RootDirSectors}, nil
}

// NewChainDirStream returns a DirStream over the cluster chain starting at
// first, used for FAT32 roots and every subdirectory.
func NewChainDirStream(fat *FAT, first ClusterID) (DirStream, error) {
	chain, err := walkFullChain(fat, first)
	if err != nil {
		return nil, err
	}
	return &chainDir{fat: fat, first: first, clusters: chain}, nil
}

func walkFullChain(fat *FAT, first ClusterID) ([]ClusterID, error) {
	if first == 0 {
		return nil, nil
	}
	chain := []ClusterID{first}
	current := first
	for {
		value, err := fat.ReadEntry(current)
		if err != nil {
			return nil, err
		}
		if IsEndOfChain(fat.bpb.Variant, value) || value == 0 {
			return chain, nil
		}
		current = ClusterID(value)
		chain = append(chain, current)
	}
}

func (d *chainDir) slotsPerCluster() int {
	return int(d.fat.bpb.DirentsPerCluster)
}

func (d *chainDir) NumSlots() int {
	return d.slotsPerCluster() * len(d.clusters)
}

func (d *chainDir) locate(slot int) (blockio.SectorID, int) {
	perCluster := d.slotsPerCluster()
	clusterIdx := slot / perCluster
	withinCluster := slot % perCluster

	bytesPerSector := int(d.fat.bpb.Raw.BytesPerSector)
	slotsPerSector := bytesPerSector / direntSize
	sectorOffset := withinCluster / slotsPerSector
	entryOffset := (withinCluster % slotsPerSector) * direntSize

	baseSector := d.fat.ClusterToSector(d.clusters[clusterIdx])
	return baseSector + blockio.SectorID(sectorOffset), entryOffset
}

func (d *chainDir) Get(slot int) ([]byte, error) {
	if slot < 0 || slot >= d.NumSlots() {
		return nil, fatguard.ErrArgumentOutOfRange
	}
	sector, offset := d.locate(slot)
	sb, err := d.fat.volume.Acquire(sector, blockio.SectorDirectory)
	if err != nil {
		return nil, err
	}
	defer sb.Release()
	out := make([]byte, direntSize)
	copy(out, sb.Bytes()[offset:offset+direntSize])
	return out, nil
}

func (d *chainDir) Put(slot int, data []byte) error {
	if slot < 0 || slot >= d.NumSlots() {
		return fatguard.ErrArgumentOutOfRange
	}
	sector, offset := d.locate(slot)
	sb, err := d.fat.volume.Acquire(sector, blockio.SectorDirectory)
	if err != nil {
		return err
	}
	copy(sb.Bytes()[offset:offset+direntSize], data)
	sb.MarkDirty()
	return sb.Release()
}

func (d *chainDir) Grow() (bool, error) {
	next, err := d.fat.AllocCluster(d.clusters[len(d.clusters)-1])
	if err != nil {
		return false, err
	}
	if next == 0 {
		return false, nil
	}

	zero := make([]byte, d.fat.bpb.BytesPerCluster)
	sectorsPerCluster := int(d.fat.bpb.Raw.SectorsPerCluster)
	baseSector := d.fat.ClusterToSector(next)
	bytesPerSector := int(d.fat.bpb.Raw.BytesPerSector)
	for i := 0; i < sectorsPerCluster; i++ {
		if err := d.fat.volume.WriteSector(baseSector+blockio.SectorID(i), blockio.SectorDirectory, zero[i*bytesPerSector:(i+1)*bytesPerSector]); err != nil {
			return false, err
		}
	}

	d.clusters = append(d.clusters, next)
	return true, nil
}
