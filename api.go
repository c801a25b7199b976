package fatguard

// MountFlags controls the access permissions a Volume is mounted with. The
// bit layout follows the teacher's MountFlags exactly; only the meaning of
// "write" differs slightly here since CheckDisk needs a read-only mode that
// still allows it to report (but not repair) findings.
type MountFlags int

const (
	// MountFlagsAllowRead mounts the volume with read permissions.
	MountFlagsAllowRead = MountFlags(1 << iota)
	// MountFlagsAllowWrite mounts the volume with write permissions: existing
	// sectors can be modified, but nothing new can be allocated.
	MountFlagsAllowWrite = MountFlags(1 << iota)
	// MountFlagsAllowInsert permits allocating new clusters and directory
	// entries (LFN inserts, CheckDisk's FOUND.DDD salvage directories).
	MountFlagsAllowInsert = MountFlags(1 << iota)
	// MountFlagsAllowDelete permits freeing cluster chains and marking
	// directory entries deleted.
	MountFlagsAllowDelete = MountFlags(1 << iota)
	// MountFlagsCustomStart is the lowest bit not defined by this module;
	// higher bits are reserved for caller-specific use and are always
	// ignored here.
	MountFlagsCustomStart = MountFlags(1 << iota)
)

func (flags MountFlags) CanRead() bool   { return flags&MountFlagsAllowRead != 0 }
func (flags MountFlags) CanWrite() bool  { return flags&MountFlagsAllowWrite != 0 }
func (flags MountFlags) CanInsert() bool { return flags&MountFlagsAllowInsert != 0 }
func (flags MountFlags) CanDelete() bool { return flags&MountFlagsAllowDelete != 0 }

const MountFlagsAllowReadWrite = MountFlagsAllowRead | MountFlagsAllowWrite
const MountFlagsAllowAll = (MountFlagsAllowRead |
	MountFlagsAllowWrite |
	MountFlagsAllowInsert |
	MountFlagsAllowDelete)
const MountFlagsMask = MountFlagsCustomStart - 1

// MountState is the tri-state a Volume can be in, per spec §3.
type MountState int

const (
	Unmounted MountState = iota
	MountedReadOnly
	MountedReadWrite
)

// FATVariant identifies which flavor of the allocation table a Volume uses.
// The numeric value intentionally matches the conventional bit width so
// that FATVariant(12)/(16)/(32) reads naturally at call sites.
type FATVariant int

const (
	FAT12 FATVariant = 12
	FAT16 FATVariant = 16
	FAT32 FATVariant = 32
)

func (v FATVariant) String() string {
	switch v {
	case FAT12:
		return "FAT12"
	case FAT16:
		return "FAT16"
	case FAT32:
		return "FAT32"
	default:
		return "FAT(unknown)"
	}
}

// PartitioningScheme is the result of probing sector 0 of a device, per
// spec §6's "query partitioning scheme" surface.
type PartitioningScheme int

const (
	SchemeNone PartitioningScheme = iota
	SchemeMBR
	SchemeGPT
)
