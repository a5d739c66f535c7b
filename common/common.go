package common

// Inum is an inode number.
type Inum uint32

// Daddr is a disk address, counted in fragments from the start of the device.
type Daddr = int32

// Lbn is a logical block number within a file. Negative numbers name
// indirect blocks, UFS style.
type Lbn = int32

const (
	NULLINUM   Inum = 0
	IFILE_INUM Inum = 1
	// first inode handed out by the ifile free list
	FIRST_INUM Inum = 2
)

const (
	NDADDR = 12 // direct block pointers in a dinode
	NIADDR = 3  // single, double, triple indirect

	DINODE_SIZE uint64 = 128

	// reserved at the front of segment 0 for a disk label
	LABELPAD uint64 = 8192
	// space for one superblock copy
	SBPAD    uint64 = 8192
	MAXNUMSB        = 10
)

const (
	UNUSED_DADDR Daddr = 0
	UNASSIGNED   Daddr = -1
	// logically allocated, not yet written anywhere
	UNWRITTEN Daddr = -2
)
