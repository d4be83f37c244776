package qcow2

// offsetKind tags which unit an Offset's value is expressed in. Kept
// as an explicit variant rather than three separate uint64 parameter
// types, so a byte count can never be silently passed where a sector
// or cluster count was meant.
type offsetKind int

const (
	offsetBytes offsetKind = iota
	offsetSector
	offsetCluster
)

// Offset is a virtual or physical position expressed in one of three
// units: raw bytes, physical sectors, or clusters. All arithmetic is
// performed in 64-bit unsigned space.
type Offset struct {
	kind offsetKind
	v    uint64
}

// Bytes constructs an Offset expressed as a byte count.
func Bytes(b uint64) Offset { return Offset{kind: offsetBytes, v: b} }

// Sectors constructs an Offset expressed as a count of physical
// sectors.
func Sectors(s uint64) Offset { return Offset{kind: offsetSector, v: s} }

// Clusters constructs an Offset expressed as a count of clusters.
func Clusters(c uint64) Offset { return Offset{kind: offsetCluster, v: c} }

// ToBytes converts o to a byte count. sectorSize and clusterBits are
// only consulted for the variant that needs them.
func (o Offset) ToBytes(clusterBits uint32, sectorSize uint64) uint64 {
	switch o.kind {
	case offsetBytes:
		return o.v
	case offsetSector:
		return o.v * sectorSize
	case offsetCluster:
		return o.v << clusterBits
	default:
		panic("qcow2: unknown offset kind")
	}
}

// ToSector converts o to a physical sector number and the byte offset
// within that sector, given the backing device's physical sector size.
func (o Offset) ToSector(clusterBits uint32, sectorSize uint64) (sector uint64, within uint64) {
	b := o.ToBytes(clusterBits, sectorSize)
	return b / sectorSize, b % sectorSize
}

// address is the computed (never persisted) decomposition of a virtual
// byte offset into an L1 index, an L2 index, and an intra-cluster byte
// offset, per §3.1:
//
//	l2_index = bits [C .. 2C-3)
//	l1_index = bits [2C-3 .. infinity)
//	cluster  = bits [0 .. C)
type address struct {
	l1Index uint64
	l2Index uint64
	inClust uint64
}

// newAddress decomposes a virtual byte offset using cluster-bits C.
// Each L2 table holds 2^(C-3) entries (8 bytes each fill one cluster),
// so the L2 index occupies the C-3 bits above the cluster offset and
// the L1 index is everything above that.
func newAddress(virtOff uint64, clusterBits uint32) address {
	l2Bits := clusterBits - 3
	clusterMask := (uint64(1) << clusterBits) - 1
	l2Mask := (uint64(1) << l2Bits) - 1

	return address{
		l1Index: virtOff >> (clusterBits + l2Bits),
		l2Index: (virtOff >> clusterBits) & l2Mask,
		inClust: virtOff & clusterMask,
	}
}
