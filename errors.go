package qcow2

import "errors"

// Error kinds surfaced by the core. Underlying backing-device failures
// are propagated verbatim (wrapped with %w), never translated into one
// of these.
var (
	// ErrInvalidMagic is returned when a header's magic number does not
	// match the QCOW2 signature.
	ErrInvalidMagic = errors.New("qcow2: invalid magic number")

	// ErrUnsupportedVersion is returned for any version other than 2.
	// Backing-file chains, snapshots, and the v3-only feature bitmaps
	// make later versions out of scope for this core.
	ErrUnsupportedVersion = errors.New("qcow2: unsupported version (only v2 is supported)")

	// ErrInvalidClusterBits is returned when a connected image's
	// cluster-bits field falls outside the permitted range.
	ErrInvalidClusterBits = errors.New("qcow2: invalid cluster bits")

	// ErrHeaderTooShort is returned when fewer than HeaderSize bytes
	// are available to parse.
	ErrHeaderTooShort = errors.New("qcow2: header too short")

	// ErrUnsupportedCompressedCluster is fatal: raised when bit 62 is
	// set on any L1 or L2 entry encountered during a walk.
	ErrUnsupportedCompressedCluster = errors.New("qcow2: compressed clusters are not supported")

	// ErrRefcountEnlargementUnsupported is raised when a cluster index
	// falls outside the first refcount block. Growing the refcount
	// table is a known limitation (see DESIGN.md).
	ErrRefcountEnlargementUnsupported = errors.New("qcow2: refcount table enlargement not implemented")

	// ErrBadAlignment is raised by resize for a target size that is not
	// a whole multiple of the physical sector size.
	ErrBadAlignment = errors.New("qcow2: size is not a multiple of the sector size")

	// ErrUnreachableUnmappedWrite is defensive: walk with allocate=true
	// should never return an unmapped address.
	ErrUnreachableUnmappedWrite = errors.New("qcow2: this should never happen (unmapped write target)")

	// ErrReadOnly is returned by Write when the engine was connected
	// read-only.
	ErrReadOnly = errors.New("qcow2: image is read-only")

	// ErrRefcountOverflow is returned when a 16-bit refcount would wrap.
	ErrRefcountOverflow = errors.New("qcow2: refcount overflow")
)
