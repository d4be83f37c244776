package qcow2

import (
	"fmt"

	"github.com/google/uuid"
)

// CreateOptions configures a new QCOW2 v2 image. Size is the only
// knob: cluster-bits is fixed at DefaultClusterBits (64 KiB clusters)
// on creation per §4.7 — other cluster sizes are only ever read back
// when Connect attaches to an image created by another tool.
type CreateOptions struct {
	// Size is the virtual disk size in bytes (required).
	Size uint64
}

// Create lays out a fresh QCOW2 v2 image of the requested virtual
// size on dev and returns an Engine ready to read and write it
// (§4.7). dev must be empty or its existing contents are overwritten.
func Create(dev BlockDevice, opts CreateOptions) (*Engine, error) {
	if opts.Size == 0 {
		return nil, fmt.Errorf("qcow2: create: size is required")
	}

	info, err := dev.Info()
	if err != nil {
		return nil, fmt.Errorf("qcow2: device info: %w", err)
	}
	if !info.ReadWrite {
		return nil, ErrReadOnly
	}

	const clusterBits = DefaultClusterBits
	clusterSize := uint64(1) << clusterBits

	// bytesPerL2 is how much virtual address space one L2 table
	// (2^(C-3) entries, each covering one cluster) can cover.
	bytesPerL2 := uint64(1) << (2*clusterBits - 3)
	l1Size := (opts.Size + bytesPerL2 - 1) / bytesPerL2
	if l1Size == 0 {
		l1Size = 1
	}
	l1Clusters := (l1Size*8 + clusterSize - 1) / clusterSize

	// Layout: cluster 0 is the header, cluster 1 the refcount table,
	// clusters [2, 2+l1Clusters) the (empty) L1 table. Refcount
	// blocks, L2 tables, and data clusters are allocated lazily by
	// extend() as the image is used.
	refcountTableOffset := clusterSize
	l1TableOffset := 2 * clusterSize
	totalClusters := uint64(2) + l1Clusters

	layoutBytes := totalClusters << clusterBits
	if layoutBytes%info.SectorSize != 0 {
		return nil, fmt.Errorf("%w: layout size %d is not sector-aligned", ErrBadAlignment, layoutBytes)
	}
	if err := dev.Resize(layoutBytes); err != nil {
		return nil, fmt.Errorf("qcow2: resize for layout: %w", err)
	}
	info.SizeBytes = layoutBytes

	header := &Header{
		Magic:                 Magic,
		Version:               Version2,
		ClusterBits:           clusterBits,
		Size:                  opts.Size,
		CryptMethod:           EncryptMethodNone,
		L1Size:                uint32(l1Size),
		L1TableOffset:         l1TableOffset,
		RefcountTableOffset:   refcountTableOffset,
		RefcountTableClusters: 1,
	}

	// The header is written as whole zero-padded sectors at offset 0.
	headerBytes := (HeaderSize + info.SectorSize - 1) / info.SectorSize * info.SectorSize
	headerBuf := make([]byte, headerBytes)
	copy(headerBuf, header.Encode())
	if _, err := dev.WriteAt(headerBuf, 0); err != nil {
		return nil, fmt.Errorf("qcow2: write header: %w", err)
	}

	zero := make([]byte, clusterSize)
	if _, err := dev.WriteAt(zero, int64(refcountTableOffset)); err != nil {
		return nil, fmt.Errorf("qcow2: write refcount table: %w", err)
	}
	for i := uint64(0); i < l1Clusters; i++ {
		if _, err := dev.WriteAt(zero, int64(l1TableOffset+i*clusterSize)); err != nil {
			return nil, fmt.Errorf("qcow2: write L1 table: %w", err)
		}
	}

	e := &Engine{
		ID:          uuid.New(),
		device:      dev,
		deviceInfo:  info,
		header:      header,
		clusterBits: clusterBits,
		clusterSize: clusterSize,
		l2Entries:   header.L2Entries(),
		nextCluster: totalClusters,
		readWrite:   true,
	}

	if err := e.incrRefcount(0); err != nil {
		return nil, fmt.Errorf("qcow2: refcount header cluster: %w", err)
	}
	if err := e.incrRefcount(refcountTableOffset >> clusterBits); err != nil {
		return nil, fmt.Errorf("qcow2: refcount refcount-table cluster: %w", err)
	}
	for i := uint64(0); i < l1Clusters; i++ {
		if err := e.incrRefcount((l1TableOffset >> clusterBits) + i); err != nil {
			return nil, fmt.Errorf("qcow2: refcount L1-table cluster: %w", err)
		}
	}

	return e, nil
}
