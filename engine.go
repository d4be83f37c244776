package qcow2

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// VirtualSectorSize is the fixed sector size the engine presents on
// its virtual device, independent of the backing device's physical
// sector size (invariant 6).
const VirtualSectorSize = 512

// VirtualInfo describes the virtual disk the engine presents.
type VirtualInfo struct {
	ReadWrite   bool
	SectorSize  uint64 // always VirtualSectorSize
	SizeSectors uint64
}

// Engine is the QCOW2 core: the parsed header, a handle to the
// underlying device, and the mutable next_cluster allocation cursor
// (§3.1). Per §5 the design assumes single-opener semantics; Engine
// serializes its own public operations with a single mutex rather than
// the teacher's finer-grained per-table locks, since this core has no
// concurrent-reader cache to protect.
type Engine struct {
	mu sync.Mutex

	// ID is a process-local identifier, useful when a caller has more
	// than one Engine open at once and wants to tag log/error context.
	ID uuid.UUID

	device     BlockDevice
	deviceInfo DeviceInfo
	header     *Header

	clusterBits uint32
	clusterSize uint64
	l2Entries   uint64

	// nextCluster is the sole mutable allocation cursor (§9): the
	// index of the first unallocated cluster, always equal to the
	// backing device's current size in clusters.
	nextCluster uint64

	readWrite bool
}

// ConnectOption configures Connect.
type ConnectOption func(*connectOptions)

type connectOptions struct {
	readOnly bool
}

// WithReadOnly opens the image without permitting Write. Matches the
// teacher's OpenFile read-only mode, minus the caching/compression
// knobs that mode also gated there.
func WithReadOnly() ConnectOption {
	return func(o *connectOptions) { o.readOnly = true }
}

// Connect attaches to an existing QCOW2 v2 image on dev, reading its
// header exactly once.
func Connect(dev BlockDevice, opts ...ConnectOption) (*Engine, error) {
	cfg := &connectOptions{}
	for _, opt := range opts {
		opt(cfg)
	}

	info, err := dev.Info()
	if err != nil {
		return nil, fmt.Errorf("qcow2: device info: %w", err)
	}

	// Read the whole sectors that hold the header.
	raw := make([]byte, (HeaderSize+info.SectorSize-1)/info.SectorSize*info.SectorSize)
	if _, err := dev.ReadAt(raw, 0); err != nil {
		return nil, fmt.Errorf("qcow2: read header: %w", err)
	}

	header, err := ParseHeader(raw)
	if err != nil {
		return nil, fmt.Errorf("qcow2: parse header: %w", err)
	}

	readWrite := info.ReadWrite && !cfg.readOnly

	e := &Engine{
		ID:          uuid.New(),
		device:      dev,
		deviceInfo:  info,
		header:      header,
		clusterBits: header.ClusterBits,
		clusterSize: header.ClusterSize(),
		l2Entries:   header.L2Entries(),
		readWrite:   readWrite,
	}
	e.nextCluster = info.SizeBytes >> e.clusterBits

	return e, nil
}

// GetInfo returns the virtual disk's currently presented geometry.
func (e *Engine) GetInfo() VirtualInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	return VirtualInfo{
		ReadWrite:   e.readWrite,
		SectorSize:  VirtualSectorSize,
		SizeSectors: e.header.Size / VirtualSectorSize,
	}
}

// Disconnect releases the underlying device. The engine must not be
// used afterward.
func (e *Engine) Disconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.device.Close()
}
