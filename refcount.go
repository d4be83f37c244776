package qcow2

import (
	"encoding/binary"
	"fmt"
)

// refsPerCluster is the number of 16-bit refcount entries that fit in
// one cluster-sized refcount block (§4.4).
func (e *Engine) refsPerCluster() uint64 {
	return e.clusterSize / 2
}

// incrRefcount increments the reference count of the cluster at index
// c by one, allocating a refcount block for it if none exists yet.
//
// Only the first refcount block is ever populated — growing the
// refcount table itself is a known limitation (§4.4 step 1, §9): any
// cluster index that would land in a second block fails with
// ErrRefcountEnlargementUnsupported rather than corrupting the image.
//
// Note this does not recursively bump the refcount of a refcount
// block it allocates along the way; that cyclic case is the
// documented open question in §9 and is left unresolved here.
func (e *Engine) incrRefcount(c uint64) error {
	refsPerCluster := e.refsPerCluster()
	tableIndex := c / refsPerCluster
	withinIndex := c % refsPerCluster

	if tableIndex > 0 {
		return ErrRefcountEnlargementUnsupported
	}

	refTableBuf := make([]byte, e.clusterSize)
	if _, err := e.device.ReadAt(refTableBuf, int64(e.header.RefcountTableOffset)); err != nil {
		return fmt.Errorf("qcow2: read refcount table: %w", err)
	}

	entryOff := 8 * tableIndex
	blockOffset := binary.BigEndian.Uint64(refTableBuf[entryOff : entryOff+8])

	if blockOffset == 0 {
		newBlock, err := e.extend()
		if err != nil {
			return fmt.Errorf("qcow2: allocate refcount block: %w", err)
		}

		block := make([]byte, e.clusterSize)
		binary.BigEndian.PutUint16(block[2*withinIndex:], 1)
		if _, err := e.device.WriteAt(block, int64(newBlock)); err != nil {
			return fmt.Errorf("qcow2: write refcount block: %w", err)
		}

		binary.BigEndian.PutUint64(refTableBuf[entryOff:entryOff+8], newBlock)
		if _, err := e.device.WriteAt(refTableBuf, int64(e.header.RefcountTableOffset)); err != nil {
			return fmt.Errorf("qcow2: write refcount table: %w", err)
		}
		return nil
	}

	block := make([]byte, e.clusterSize)
	if _, err := e.device.ReadAt(block, int64(blockOffset)); err != nil {
		return fmt.Errorf("qcow2: read refcount block: %w", err)
	}

	current := binary.BigEndian.Uint16(block[2*withinIndex:])
	if current == 0xffff {
		return fmt.Errorf("%w: cluster %d", ErrRefcountOverflow, c)
	}
	binary.BigEndian.PutUint16(block[2*withinIndex:], current+1)

	if _, err := e.device.WriteAt(block, int64(blockOffset)); err != nil {
		return fmt.Errorf("qcow2: write refcount block: %w", err)
	}
	return nil
}

// clusterRefcount reads the refcount for cluster index c without
// modifying it. Used by Check to verify invariant 3.
func (e *Engine) clusterRefcount(c uint64) (uint16, error) {
	refsPerCluster := e.refsPerCluster()
	tableIndex := c / refsPerCluster
	withinIndex := c % refsPerCluster

	refTableBuf := make([]byte, e.clusterSize)
	if _, err := e.device.ReadAt(refTableBuf, int64(e.header.RefcountTableOffset)); err != nil {
		return 0, fmt.Errorf("qcow2: read refcount table: %w", err)
	}

	tableEntries := e.clusterSize / 8
	if tableIndex >= tableEntries {
		return 0, nil
	}

	entryOff := 8 * tableIndex
	blockOffset := binary.BigEndian.Uint64(refTableBuf[entryOff : entryOff+8])
	if blockOffset == 0 {
		return 0, nil
	}

	block := make([]byte, e.clusterSize)
	if _, err := e.device.ReadAt(block, int64(blockOffset)); err != nil {
		return 0, fmt.Errorf("qcow2: read refcount block: %w", err)
	}
	return binary.BigEndian.Uint16(block[2*withinIndex:]), nil
}
