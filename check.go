package qcow2

import (
	"encoding/binary"
	"fmt"
)

// CheckResult reports the outcome of Check, a diagnostic walk over an
// image's L1/L2 tables cross-referenced against the refcount table.
// It does not repair anything; the core has no write-side repair path.
type CheckResult struct {
	// Corruptions lists structural problems: a compressed-bit entry,
	// an entry whose cluster index falls outside the first refcount
	// block, or a refcount mismatch against the expected value.
	Corruptions []string

	// AllocatedClusters is the number of distinct clusters the walk
	// found: the header, the refcount-table clusters, the L1-table
	// clusters, every L2 table, and every data cluster. Refcount blocks
	// are not counted.
	AllocatedClusters uint64
}

// IsClean reports whether Check found no corruptions.
func (r *CheckResult) IsClean() bool {
	return len(r.Corruptions) == 0
}

// Check walks the image's metadata and verifies invariant 3 (every
// allocated cluster has a refcount at least equal to the number of
// references found to it) and reports any L1 or L2 entry with the
// compressed bit set. The copied bit of an entry is not inspected. It is
// read-only and safe to call concurrently with nothing else touching
// the engine.
func (e *Engine) Check() (*CheckResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := &CheckResult{}
	expected := make(map[uint64]uint16) // cluster index -> expected refcount

	expected[0]++ // header

	refStart := e.header.RefcountTableOffset >> e.clusterBits
	for i := uint32(0); i < e.header.RefcountTableClusters; i++ {
		expected[refStart+uint64(i)]++
	}

	l1Bytes := uint64(e.header.L1Size) * 8
	l1Clusters := (l1Bytes + e.clusterSize - 1) / e.clusterSize
	l1Start := e.header.L1TableOffset >> e.clusterBits
	for i := uint64(0); i < l1Clusters; i++ {
		expected[l1Start+i]++
	}

	l1Table := make([]byte, l1Clusters*e.clusterSize)
	if _, err := e.device.ReadAt(l1Table, int64(e.header.L1TableOffset)); err != nil {
		return nil, fmt.Errorf("qcow2: check: read L1 table: %w", err)
	}

	for i := uint64(0); i < uint64(e.header.L1Size); i++ {
		l1Entry := binary.BigEndian.Uint64(l1Table[i*8:])
		if l1Entry == 0 {
			continue
		}
		if l1Entry&entryCompressedBit != 0 {
			result.Corruptions = append(result.Corruptions, fmt.Sprintf("L1[%d]: compressed bit set", i))
			continue
		}

		l2Off := l1Entry & entryOffsetMask
		if l2Off == 0 {
			continue
		}
		expected[l2Off>>e.clusterBits]++

		l2Table := make([]byte, e.clusterSize)
		if _, err := e.device.ReadAt(l2Table, int64(l2Off)); err != nil {
			return nil, fmt.Errorf("qcow2: check: read L2 table at 0x%x: %w", l2Off, err)
		}

		for j := uint64(0); j < e.l2Entries; j++ {
			l2Entry := binary.BigEndian.Uint64(l2Table[j*8:])
			if l2Entry == 0 {
				continue
			}
			if l2Entry&entryCompressedBit != 0 {
				result.Corruptions = append(result.Corruptions, fmt.Sprintf("L2[%d][%d]: compressed bit set", i, j))
				continue
			}
			dataOff := l2Entry & entryOffsetMask
			if dataOff == 0 {
				continue
			}
			expected[dataOff>>e.clusterBits]++
		}
	}

	for clusterIdx, want := range expected {
		result.AllocatedClusters++

		if clusterIdx/e.refsPerCluster() > 0 {
			result.Corruptions = append(result.Corruptions,
				fmt.Sprintf("cluster %d: beyond first refcount block, cannot verify", clusterIdx))
			continue
		}

		got, err := e.clusterRefcount(clusterIdx)
		if err != nil {
			return nil, fmt.Errorf("qcow2: check: read refcount for cluster %d: %w", clusterIdx, err)
		}
		if got < want {
			result.Corruptions = append(result.Corruptions,
				fmt.Sprintf("cluster %d: refcount %d is less than %d references found", clusterIdx, got, want))
		}
	}

	return result, nil
}
