package qcow2

import "fmt"

// resize validates that newSize is a whole multiple of the physical
// sector size and delegates to the backing device (§4.3).
func (e *Engine) resize(newSize uint64) error {
	if newSize%e.deviceInfo.SectorSize != 0 {
		return fmt.Errorf("%w: %d", ErrBadAlignment, newSize)
	}
	if err := e.device.Resize(newSize); err != nil {
		return err
	}
	e.deviceInfo.SizeBytes = newSize
	return nil
}

// extend grows the backing device by exactly one cluster and returns
// the byte offset of the new cluster. The cluster's contents are
// undefined; callers must zero or fill it before installing any
// pointer to it (invariant 4).
//
// next_cluster is only advanced once the resize has actually
// succeeded, so it always equals the device's size in clusters
// (invariant 2) even on a failed extend.
func (e *Engine) extend() (uint64, error) {
	clusterIndex := e.nextCluster
	target := clusterIndex + 1

	if err := e.resize(target << e.clusterBits); err != nil {
		return 0, fmt.Errorf("qcow2: extend: %w", err)
	}
	e.nextCluster = target

	return clusterIndex << e.clusterBits, nil
}
