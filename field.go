package qcow2

import "encoding/binary"

// readField reads the single physical sector containing byteOffset
// and returns a view of the buffer shifted to the intra-sector
// position, per §4.2. Buffer allocation is plain make([]byte, ...);
// page-aligned allocation is the external collaborator's job and is
// out of scope for this core.
func readField(dev BlockDevice, sectorSize, byteOffset uint64) ([]byte, error) {
	sector := byteOffset / sectorSize
	within := byteOffset % sectorSize

	buf := make([]byte, sectorSize)
	if _, err := dev.ReadAt(buf, int64(sector*sectorSize)); err != nil {
		return nil, err
	}
	return buf[within:], nil
}

// updateField performs a read-modify-write of the sector containing
// byteOffset: read the sector, invoke mutate on the shifted view,
// write the sector back. Neither readField nor updateField ever spans
// a sector boundary — all callers in this package deal in 8-byte
// big-endian entries, far smaller than any supported sector size.
func updateField(dev BlockDevice, sectorSize, byteOffset uint64, mutate func(view []byte)) error {
	sector := byteOffset / sectorSize
	within := byteOffset % sectorSize

	buf := make([]byte, sectorSize)
	if _, err := dev.ReadAt(buf, int64(sector*sectorSize)); err != nil {
		return err
	}
	mutate(buf[within:])
	_, err := dev.WriteAt(buf, int64(sector*sectorSize))
	return err
}

// readEntry reads a single 8-byte big-endian L1/L2/refcount-table
// entry at byteOffset.
func (e *Engine) readEntry(byteOffset uint64) (uint64, error) {
	view, err := readField(e.device, e.deviceInfo.SectorSize, byteOffset)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(view[:8]), nil
}

// writeEntry installs a raw 8-byte big-endian value at byteOffset.
func (e *Engine) writeEntry(byteOffset, value uint64) error {
	return updateField(e.device, e.deviceInfo.SectorSize, byteOffset, func(view []byte) {
		binary.BigEndian.PutUint64(view[:8], value)
	})
}
