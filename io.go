package qcow2

// Read fills buffers with the contents of consecutive virtual sectors
// starting at startSector. Unmapped regions read back as zeros.
func (e *Engine) Read(startSector uint64, buffers [][]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.dispatch(startSector, buffers, false)
}

// Write stores buffers at consecutive virtual sectors starting at
// startSector, allocating any L2 tables or data clusters the write
// touches for the first time.
func (e *Engine) Write(startSector uint64, buffers [][]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.readWrite {
		return ErrReadOnly
	}
	return e.dispatch(startSector, buffers, true)
}

// dispatch chops buffers into pieces of at most the physical sector
// size, each piece paired with its absolute virtual sector number, and
// translates and delegates each piece in turn (§4.6). A buffer shorter
// than a physical sector is never split further; it still advances the
// sector counter by the number of 512-byte virtual sectors it covers.
func (e *Engine) dispatch(startSector uint64, buffers [][]byte, write bool) error {
	physSize := e.deviceInfo.SectorSize
	sector := startSector

	for _, buf := range buffers {
		pos := 0
		for pos < len(buf) {
			virtByteOff := sector * VirtualSectorSize
			boundary := physSize - virtByteOff%physSize

			chunk := len(buf) - pos
			if uint64(chunk) > boundary {
				chunk = int(boundary)
			}

			piece := buf[pos : pos+chunk]
			if err := e.transferPiece(virtByteOff, piece, write); err != nil {
				return err
			}

			pos += chunk
			sector += uint64(chunk) / VirtualSectorSize
		}
	}
	return nil
}

// transferPiece walks a single physical-sector-sized (or smaller)
// piece's virtual address and performs the read or write against the
// backing device.
func (e *Engine) transferPiece(virtByteOff uint64, piece []byte, write bool) error {
	physOff, mapped, err := e.walk(virtByteOff, write)
	if err != nil {
		return err
	}

	if !write {
		if !mapped {
			for i := range piece {
				piece[i] = 0
			}
			return nil
		}
		_, err := e.device.ReadAt(piece, int64(physOff))
		return err
	}

	if !mapped {
		return ErrUnreachableUnmappedWrite
	}
	_, err = e.device.WriteAt(piece, int64(physOff))
	return err
}
