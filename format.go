// Package qcow2 implements the core of a QCOW2 (QEMU Copy-On-Write v2)
// virtual disk engine: the on-disk header, the L1/L2 address
// translator, the cluster allocator, and the refcount table that
// together let a sparse, thin-provisioned, copy-on-write virtual block
// device live on top of any resizable backing store.
package qcow2

import (
	"encoding/binary"
	"fmt"
)

// Magic is the QCOW2 signature: "QFI\xfb".
const Magic = 0x514649fb

// Version2 is the only header version this core understands.
const Version2 = 2

// HeaderSize is the fixed size in bytes of a version-2 QCOW2 header.
const HeaderSize = 72

// Cluster size bounds. 16 is the only value this core produces on
// Create, but Connect accepts any value in range so it can attach to
// images created by other tools.
const (
	DefaultClusterBits = 16
	MinClusterBits     = 9
	MaxClusterBits     = 21
)

// EncryptMethodNone is the only encryption method this core executes
// (i.e. ignores). Other values are recognized at parse time but never
// acted on; see Header.IsEncrypted.
const EncryptMethodNone = 0

// L1/L2 entry bit layout (§3.1, §6.2).
const (
	entryCopiedBit     = uint64(1) << 63
	entryCompressedBit = uint64(1) << 62
	entryOffsetMask    = entryCompressedBit - 1 // bits [61..0]
)

// Header is the fixed QCOW2 v2 header record, persisted at byte 0 of
// the backing device.
type Header struct {
	Magic                 uint32
	Version               uint32
	BackingFileOffset     uint64
	BackingFileSize       uint32
	ClusterBits           uint32
	Size                  uint64 // virtual disk size, in bytes
	CryptMethod           uint32
	L1Size                uint32 // number of entries in the L1 table
	L1TableOffset         uint64
	RefcountTableOffset   uint64
	RefcountTableClusters uint32
	NbSnapshots           uint32
	SnapshotsOffset       uint64
}

// ParseHeader decodes a big-endian QCOW2 v2 header from data, which
// must contain at least HeaderSize bytes.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrHeaderTooShort, len(data))
	}

	h := &Header{
		Magic:                 binary.BigEndian.Uint32(data[0:4]),
		Version:               binary.BigEndian.Uint32(data[4:8]),
		BackingFileOffset:     binary.BigEndian.Uint64(data[8:16]),
		BackingFileSize:       binary.BigEndian.Uint32(data[16:20]),
		ClusterBits:           binary.BigEndian.Uint32(data[20:24]),
		Size:                  binary.BigEndian.Uint64(data[24:32]),
		CryptMethod:           binary.BigEndian.Uint32(data[32:36]),
		L1Size:                binary.BigEndian.Uint32(data[36:40]),
		L1TableOffset:         binary.BigEndian.Uint64(data[40:48]),
		RefcountTableOffset:   binary.BigEndian.Uint64(data[48:56]),
		RefcountTableClusters: binary.BigEndian.Uint32(data[56:60]),
		NbSnapshots:           binary.BigEndian.Uint32(data[60:64]),
		SnapshotsOffset:       binary.BigEndian.Uint64(data[64:72]),
	}

	if h.Magic != Magic {
		return nil, ErrInvalidMagic
	}
	if h.Version != Version2 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if h.ClusterBits < MinClusterBits || h.ClusterBits > MaxClusterBits {
		return nil, fmt.Errorf("%w: %d", ErrInvalidClusterBits, h.ClusterBits)
	}

	return h, nil
}

// Encode serializes the header to a fresh HeaderSize-byte buffer.
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)

	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint32(buf[4:8], h.Version)
	binary.BigEndian.PutUint64(buf[8:16], h.BackingFileOffset)
	binary.BigEndian.PutUint32(buf[16:20], h.BackingFileSize)
	binary.BigEndian.PutUint32(buf[20:24], h.ClusterBits)
	binary.BigEndian.PutUint64(buf[24:32], h.Size)
	binary.BigEndian.PutUint32(buf[32:36], h.CryptMethod)
	binary.BigEndian.PutUint32(buf[36:40], h.L1Size)
	binary.BigEndian.PutUint64(buf[40:48], h.L1TableOffset)
	binary.BigEndian.PutUint64(buf[48:56], h.RefcountTableOffset)
	binary.BigEndian.PutUint32(buf[56:60], h.RefcountTableClusters)
	binary.BigEndian.PutUint32(buf[60:64], h.NbSnapshots)
	binary.BigEndian.PutUint64(buf[64:72], h.SnapshotsOffset)

	return buf
}

// ClusterSize returns the cluster size in bytes (1 << ClusterBits).
func (h *Header) ClusterSize() uint64 {
	return 1 << h.ClusterBits
}

// L2Entries returns the number of 8-byte entries in one L2 table.
func (h *Header) L2Entries() uint64 {
	return h.ClusterSize() / 8
}

// IsEncrypted reports whether the header names a non-none encryption
// method. The core recognizes this but, per spec, never decrypts a
// cluster — callers that need encrypted images must reject them
// before issuing reads or writes.
func (h *Header) IsEncrypted() bool {
	return h.CryptMethod != EncryptMethodNone
}

// HasBackingFile reports whether the header names a backing file.
// Backing-file chains are a known limitation of this core; Connect
// does not open or consult one.
func (h *Header) HasBackingFile() bool {
	return h.BackingFileOffset != 0 && h.BackingFileSize != 0
}
