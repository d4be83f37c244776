package qcow2

import "testing"

// Testable properties directly mirroring the core's documented
// invariants, plus end-to-end scenarios (TestScenario*) that complement
// those in create_test.go.

func TestPropertySparsenessOfHugeImage(t *testing.T) {
	const oneTiB = uint64(1) << 40
	dev := NewMemDevice(512)
	e, err := Create(dev, CreateOptions{Size: oneTiB})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := e.Write(0, [][]byte{make([]byte, VirtualSectorSize)}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	info, err := dev.Info()
	if err != nil {
		t.Fatalf("Info: %v", err)
	}

	// header + refcount table + L1 table(s) + refcount block + L2 table
	// + data cluster: a handful of clusters, nowhere near the virtual
	// disk's 1 TiB size.
	const headroom = 8 * (1 << 16)
	if info.SizeBytes > uint64(headroom) {
		t.Fatalf("backing device grew to %d bytes after one sector write to a 1 TiB image, want <= %d", info.SizeBytes, headroom)
	}
}

func TestPropertyAllocatedClustersAreClusterAligned(t *testing.T) {
	e, _ := newTestEngine(t, 4<<20)

	if err := e.Write(0, [][]byte{make([]byte, VirtualSectorSize)}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	l1Raw, err := e.readEntry(e.header.L1TableOffset)
	if err != nil {
		t.Fatalf("readEntry: %v", err)
	}
	l2Off := l1Raw & entryOffsetMask
	if l2Off%e.clusterSize != 0 {
		t.Fatalf("L2 table offset %#x is not cluster-aligned", l2Off)
	}

	l2Raw, err := e.readEntry(l2Off)
	if err != nil {
		t.Fatalf("readEntry: %v", err)
	}
	dataOff := l2Raw & entryOffsetMask
	if dataOff%e.clusterSize != 0 {
		t.Fatalf("data cluster offset %#x is not cluster-aligned", dataOff)
	}
}

func TestPropertyNextClusterNeverDecreases(t *testing.T) {
	e, _ := newTestEngine(t, 4<<20)

	sectorsPerCluster := e.clusterSize / VirtualSectorSize
	last := e.nextCluster
	for i := uint64(0); i < 4; i++ {
		if err := e.Write(i*sectorsPerCluster*2, [][]byte{make([]byte, VirtualSectorSize)}); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
		if e.nextCluster < last {
			t.Fatalf("nextCluster decreased: %d -> %d", last, e.nextCluster)
		}
		last = e.nextCluster
	}
}

func TestPropertyRefcountsAfterCreateAreExactlyOne(t *testing.T) {
	e, _ := newTestEngine(t, 4<<20)

	headerRef, err := e.clusterRefcount(0)
	if err != nil {
		t.Fatalf("clusterRefcount(header): %v", err)
	}
	if headerRef != 1 {
		t.Fatalf("header refcount = %d, want 1", headerRef)
	}

	refTableCluster := e.header.RefcountTableOffset >> e.clusterBits
	refTableRef, err := e.clusterRefcount(refTableCluster)
	if err != nil {
		t.Fatalf("clusterRefcount(refcount table): %v", err)
	}
	if refTableRef != 1 {
		t.Fatalf("refcount-table cluster refcount = %d, want 1", refTableRef)
	}

	l1Cluster := e.header.L1TableOffset >> e.clusterBits
	l1Ref, err := e.clusterRefcount(l1Cluster)
	if err != nil {
		t.Fatalf("clusterRefcount(L1 table): %v", err)
	}
	if l1Ref != 1 {
		t.Fatalf("L1-table cluster refcount = %d, want 1", l1Ref)
	}
}

func TestScenarioCreateAndReopenSectorCount(t *testing.T) {
	dev := NewMemDevice(512)
	e, err := Create(dev, CreateOptions{Size: 16 << 20})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := e.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	reconnected, err := Connect(dev)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got, want := reconnected.GetInfo().SizeSectors, uint64(32768); got != want {
		t.Fatalf("SizeSectors = %d, want %d", got, want)
	}
}

func TestScenarioSparseWriteSingleSector(t *testing.T) {
	e, _ := newTestEngine(t, 1<<30)

	pattern := make([]byte, VirtualSectorSize)
	for i := range pattern {
		pattern[i] = 0xAA
	}
	if err := e.Write(0, [][]byte{pattern}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got := make([]byte, VirtualSectorSize)
	if err := e.Read(0, [][]byte{got}); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i, b := range got {
		if b != 0xAA {
			t.Fatalf("byte %d = %#x, want 0xAA", i, b)
		}
	}

	sectorsPerCluster := e.clusterSize / VirtualSectorSize
	zero := make([]byte, VirtualSectorSize)
	if err := e.Read(sectorsPerCluster, [][]byte{zero}); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i, b := range zero {
		if b != 0 {
			t.Fatalf("next cluster's first sector byte %d = %#x, want 0", i, b)
		}
	}
}

func TestScenarioUnmappedReadOfManySectors(t *testing.T) {
	e, _ := newTestEngine(t, 256<<10)

	buf := make([]byte, 512*VirtualSectorSize)
	for i := range buf {
		buf[i] = 0xFF
	}
	if err := e.Read(0, [][]byte{buf}); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d = %#x, want 0", i, b)
		}
	}
}
