package qcow2

import "testing"

func TestIncrRefcountThenRead(t *testing.T) {
	e, _ := newTestEngine(t, 1<<20)

	// Cluster 0 (the header) already has a refcount of 1 from Create.
	got, err := e.clusterRefcount(0)
	if err != nil {
		t.Fatalf("clusterRefcount: %v", err)
	}
	if got != 1 {
		t.Fatalf("refcount of header cluster = %d, want 1", got)
	}

	if err := e.incrRefcount(0); err != nil {
		t.Fatalf("incrRefcount: %v", err)
	}
	got, err = e.clusterRefcount(0)
	if err != nil {
		t.Fatalf("clusterRefcount: %v", err)
	}
	if got != 2 {
		t.Fatalf("refcount after second incr = %d, want 2", got)
	}
}

func TestClusterRefcountOfNeverAllocatedClusterIsZero(t *testing.T) {
	e, _ := newTestEngine(t, 1<<20)

	got, err := e.clusterRefcount(1000)
	if err != nil {
		t.Fatalf("clusterRefcount: %v", err)
	}
	if got != 0 {
		t.Fatalf("refcount of untouched cluster = %d, want 0", got)
	}
}

func TestRefsPerCluster(t *testing.T) {
	e, _ := newTestEngine(t, 1<<20)
	if got, want := e.refsPerCluster(), e.clusterSize/2; got != want {
		t.Fatalf("refsPerCluster() = %d, want %d", got, want)
	}
}
