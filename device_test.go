package qcow2

import "testing"

func TestMemDeviceResizeGrowsAndZeroFills(t *testing.T) {
	d := NewMemDevice(512)

	if err := d.Resize(1024); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	info, err := d.Info()
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.SizeBytes != 1024 {
		t.Fatalf("SizeBytes = %d, want 1024", info.SizeBytes)
	}

	buf := make([]byte, 1024)
	if _, err := d.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0 (grown region must be zero)", i, b)
		}
	}
}

func TestMemDeviceResizeRejectsMisalignedSize(t *testing.T) {
	d := NewMemDevice(512)
	if err := d.Resize(100); err == nil {
		t.Fatal("Resize(100) with 512-byte sectors should fail alignment check")
	}
}

func TestMemDeviceReadWriteRoundTrip(t *testing.T) {
	d := NewMemDevice(512)
	if err := d.Resize(512); err != nil {
		t.Fatalf("Resize: %v", err)
	}

	want := []byte("hello, qcow2")
	if _, err := d.WriteAt(want, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	got := make([]byte, len(want))
	if _, err := d.ReadAt(got, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("ReadAt = %q, want %q", got, want)
	}
}

func TestMemDeviceOutOfRange(t *testing.T) {
	d := NewMemDevice(512)
	if err := d.Resize(512); err != nil {
		t.Fatalf("Resize: %v", err)
	}

	buf := make([]byte, 16)
	if _, err := d.ReadAt(buf, 1000); err == nil {
		t.Fatal("ReadAt past the end should fail")
	}
	if _, err := d.WriteAt(buf, 1000); err == nil {
		t.Fatal("WriteAt past the end should fail")
	}
}

func TestMemDeviceReadOnlyRejectsWrites(t *testing.T) {
	d := NewMemDevice(512)
	if err := d.Resize(512); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	d.readWrite = false

	if _, err := d.WriteAt(make([]byte, 8), 0); err != ErrReadOnly {
		t.Fatalf("WriteAt on read-only device: got %v, want ErrReadOnly", err)
	}
	if err := d.Resize(1024); err != ErrReadOnly {
		t.Fatalf("Resize on read-only device: got %v, want ErrReadOnly", err)
	}
}
