package addr

import "testing"

func multiBankMapper(t *testing.T) *Mapper {
	t.Helper()
	m, err := New(
		[]Segment{
			{Name: "CODE0", Base: 0x80000000, Size: 0x200},
			{Name: "CODE1", Base: 0x90000000, Size: 0x300},
		},
		[]Segment{
			{Name: "DATA0", Base: 0x81000000, Size: 0x100},
			{Name: "DATA1", Base: 0x91000000, Size: 0x180},
		},
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestRequireCodeAddr(t *testing.T) {
	m := multiBankMapper(t)
	tests := []struct {
		addr uint64
		size uint64
		ok   bool
	}{
		{0x80000000, 1, true}, // first byte of a bank
		{0x80000010, 4, true},
		{0x90000010, 4, true},
		{0x800001fc, 4, true},  // ends exactly at the bank boundary
		{0x800001fd, 4, false}, // crosses the boundary
		{0x80000200, 1, false},
		{0x81000010, 4, false}, // data bank is not code
		{0x82000000, 4, false},
	}
	for _, tt := range tests {
		got, err := m.RequireCodeAddr(tt.addr, tt.size)
		if tt.ok && (err != nil || got != tt.addr) {
			t.Errorf("RequireCodeAddr(0x%x, %d) = 0x%x, %v; want ok", tt.addr, tt.size, got, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("RequireCodeAddr(0x%x, %d) succeeded; want failure", tt.addr, tt.size)
		}
	}
}

func TestRequireStoreAddr(t *testing.T) {
	m := multiBankMapper(t)
	tests := []struct {
		addr uint64
		size uint64
		ok   bool
	}{
		{0x80000010, 4, true}, // code banks are storable
		{0x81000010, 4, true},
		{0x91000010, 4, true},
		{0x82000000, 4, false},
		{0x9100017c, 8, false}, // crosses the data bank end
	}
	for _, tt := range tests {
		_, err := m.RequireStoreAddr(tt.addr, tt.size)
		if tt.ok != (err == nil) {
			t.Errorf("RequireStoreAddr(0x%x, %d): err=%v, want ok=%v", tt.addr, tt.size, err, tt.ok)
		}
	}
}

func TestSegmentIndexLookup(t *testing.T) {
	m := multiBankMapper(t)
	if got := m.FindCodeSegmentIndex(0x90000010, 4); got != 1 {
		t.Errorf("FindCodeSegmentIndex = %d, want 1", got)
	}
	if got := m.FindDataSegmentIndex(0x91000010, 4); got != 1 {
		t.Errorf("FindDataSegmentIndex = %d, want 1", got)
	}
	if got := m.FindCodeSegmentIndex(0x81000010, 4); got != -1 {
		t.Errorf("FindCodeSegmentIndex in data bank = %d, want -1", got)
	}
	if !m.IsRuntimeCode(0x80000000) || m.IsRuntimeCode(0x81000000) {
		t.Error("IsRuntimeCode misclassified a bank")
	}
	if !m.IsRuntimeData(0x81000000) || m.IsRuntimeData(0x80000000) {
		t.Error("IsRuntimeData misclassified a bank")
	}
}

func TestEmptyCodeSegmentsRejected(t *testing.T) {
	if _, err := New(nil, []Segment{{Base: 0x1000, Size: 0x100}}); err == nil {
		t.Fatal("New with no code segments succeeded")
	}
}
