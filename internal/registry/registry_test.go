package registry

import "testing"

func TestDeriveCarIDFromLastFourHexDigits(t *testing.T) {
	id := DeriveCarID("RL-CAR-cc:ba:97:0d:8c:b5")
	want := int64(0x8cb5)
	if id != want {
		t.Errorf("DeriveCarID(...) = %d, want %d (0x8cb5)", id, want)
	}
}

func TestDeriveCarIDStable(t *testing.T) {
	a := DeriveCarID("RL-CAR-aa:bb:cc:dd:ee:01")
	b := DeriveCarID("RL-CAR-aa:bb:cc:dd:ee:01")
	if a != b {
		t.Errorf("DeriveCarID is not stable across repeated calls: %d != %d", a, b)
	}
}

func TestDeriveCarIDFallbackOnUnparseableTail(t *testing.T) {
	// Fewer than 4 hex characters after stripping colons: falls back to a
	// stable hash modulo 10000.
	id := DeriveCarID("RL-CAR-ab")
	if id < 0 || id >= 10000 {
		t.Errorf("fallback DeriveCarID() = %d, want a value in [0,10000)", id)
	}
}

func TestDeriveDisplayName(t *testing.T) {
	got := DeriveDisplayName("RL-CAR-cc:ba:97:0d:8c:b5")
	want := "Rocket League Car (970d8cb5)"
	if got != want {
		t.Errorf("DeriveDisplayName(...) = %q, want %q", got, want)
	}
}

func newTestRegistry() *Registry {
	return &Registry{
		byAddress: make(map[string]*Car),
		byName:    make(map[string]*Car),
		byID:      make(map[int64]*Car),
	}
}

func seedCar(r *Registry, id int64) *Car {
	car := &Car{ID: id, Owner: Unassigned}
	r.byID[id] = car
	return car
}

func TestSelectIsIdempotentForSameOwner(t *testing.T) {
	r := newTestRegistry()
	seedCar(r, 1)

	if err := r.Select(1, "session-a"); err != nil {
		t.Fatalf("first select: %v", err)
	}
	if err := r.Select(1, "session-a"); err != nil {
		t.Fatalf("repeat select by same owner should succeed: %v", err)
	}
}

func TestSelectFailsBusyForOtherOwner(t *testing.T) {
	r := newTestRegistry()
	seedCar(r, 1)

	if err := r.Select(1, "session-a"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := r.Select(1, "session-b"); err != ErrBusy {
		t.Fatalf("Select by a different session = %v, want ErrBusy", err)
	}
}

func TestSelectNotFound(t *testing.T) {
	r := newTestRegistry()
	if err := r.Select(999, "session-a"); err != ErrNotFound {
		t.Fatalf("Select(unknown) = %v, want ErrNotFound", err)
	}
}

func TestFreeIsIdempotent(t *testing.T) {
	r := newTestRegistry()
	seedCar(r, 1)

	if err := r.Free(1, ""); err != nil {
		t.Fatalf("free already-free car: %v", err)
	}
	if err := r.Free(1, ""); err != nil {
		t.Fatalf("repeat free: %v", err)
	}
}

func TestFreeFailsNotOwner(t *testing.T) {
	r := newTestRegistry()
	seedCar(r, 1)
	_ = r.Select(1, "session-a")

	if err := r.Free(1, "session-b"); err != ErrNotOwner {
		t.Fatalf("Free by non-owner = %v, want ErrNotOwner", err)
	}
}

func TestFreeAllByReleasesOnlyThatSessionsCars(t *testing.T) {
	r := newTestRegistry()
	seedCar(r, 1)
	seedCar(r, 2)
	seedCar(r, 3)
	_ = r.Select(1, "session-a")
	_ = r.Select(2, "session-a")
	_ = r.Select(3, "session-b")

	freed := r.FreeAllBy("session-a")
	if len(freed) != 2 {
		t.Fatalf("FreeAllBy(session-a) freed %d cars, want 2", len(freed))
	}

	car3, _ := r.Get(3)
	if car3.Owner != "session-b" {
		t.Errorf("FreeAllBy(session-a) must not touch session-b's car")
	}
}

func TestListFreeEnumeratesUnassignedOnly(t *testing.T) {
	r := newTestRegistry()
	seedCar(r, 1)
	seedCar(r, 2)
	_ = r.Select(1, "session-a")

	free := r.ListFree()
	if len(free) != 1 || free[0] != 2 {
		t.Fatalf("ListFree() = %v, want [2]", free)
	}
}
