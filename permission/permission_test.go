package permission

import (
	"fmt"
	"reflect"
	"testing"
)

func TestRegistryAssignsSequentialBits(t *testing.T) {
	r := NewRegistry()
	for i, name := range []string{"browse", "search", "download"} {
		bit, err := r.Register(name)
		if err != nil {
			t.Fatalf("Register(%s) error: %v", name, err)
		}
		if bit != i {
			t.Fatalf("Register(%s) = %d, want %d", name, bit, i)
		}
	}
	if _, err := r.Register("browse"); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if _, err := r.Register(""); err == nil {
		t.Fatal("expected empty name error")
	}

	r.Freeze()
	if _, err := r.Register("notes"); err == nil {
		t.Fatal("expected frozen registry error")
	}
	if name, ok := r.Name(2); !ok || name != "download" {
		t.Fatalf("Name(2) = %q,%v", name, ok)
	}
}

func TestRegistryLimit(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < MaxFeatures; i++ {
		if _, err := r.Register(fmt.Sprintf("f%d", i)); err != nil {
			t.Fatalf("Register(%d) error: %v", i, err)
		}
	}
	if _, err := r.Register("overflow"); err == nil {
		t.Fatal("expected feature limit error")
	}
}

func TestTierSetAllows(t *testing.T) {
	reg, err := NewFrozenRegistry("browse", "search", "download", "admin")
	if err != nil {
		t.Fatalf("NewFrozenRegistry error: %v", err)
	}
	ts, err := NewTierSet(reg)
	if err != nil {
		t.Fatalf("NewTierSet error: %v", err)
	}
	if err := ts.RegisterTier("free", []string{"browse", "search"}); err != nil {
		t.Fatalf("RegisterTier error: %v", err)
	}
	if err := ts.RegisterTier("institution", []string{"browse", "search", "download", "admin"}); err != nil {
		t.Fatalf("RegisterTier error: %v", err)
	}
	if err := ts.RegisterTier("bogus", []string{"teleport"}); err == nil {
		t.Fatal("expected unknown feature error")
	}
	ts.Freeze()

	if !ts.Allows("free", "search") {
		t.Fatal("free should allow search")
	}
	if ts.Allows("free", "admin") {
		t.Fatal("free must not allow admin")
	}
	if ts.Allows("guest", "browse") {
		t.Fatal("unknown tier must be denied")
	}
	m, _ := ts.Mask("institution")
	if got := reg.Names(m); !reflect.DeepEqual(got, []string{"browse", "search", "download", "admin"}) {
		t.Fatalf("Names = %v", got)
	}
}

func TestTierSetRequiresFrozenRegistry(t *testing.T) {
	if _, err := NewTierSet(NewRegistry()); err == nil {
		t.Fatal("expected error for unfrozen registry")
	}
}
