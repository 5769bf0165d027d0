package cart

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var umbrella = Item{ID: 39, Name: "Umbrella", Image: "umbrella.jpg", Price: 20}

func withQty(it Item, q int) Item {
	it.Quantity = q
	return it
}

func TestAddItem_InsertsThenIncrements(t *testing.T) {
	s, _ := Open("")

	line, count, err := s.AddItem("u1", withQty(umbrella, 2))
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if line.Quantity != 2 || count != 2 {
		t.Errorf("expected quantity 2 / count 2, got %d / %d", line.Quantity, count)
	}

	line, count, err = s.AddItem("u1", withQty(umbrella, 3))
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if line.Quantity != 5 || count != 5 {
		t.Errorf("expected quantity 5 / count 5, got %d / %d", line.Quantity, count)
	}
	if n := len(s.Get("u1").Items); n != 1 {
		t.Errorf("expected a single line, got %d", n)
	}
}

func TestAddItem_RejectsNonPositiveQuantity(t *testing.T) {
	s, _ := Open("")
	for _, q := range []int{0, -2} {
		if _, _, err := s.AddItem("u1", withQty(umbrella, q)); !errors.Is(err, ErrInvalidQuantity) {
			t.Errorf("quantity %d: expected ErrInvalidQuantity, got %v", q, err)
		}
	}
	if s.Count("u1") != 0 {
		t.Error("nothing should have been stored")
	}
}

func TestUpdateQuantity_DeletesBelowOne(t *testing.T) {
	s, _ := Open("")
	_, _, _ = s.AddItem("u1", withQty(umbrella, 2))

	line, kept, err := s.UpdateQuantity("u1", umbrella.ID, -1)
	if err != nil || !kept || line.Quantity != 1 {
		t.Fatalf("decrement: got %+v, %v, %v", line, kept, err)
	}

	_, kept, err = s.UpdateQuantity("u1", umbrella.ID, -1)
	if err != nil || kept {
		t.Fatalf("decrement to zero: kept=%v err=%v", kept, err)
	}
	if len(s.Get("u1").Items) != 0 {
		t.Error("line must be removed at zero")
	}

	if _, _, err := s.UpdateQuantity("u1", umbrella.ID, 1); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("expected ErrItemNotFound, got %v", err)
	}
}

func TestRemoveAndClear(t *testing.T) {
	s, _ := Open("")
	_, _, _ = s.AddItem("u1", withQty(umbrella, 1))
	_, _, _ = s.AddItem("u1", Item{ID: 42, Name: "Backpack", Price: 20, Quantity: 2})

	if err := s.Remove("u1", umbrella.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Remove("u1", umbrella.ID); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("expected ErrItemNotFound, got %v", err)
	}

	c := s.Get("u1")
	if c.Count != 2 || c.Total != 40 {
		t.Errorf("unexpected cart %+v", c)
	}

	if err := s.Clear("u1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if s.Count("u1") != 0 {
		t.Error("expected empty cart")
	}
}

func TestCartsAreIsolatedPerUser(t *testing.T) {
	s, _ := Open("")
	_, _, _ = s.AddItem("u1", withQty(umbrella, 1))

	if s.Count("u2") != 0 {
		t.Error("u2 must not see u1's cart")
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	s, _ := Open("")
	_, _, _ = s.AddItem("u1", withQty(umbrella, 1))

	c := s.Get("u1")
	c.Items[0].Quantity = 99

	if s.Count("u1") != 1 {
		t.Error("mutating a snapshot must not change the store")
	}
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "carts.json")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, _, _ = s.AddItem("u1", withQty(umbrella, 3))

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	want := Cart{Items: []Item{withQty(umbrella, 3)}, Count: 3, Total: 60}
	if diff := cmp.Diff(want, reopened.Get("u1")); diff != "" {
		t.Errorf("persisted cart mismatch (-want +got):\n%s", diff)
	}
}

func TestAddItem_Concurrent(t *testing.T) {
	s, _ := Open("")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = s.AddItem("u1", withQty(umbrella, 1))
		}()
	}
	wg.Wait()

	if s.Count("u1") != 50 {
		t.Errorf("expected 50 units, got %d", s.Count("u1"))
	}
}

func TestFailedSaveLeavesCartUnchanged(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	s, err := Open(filepath.Join(dataDir, "carts.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, _, err := s.AddItem("u1", withQty(umbrella, 2)); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	want := s.Get("u1")

	// A regular file where the data directory was makes every save fail.
	if err := os.RemoveAll(dataDir); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dataDir, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, _, err := s.AddItem("u1", withQty(umbrella, 1)); err == nil {
		t.Error("AddItem: expected a save error")
	}
	if _, _, err := s.AddItem("u2", withQty(umbrella, 1)); err == nil {
		t.Error("AddItem for a new user: expected a save error")
	}
	if _, _, err := s.UpdateQuantity("u1", umbrella.ID, -2); err == nil {
		t.Error("UpdateQuantity: expected a save error")
	}
	if err := s.Remove("u1", umbrella.ID); err == nil {
		t.Error("Remove: expected a save error")
	}
	if err := s.Clear("u1"); err == nil {
		t.Error("Clear: expected a save error")
	}

	if diff := cmp.Diff(want, s.Get("u1")); diff != "" {
		t.Errorf("cart changed after failed saves (-want +got):\n%s", diff)
	}
	if n := s.Count("u2"); n != 0 {
		t.Errorf("failed add should not create a cart, count %d", n)
	}
}
