package inventory

import (
	"context"
	"sync"
	"testing"

	"carpool/internal/types"
)

func newTestLedger(rideID types.ID, total int) (*Ledger, *MemStore) {
	store := NewMemStore()
	store.Add(rideID, total)
	return NewLedger(store), store
}

func TestReserveAndRelease(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger("r1", 3)

	c, err := ledger.Reserve(ctx, "r1", 2)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if c.Available != 1 || c.Booked != 2 || c.Total != 3 {
		t.Fatalf("after reserve: %+v", c)
	}

	c, err = ledger.Reserve(ctx, "r1", 1)
	if err != nil {
		t.Fatalf("reserve remaining: %v", err)
	}
	if c.Available != 0 {
		t.Fatalf("expected ride full, got %+v", c)
	}

	c, err = ledger.Release(ctx, "r1", 2)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if c.Available != 2 || c.Booked != 1 {
		t.Fatalf("after release: %+v", c)
	}
}

func TestReserveInsufficient(t *testing.T) {
	ctx := context.Background()
	ledger, store := newTestLedger("r1", 2)

	if _, err := ledger.Reserve(ctx, "r1", 3); err != ErrInsufficientSeats {
		t.Fatalf("expected ErrInsufficientSeats, got %v", err)
	}
	// A rejected reserve leaves no partial state behind.
	c, _ := store.Counters("r1")
	if c.Available != 2 || c.Booked != 0 {
		t.Fatalf("counters mutated by failed reserve: %+v", c)
	}
}

func TestReserveValidation(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger("r1", 2)

	if _, err := ledger.Reserve(ctx, "r1", 0); err != ErrBadSeatCount {
		t.Fatalf("zero seats: expected ErrBadSeatCount, got %v", err)
	}
	if _, err := ledger.Reserve(ctx, "r1", -1); err != ErrBadSeatCount {
		t.Fatalf("negative seats: expected ErrBadSeatCount, got %v", err)
	}
	if _, err := ledger.Reserve(ctx, "missing", 1); err != ErrUnknownRide {
		t.Fatalf("unknown ride: expected ErrUnknownRide, got %v", err)
	}
}

func TestReleaseNeverExceedsTotal(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger("r1", 3)

	if _, err := ledger.Reserve(ctx, "r1", 1); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := ledger.Release(ctx, "r1", 1); err != nil {
		t.Fatalf("release: %v", err)
	}
	// Nothing booked anymore; a second release must not go through.
	if _, err := ledger.Release(ctx, "r1", 1); err == nil {
		t.Fatal("release with nothing booked succeeded")
	}
}

// N concurrent reserves against k available seats succeed for at most k seats
// combined, regardless of interleaving. Run with -race.
func TestConcurrentReserveNoOversell(t *testing.T) {
	ctx := context.Background()
	const total = 5
	const attempts = 40
	ledger, store := newTestLedger("r1", total)

	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	start := make(chan struct{})

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := ledger.Reserve(ctx, "r1", 1)
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	granted := 0
	for err := range errs {
		if err == nil {
			granted++
		} else if err != ErrInsufficientSeats {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if granted != total {
		t.Fatalf("granted %d seats, want %d", granted, total)
	}
	c, _ := store.Counters("r1")
	if !c.Consistent() || c.Available != 0 || c.Booked != total {
		t.Fatalf("final counters: %+v", c)
	}
}

// Reserves on different rides do not serialize against each other; both rides
// end consistent.
func TestConcurrentReserveIndependentRides(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	store.Add("r1", 4)
	store.Add("r2", 4)
	ledger := NewLedger(store)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		rideID := types.ID("r1")
		if i%2 == 0 {
			rideID = "r2"
		}
		wg.Add(1)
		go func(id types.ID) {
			defer wg.Done()
			_, _ = ledger.Reserve(ctx, id, 1)
		}(rideID)
	}
	wg.Wait()

	for _, id := range []types.ID{"r1", "r2"} {
		c, _ := store.Counters(id)
		if !c.Consistent() || c.Booked != 4 {
			t.Fatalf("ride %s counters: %+v", id, c)
		}
	}
}

func TestMixedReserveReleaseInvariant(t *testing.T) {
	ctx := context.Background()
	ledger, store := newTestLedger("r1", 6)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.Reserve(ctx, "r1", 2); err == nil {
				_, _ = ledger.Release(ctx, "r1", 2)
			}
		}()
	}
	wg.Wait()

	c, _ := store.Counters("r1")
	if !c.Consistent() {
		t.Fatalf("invariant broken: %+v", c)
	}
	if c.Booked != 0 || c.Available != 6 {
		t.Fatalf("expected everything released, got %+v", c)
	}
}
