package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"carpool/internal/notify"
	"carpool/internal/types"
)

// recordingDispatcher captures events for assertions; safe for concurrent use.
type recordingDispatcher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (d *recordingDispatcher) Dispatch(_ context.Context, e notify.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, e)
}

func (d *recordingDispatcher) count(kind string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, e := range d.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func TestConcurrentBookingNoOversell(t *testing.T) {
	const seats = 5
	const contenders = 40

	f := newFixture(t, seats)
	ctx := context.Background()

	var wg sync.WaitGroup
	granted := make(chan types.ID, contenders)
	for i := 0; i < contenders; i++ {
		passenger := types.ID(fmt.Sprintf("passenger-%d", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := f.bookings.Create(ctx, CreateCommand{
				RideID:        f.rideID,
				PassengerID:   passenger,
				Seats:         1,
				PaymentMethod: PaymentMethodCash,
				TermsAccepted: true,
			})
			if err == nil {
				granted <- b.ID
				return
			}
			if !errors.Is(err, ErrNotBookable) {
				t.Errorf("passenger %s: %v", passenger, err)
			}
		}()
	}
	wg.Wait()
	close(granted)

	won := 0
	for range granted {
		won++
	}
	if won != seats {
		t.Fatalf("granted %d bookings for %d seats", won, seats)
	}

	r, err := f.rides.Get(ctx, f.rideID)
	if err != nil {
		t.Fatalf("get ride: %v", err)
	}
	if r.Seats.Available != 0 || r.Seats.Booked != seats {
		t.Fatalf("counters = %+v, want 0 available / %d booked", r.Seats, seats)
	}
	if !r.Seats.Consistent() {
		t.Fatalf("counters inconsistent: %+v", r.Seats)
	}
}

func TestConcurrentDuplicateCreateSingleWinner(t *testing.T) {
	const contenders = 20

	// Seats outnumber contenders so every failure here is the uniqueness
	// guard, never seat exhaustion from holds that are about to be released.
	f := newFixture(t, contenders+1)
	ctx := context.Background()

	// One passenger hammers the same ride; the store-level uniqueness guard
	// must let exactly one hold through even when every contender passes the
	// duplicate pre-check before any row lands.
	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.bookings.Create(ctx, CreateCommand{
				RideID:        f.rideID,
				PassengerID:   "alice",
				Seats:         1,
				PaymentMethod: PaymentMethodCash,
				TermsAccepted: true,
			})
			if err == nil {
				mu.Lock()
				won++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrDuplicate) {
				t.Errorf("loser err = %v, want ErrDuplicate", err)
			}
		}()
	}
	wg.Wait()

	if won != 1 {
		t.Fatalf("%d duplicate holds created, want exactly 1", won)
	}

	// Every losing reserve was compensated.
	r, err := f.rides.Get(ctx, f.rideID)
	if err != nil {
		t.Fatalf("get ride: %v", err)
	}
	if r.Seats.Available != contenders || r.Seats.Booked != 1 {
		t.Fatalf("counters = %+v, want %d available / 1 booked", r.Seats, contenders)
	}
	if !r.Seats.Consistent() {
		t.Fatalf("counters inconsistent: %+v", r.Seats)
	}
}

func TestConcurrentConfirmAndCancel(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	b := f.book(t, "alice", 2, PaymentMethodCash)

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0] = f.bookings.Confirm(ctx, ConfirmCommand{BookingID: b.ID, PassengerID: "alice"})
	}()
	go func() {
		defer wg.Done()
		_, results[1] = f.bookings.Cancel(ctx, CancelCommand{BookingID: b.ID, ActorID: "alice"})
	}()
	wg.Wait()

	for i, err := range results {
		if err != nil && !errors.Is(err, ErrConflict) && !errors.Is(err, ErrInvalidState) {
			t.Fatalf("contender %d: %v", i, err)
		}
	}

	got, err := f.store.Get(ctx, b.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	r, _ := f.rides.Get(ctx, f.rideID)
	switch got.Status {
	case StatusCancelled:
		if r.Seats.Available != 3 || r.Seats.Booked != 0 {
			t.Fatalf("cancelled but counters = %+v", r.Seats)
		}
	case StatusConfirmed:
		if r.Seats.Available != 1 || r.Seats.Booked != 2 {
			t.Fatalf("confirmed but counters = %+v", r.Seats)
		}
	default:
		t.Fatalf("status = %s, want confirmed or cancelled", got.Status)
	}
	if !r.Seats.Consistent() {
		t.Fatalf("counters inconsistent: %+v", r.Seats)
	}
}

func TestConcurrentExpirySweeps(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	f.book(t, "alice", 1, PaymentMethodCash)
	f.book(t, "bob", 2, PaymentMethodCash)
	f.clock.now = f.clock.now.Add(PendingTTL + time.Minute)

	var wg sync.WaitGroup
	totals := make([]int, 4)
	for i := range totals {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := f.bookings.ExpirePending(ctx)
			if err != nil {
				t.Errorf("sweep %d: %v", i, err)
			}
			totals[i] = n
		}(i)
	}
	wg.Wait()

	sum := 0
	for _, n := range totals {
		sum += n
	}
	if sum != 2 {
		t.Fatalf("sweeps expired %d holds in total, want exactly 2", sum)
	}
	r, _ := f.rides.Get(ctx, f.rideID)
	if r.Seats.Available != 3 || r.Seats.Booked != 0 {
		t.Fatalf("counters = %+v, want all seats back exactly once", r.Seats)
	}
}
