// README: Background sweeper for pending-hold expiry and departure reminders.
package booking

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"carpool/internal/modules/policy"
	"carpool/internal/notify"
	"carpool/internal/types"
)

// ReminderFlags remembers which bookings were already reminded, so a sweep
// that runs every minute does not nag on every tick.
type ReminderFlags interface {
	FirstSeen(ctx context.Context, bookingID types.ID) (bool, error)
}

// RedisFlags keys reminders in Redis so multiple instances share one memory.
type RedisFlags struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisFlags(rdb *redis.Client) *RedisFlags {
	return &RedisFlags{rdb: rdb, ttl: policy.ReminderWindow + time.Hour}
}

func (f *RedisFlags) FirstSeen(ctx context.Context, bookingID types.ID) (bool, error) {
	key := fmt.Sprintf("carpool:reminded:%s", bookingID)
	return f.rdb.SetNX(ctx, key, 1, f.ttl).Result()
}

// MemFlags is the single-process fallback used when Redis is absent and by
// tests.
type MemFlags struct {
	seen map[types.ID]struct{}
}

func NewMemFlags() *MemFlags {
	return &MemFlags{seen: make(map[types.ID]struct{})}
}

func (f *MemFlags) FirstSeen(_ context.Context, bookingID types.ID) (bool, error) {
	if _, ok := f.seen[bookingID]; ok {
		return false, nil
	}
	f.seen[bookingID] = struct{}{}
	return true, nil
}

// Sweeper ticks through expiry and reminder passes until its context ends.
type Sweeper struct {
	svc      *Service
	store    Store
	flags    ReminderFlags
	notifier notify.Dispatcher
	interval time.Duration
	clock    types.Clock
}

func NewSweeper(svc *Service, store Store, flags ReminderFlags, notifier notify.Dispatcher, interval time.Duration, clock types.Clock) *Sweeper {
	if clock == nil {
		clock = types.SystemClock
	}
	if notifier == nil {
		notifier = notify.LogDispatcher{}
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{svc: svc, store: store, flags: flags, notifier: notifier, interval: interval, clock: clock}
}

// Run blocks until ctx is cancelled. One failed pass is logged and the next
// tick tries again.
func (w *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one expiry pass and one reminder pass.
func (w *Sweeper) Sweep(ctx context.Context) {
	if n, err := w.svc.ExpirePending(ctx); err != nil {
		log.Printf("sweeper: expire pending: %v", err)
	} else if n > 0 {
		log.Printf("sweeper: expired %d pending holds", n)
	}
	if err := w.remind(ctx); err != nil {
		log.Printf("sweeper: reminders: %v", err)
	}
}

func (w *Sweeper) remind(ctx context.Context) error {
	now := w.clock()
	due, err := w.store.DueReminders(ctx, now, now.Add(policy.ReminderWindow))
	if err != nil {
		return err
	}
	for _, b := range due {
		first, err := w.flags.FirstSeen(ctx, b.ID)
		if err != nil {
			return err
		}
		if !first {
			continue
		}
		w.notifier.Dispatch(ctx, notify.Event{
			Kind:      notify.KindRideReminder,
			RideID:    string(b.RideID),
			BookingID: string(b.ID),
			UserID:    string(b.PassengerID),
			At:        now,
		})
	}
	return nil
}
