// README: Shared value objects (IDs, coordinates, seat counters, clock).
package types

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

type ID string

type Point struct {
	Lat float64
	Lng float64
}

// SeatCounters tracks a ride offer's seat inventory. Booked + Available == Total
// holds after every ledger operation.
type SeatCounters struct {
	Total     int
	Available int
	Booked    int
}

func (c SeatCounters) Consistent() bool {
	return c.Available >= 0 && c.Available <= c.Total && c.Booked+c.Available == c.Total
}

// Clock supplies "now" to time-dependent code. Services take a Clock instead of
// calling time.Now so lifecycle rules stay deterministic under test.
type Clock func() time.Time

func SystemClock() time.Time {
	return time.Now().UTC()
}

func NewID() ID {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return ID(hex.EncodeToString(b[:]))
}
