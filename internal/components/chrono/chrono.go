package chrono

import (
	"sync"
	"time"
)

// TimeAPI is the source of the current time for anything that stores
// timestamps or checks expiry.
//
// note: fault injection point
type TimeAPI interface {
	Now() time.Time
}

// StandardImpl reads the wall clock in UTC.
type StandardImpl struct{}

func (StandardImpl) Now() time.Time {
	return time.Now().UTC()
}

// ManualClock is a TimeAPI that only moves when told to.
type ManualClock struct {
	mutex sync.Mutex
	now   time.Time
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (m *ManualClock) Now() time.Time {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.now
}

func (m *ManualClock) Advance(d time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.now = m.now.Add(d)
}
