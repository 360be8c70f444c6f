package utils

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	Sleep(d time.Duration)
}

type RealClock struct{}

func (self RealClock) Sleep(d time.Duration) {
	time.Sleep(d)
}

func (self RealClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

func (self RealClock) Now() time.Time {
	return time.Now()
}

// A clock frozen at MockNow which does not actually sleep. Tests can
// count the sleeps to verify backoff.
type MockClock struct {
	mu      sync.Mutex
	MockNow time.Time
	Slept   []time.Duration
}

func (self *MockClock) Now() time.Time {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.MockNow
}

func (self *MockClock) After(d time.Duration) <-chan time.Time {
	self.Sleep(d)
	return time.After(0)
}

func (self *MockClock) Sleep(d time.Duration) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.Slept = append(self.Slept, d)
	self.MockNow = self.MockNow.Add(d)
}

func (self *MockClock) Sleeps() []time.Duration {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([]time.Duration{}, self.Slept...)
}

var (
	clock_mu sync.Mutex
	g_clock  Clock = RealClock{}
)

// The clock used to timestamp records.
func GetTime() Clock {
	clock_mu.Lock()
	defer clock_mu.Unlock()
	return g_clock
}

// Install a clock for the duration of a test. Call the returned
// function to restore the real clock.
func MockTime(clock Clock) func() {
	clock_mu.Lock()
	defer clock_mu.Unlock()

	old := g_clock
	g_clock = clock
	return func() {
		clock_mu.Lock()
		defer clock_mu.Unlock()
		g_clock = old
	}
}
