package geo

import (
	"context"
	"sync"
	"time"

	"github.com/yegors/clara/pkg/logger"
)

// Coordinates is a WGS84 position
type Coordinates struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	At        time.Time `json:"at"`
}

// Locator resolves the device position on a best-effort basis. Absence is
// reported with ok=false and never as an error.
type Locator interface {
	Coordinates(ctx context.Context) (Coordinates, bool)
}

// Publisher fans messages out to connected front ends
type Publisher interface {
	Publish(msgType string, data map[string]any)
}

// MessageTypeLocationRequest asks the front end for a fresh position
const MessageTypeLocationRequest = "location.request"

// StaticLocator always returns fixed coordinates from configuration
type StaticLocator struct {
	Latitude  float64
	Longitude float64
}

// Coordinates implements Locator
func (s StaticLocator) Coordinates(context.Context) (Coordinates, bool) {
	return Coordinates{Latitude: s.Latitude, Longitude: s.Longitude, At: time.Now()}, true
}

// BrowserLocator serves positions reported by the front end. A lookup with
// no fresh report asks the browser and waits up to the timeout.
type BrowserLocator struct {
	pub     Publisher
	timeout time.Duration
	maxAge  time.Duration
	now     func() time.Time
	logger  *logger.Logger

	mu      sync.Mutex
	latest  *Coordinates
	waiters []chan *Coordinates
}

// NewBrowserLocator creates a locator. Reports older than maxAge are not reused.
func NewBrowserLocator(pub Publisher, timeout, maxAge time.Duration, log *logger.Logger) *BrowserLocator {
	return &BrowserLocator{
		pub:     pub,
		timeout: timeout,
		maxAge:  maxAge,
		now:     time.Now,
		logger:  log.Named("geo"),
	}
}

// Coordinates implements Locator
func (l *BrowserLocator) Coordinates(ctx context.Context) (Coordinates, bool) {
	l.mu.Lock()
	if l.latest != nil && l.now().Sub(l.latest.At) <= l.maxAge {
		c := *l.latest
		l.mu.Unlock()
		return c, true
	}
	ch := make(chan *Coordinates, 1)
	l.waiters = append(l.waiters, ch)
	l.mu.Unlock()

	l.pub.Publish(MessageTypeLocationRequest, map[string]any{})

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case c := <-ch:
		if c == nil {
			return Coordinates{}, false
		}
		return *c, true
	case <-timer.C:
		l.logger.Debug("No location reported in time", logger.Duration("timeout", l.timeout))
	case <-ctx.Done():
	}
	l.dropWaiter(ch)
	return Coordinates{}, false
}

func (l *BrowserLocator) dropWaiter(ch chan *Coordinates) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, w := range l.waiters {
		if w == ch {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			return
		}
	}
}

// Report stores a position from the front end and wakes any waiting lookups
func (l *BrowserLocator) Report(lat, lon float64) {
	c := Coordinates{Latitude: lat, Longitude: lon, At: l.now()}
	l.mu.Lock()
	l.latest = &c
	waiters := l.waiters
	l.waiters = nil
	l.mu.Unlock()

	for _, w := range waiters {
		cc := c
		w <- &cc
	}
}

// Deny resolves waiting lookups as absent and forgets the last position
func (l *BrowserLocator) Deny() {
	l.mu.Lock()
	l.latest = nil
	waiters := l.waiters
	l.waiters = nil
	l.mu.Unlock()

	for _, w := range waiters {
		w <- nil
	}
	l.logger.Info("Browser denied location access")
}
