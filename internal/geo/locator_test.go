package geo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/yegors/clara/pkg/logger"
)

type countingPublisher struct {
	mu sync.Mutex
	n  int
}

func (p *countingPublisher) Publish(string, map[string]any) {
	p.mu.Lock()
	p.n++
	p.mu.Unlock()
}

func (p *countingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

func TestBrowserLocatorTimeoutIsAbsent(t *testing.T) {
	l := NewBrowserLocator(&countingPublisher{}, 20*time.Millisecond, time.Minute, logger.NewNop())
	start := time.Now()
	if _, ok := l.Coordinates(context.Background()); ok {
		t.Fatal("expected absent coordinates")
	}
	if time.Since(start) > time.Second {
		t.Fatal("lookup not bounded by timeout")
	}
}

func TestBrowserLocatorWaitsForReport(t *testing.T) {
	pub := &countingPublisher{}
	l := NewBrowserLocator(pub, 2*time.Second, time.Minute, logger.NewNop())

	go func() {
		for pub.count() == 0 {
			time.Sleep(time.Millisecond)
		}
		l.Report(51.5, -0.12)
	}()

	c, ok := l.Coordinates(context.Background())
	if !ok || c.Latitude != 51.5 || c.Longitude != -0.12 {
		t.Fatalf("coordinates = %+v, %v", c, ok)
	}

	// a fresh report is reused without asking again
	if _, ok := l.Coordinates(context.Background()); !ok {
		t.Fatal("fresh report not reused")
	}
	if pub.count() != 1 {
		t.Fatalf("requested %d times", pub.count())
	}
}

func TestBrowserLocatorStaleReport(t *testing.T) {
	l := NewBrowserLocator(&countingPublisher{}, 10*time.Millisecond, time.Minute, logger.NewNop())
	now := time.Now()
	l.now = func() time.Time { return now }
	l.Report(1, 2)

	l.now = func() time.Time { return now.Add(2 * time.Minute) }
	if _, ok := l.Coordinates(context.Background()); ok {
		t.Fatal("stale report reused")
	}
}

func TestBrowserLocatorDeny(t *testing.T) {
	pub := &countingPublisher{}
	l := NewBrowserLocator(pub, 2*time.Second, time.Minute, logger.NewNop())
	go func() {
		for pub.count() == 0 {
			time.Sleep(time.Millisecond)
		}
		l.Deny()
	}()
	start := time.Now()
	if _, ok := l.Coordinates(context.Background()); ok {
		t.Fatal("denied lookup returned coordinates")
	}
	if time.Since(start) > time.Second {
		t.Fatal("deny did not resolve the lookup")
	}
}

func TestBrowserLocatorContextCancel(t *testing.T) {
	l := NewBrowserLocator(&countingPublisher{}, time.Minute, time.Minute, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := l.Coordinates(ctx); ok {
		t.Fatal("cancelled lookup returned coordinates")
	}
}

func TestStaticLocator(t *testing.T) {
	c, ok := StaticLocator{Latitude: 40.7, Longitude: -74}.Coordinates(context.Background())
	if !ok || c.Latitude != 40.7 {
		t.Fatalf("static = %+v %v", c, ok)
	}
}
