package embcache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/chantio/chantio/internal/log"
)

func newTestCache(capacity int, ttl time.Duration) *Cache {
	return New(Config{Capacity: capacity, TTL: ttl}, log.NewNop())
}

func TestGet_NormalizedTextsShareEntry(t *testing.T) {
	t.Parallel()

	c := newTestCache(10, time.Hour)
	vec := []float32{0.5, 0.5}

	c.Set("  Blue   Tile 30x30 ", vec)

	got, ok := c.Get("blue tile 30x30")
	if !ok {
		t.Fatal("expected hit for normalization-equivalent text")
	}
	if len(got) != 2 || got[0] != 0.5 {
		t.Errorf("got %v, want %v", got, vec)
	}

	if _, ok := c.Get("blue tile 60x60"); ok {
		t.Error("different text must miss")
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"  Hello   World ", "hello world"},
		{"HELLO\tWORLD", "hello world"},
		{"a\n\nb", "a b"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSet_CapacityBoundAndLFUEviction(t *testing.T) {
	t.Parallel()

	c := newTestCache(3, time.Hour)

	c.Set("a", []float32{1})
	c.Set("b", []float32{2})
	c.Set("c", []float32{3})

	// a and c get hits; b stays at zero and must be the eviction victim.
	c.Get("a")
	c.Get("c")
	c.Get("c")

	c.Set("d", []float32{4})

	if c.Len() != 3 {
		t.Errorf("Len = %d, want 3 (capacity bound)", c.Len())
	}
	if _, ok := c.Get("b"); ok {
		t.Error("b had the lowest hit count and should have been evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%q should have survived eviction", k)
		}
	}
}

func TestSet_EvictionTieBreaksOldest(t *testing.T) {
	t.Parallel()

	c := newTestCache(2, time.Hour)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Set("old", []float32{1})
	c.now = func() time.Time { return base.Add(time.Minute) }
	c.Set("new", []float32{2})

	// Both at zero hits; the older insert loses.
	c.Set("third", []float32{3})

	if _, ok := c.Get("old"); ok {
		t.Error("oldest zero-hit entry should have been evicted")
	}
	if _, ok := c.Get("new"); !ok {
		t.Error("newer zero-hit entry should have survived")
	}
}

func TestSet_OverCapacityNeverGrows(t *testing.T) {
	t.Parallel()

	c := newTestCache(5, time.Hour)
	for i := 0; i < 50; i++ {
		c.Set(fmt.Sprintf("key-%d", i), []float32{float32(i)})
		if c.Len() > 5 {
			t.Fatalf("cache grew to %d entries, capacity 5", c.Len())
		}
	}
}

func TestGet_LazyTTLExpiry(t *testing.T) {
	t.Parallel()

	c := newTestCache(10, time.Hour)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Set("stale", []float32{1})

	// Just past the TTL, never accessed in between.
	c.now = func() time.Time { return base.Add(time.Hour + time.Second) }

	if _, ok := c.Get("stale"); ok {
		t.Error("expired entry must be treated as a miss")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry should be removed on Get, Len = %d", c.Len())
	}
}

func TestRemoveExpired_SweepsWithoutAccess(t *testing.T) {
	t.Parallel()

	c := newTestCache(10, time.Hour)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Set("one", []float32{1})
	c.Set("two", []float32{2})

	c.now = func() time.Time { return base.Add(2 * time.Hour) }
	c.Set("fresh", []float32{3})

	if n := c.removeExpired(); n != 2 {
		t.Errorf("removeExpired = %d, want 2", n)
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Error("fresh entry must survive the sweep")
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := New(Config{Capacity: 10, TTL: time.Hour, SweepInterval: 10 * time.Millisecond}, log.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after context cancel")
	}
}

func TestStats(t *testing.T) {
	t.Parallel()

	c := newTestCache(10, time.Hour)
	c.Set("a", []float32{1})
	c.Get("a")
	c.Get("a")
	c.Get("missing")

	s := c.Stats()
	if s.Size != 1 {
		t.Errorf("Size = %d, want 1", s.Size)
	}
	if s.Hits != 2 || s.Misses != 1 {
		t.Errorf("Hits/Misses = %d/%d, want 2/1", s.Hits, s.Misses)
	}
	if s.HitRate < 0.66 || s.HitRate > 0.67 {
		t.Errorf("HitRate = %f", s.HitRate)
	}
	if len(s.Top) != 1 || s.Top[0].Hits != 2 {
		t.Errorf("Top = %+v", s.Top)
	}
}
