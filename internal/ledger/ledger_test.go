package ledger

import (
	"sync"
	"testing"
	"time"
)

func event(channel, value int) AcceptedEvent {
	return AcceptedEvent{
		Channel: channel,
		Value:   value,
		Width:   120 * time.Millisecond,
		Time:    time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRecordUpdatesAllCounters(t *testing.T) {
	l := New()

	l.Record(event(2, 5))
	l.Record(event(2, 5))
	l.Record(event(4, 50))

	snap := l.Snapshot()
	if snap.TotalCount != 3 {
		t.Errorf("expected total count 3, got %d", snap.TotalCount)
	}
	if snap.TotalValue != 60 {
		t.Errorf("expected total value 60, got %d", snap.TotalValue)
	}
	if snap.PerChannel[2] != 2 || snap.PerChannel[4] != 1 {
		t.Errorf("unexpected per-channel counts: %v", snap.PerChannel)
	}
	if len(snap.History) != 3 {
		t.Errorf("expected 3 history entries, got %d", len(snap.History))
	}
}

func TestLedgerInvariant(t *testing.T) {
	l := New()
	for i := 0; i < 25; i++ {
		l.Record(event(1+i%4, 10))
	}

	snap := l.Snapshot()
	sum := 0
	for _, n := range snap.PerChannel {
		sum += n
	}
	if snap.TotalCount != len(snap.History) || snap.TotalCount != sum {
		t.Errorf("invariant violated: count=%d history=%d channel sum=%d",
			snap.TotalCount, len(snap.History), sum)
	}
}

func TestConcurrentRecordLosesNothing(t *testing.T) {
	l := New()

	const goroutines = 8
	const perGoroutine = 200

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(channel int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				l.Record(event(channel, 5))
			}
		}(1 + g%4)
	}
	wg.Wait()

	snap := l.Snapshot()
	want := goroutines * perGoroutine
	if snap.TotalCount != want {
		t.Errorf("expected %d records, got %d", want, snap.TotalCount)
	}
	if snap.TotalValue != want*5 {
		t.Errorf("expected total value %d, got %d", want*5, snap.TotalValue)
	}
	if len(snap.History) != want {
		t.Errorf("expected %d history entries, got %d", want, len(snap.History))
	}
}

func TestResetZeroesEverything(t *testing.T) {
	l := New()
	l.Record(event(1, 1))
	l.Record(event(2, 5))

	l.Reset()

	snap := l.Snapshot()
	if snap.TotalCount != 0 || snap.TotalValue != 0 {
		t.Errorf("expected zero totals after reset, got count=%d value=%d",
			snap.TotalCount, snap.TotalValue)
	}
	if len(snap.PerChannel) != 0 {
		t.Errorf("expected empty per-channel map, got %v", snap.PerChannel)
	}
	if len(snap.History) != 0 {
		t.Errorf("expected empty history, got %d entries", len(snap.History))
	}
}

func TestValueCapturedAtAcceptanceTime(t *testing.T) {
	values := NewValueMap(map[int]int{3: 10})
	l := New()

	v, err := values.Value(3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l.Record(event(3, v))

	// Reconfiguring the channel must not rewrite recorded totals.
	if err := values.Set(3, 20); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := l.Snapshot()
	if snap.TotalValue != 10 {
		t.Errorf("expected recorded value 10 despite reconfiguration, got %d", snap.TotalValue)
	}
	if snap.History[0].Value != 10 {
		t.Errorf("expected history value 10, got %d", snap.History[0].Value)
	}

	// The next acceptance uses the new value.
	v, _ = values.Value(3)
	l.Record(event(3, v))
	if got := l.Snapshot().TotalValue; got != 30 {
		t.Errorf("expected total 30 after second event, got %d", got)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	l := New()
	l.Record(event(1, 1))

	snap := l.Snapshot()
	snap.PerChannel[1] = 99
	snap.History[0].Value = 99

	fresh := l.Snapshot()
	if fresh.PerChannel[1] != 1 {
		t.Error("mutating a snapshot leaked into the ledger")
	}
	if fresh.History[0].Value != 1 {
		t.Error("mutating snapshot history leaked into the ledger")
	}
}

func TestHistoryCapDropsOldest(t *testing.T) {
	l := New(WithHistoryCap(3))
	for i := 1; i <= 5; i++ {
		l.Record(event(i%4+1, i))
	}

	snap := l.Snapshot()
	if snap.TotalCount != 5 {
		t.Errorf("totals must not be affected by the cap, got %d", snap.TotalCount)
	}
	if len(snap.History) != 3 {
		t.Fatalf("expected 3 retained entries, got %d", len(snap.History))
	}
	if snap.History[0].Value != 3 || snap.History[2].Value != 5 {
		t.Errorf("expected newest 3 entries retained, got %+v", snap.History)
	}
}
