package history

import (
	"testing"

	"pairtrader/internal/trade"
)

func TestLogAppendAndRead(t *testing.T) {
	l := NewLog()
	if _, ok := l.Last(); ok {
		t.Error("empty log reported a last entry")
	}
	if l.Len() != 0 {
		t.Errorf("empty log length = %d", l.Len())
	}

	l.Append(trade.Result{Symbol: "BTCUSDT", CorrelationID: "a"})
	l.Append(trade.Result{Symbol: "ETHUSDT", CorrelationID: "b"})

	if l.Len() != 2 {
		t.Fatalf("length = %d, want 2", l.Len())
	}
	last, ok := l.Last()
	if !ok || last.CorrelationID != "b" {
		t.Errorf("last = %+v, want correlation b", last)
	}
	all := l.All()
	if len(all) != 2 || all[0].CorrelationID != "a" {
		t.Errorf("All() = %+v, want oldest first", all)
	}

	// The returned slice is a copy; mutating it must not corrupt the log.
	all[0].CorrelationID = "mutated"
	fresh := l.All()
	if fresh[0].CorrelationID != "a" {
		t.Error("All() leaked internal state")
	}
}
