package input

import (
	"sync"
	"testing"
	"time"

	"boneio/internal/model"
)

type clickRecorder struct {
	mu     sync.Mutex
	clicks []model.ClickType
	last   *float64
}

func (r *clickRecorder) handler(click model.ClickType, duration *float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clicks = append(r.clicks, click)
	r.last = duration
}

func (r *clickRecorder) snapshot() []model.ClickType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ClickType, len(r.clicks))
	copy(out, r.clicks)
	return out
}

func newTestClickInput(rec *clickRecorder) *NewClickInput {
	return NewNewClickInput(nil, NewClickInputConfig{Name: "test", BounceTime: 10 * time.Millisecond}, rec.handler)
}

func TestNewClickInputSingleClick(t *testing.T) {
	rec := &clickRecorder{}
	in := newTestClickInput(rec)

	now := time.Now()
	in.onEdge(true, now)
	in.onEdge(false, now.Add(20*time.Millisecond))

	time.Sleep(DoubleClickWindow + 100*time.Millisecond)

	got := rec.snapshot()
	if len(got) != 1 || got[0] != model.ClickSingle {
		t.Fatalf("expected a single click, got %v", got)
	}
}

func TestNewClickInputDoubleClick(t *testing.T) {
	rec := &clickRecorder{}
	in := newTestClickInput(rec)

	now := time.Now()
	in.onEdge(true, now)
	in.onEdge(false, now.Add(20*time.Millisecond))
	in.onEdge(true, now.Add(60*time.Millisecond))
	in.onEdge(false, now.Add(80*time.Millisecond))

	time.Sleep(DoubleClickWindow + 100*time.Millisecond)

	got := rec.snapshot()
	if len(got) != 1 || got[0] != model.ClickDouble {
		t.Fatalf("expected a single double click, got %v", got)
	}
}

func TestNewClickInputLongPress(t *testing.T) {
	rec := &clickRecorder{}
	in := newTestClickInput(rec)

	now := time.Now()
	in.onEdge(true, now)
	time.Sleep(LongPressDuration + 100*time.Millisecond)
	in.onEdge(false, time.Now())

	got := rec.snapshot()
	if len(got) != 1 || got[0] != model.ClickLong {
		t.Fatalf("expected a single long click, got %v", got)
	}
	if rec.last == nil || *rec.last < LongPressDuration.Seconds() {
		t.Fatalf("expected a long-press duration >= %v, got %v", LongPressDuration, rec.last)
	}
}

func TestBinarySensorInputPressedReleased(t *testing.T) {
	rec := &clickRecorder{}
	in := &BinarySensorInput{name: "test", bounce: 10 * time.Millisecond, onPress: rec.handler}

	now := time.Now()
	in.onEdge(true, now)
	in.onEdge(false, now.Add(150*time.Millisecond))

	got := rec.snapshot()
	if len(got) != 2 || got[0] != model.ClickPressed || got[1] != model.ClickReleased {
		t.Fatalf("expected pressed then released, got %v", got)
	}
	if rec.last == nil || *rec.last < 0.1 {
		t.Fatalf("expected a released duration around 0.15s, got %v", rec.last)
	}
}

func TestBinarySensorInputInvert(t *testing.T) {
	rec := &clickRecorder{}
	in := &BinarySensorInput{name: "test", bounce: 10 * time.Millisecond, invert: true, onPress: rec.handler}

	in.onEdge(false, time.Now())
	got := rec.snapshot()
	if len(got) != 1 || got[0] != model.ClickPressed {
		t.Fatalf("inverted low level should report pressed, got %v", got)
	}
}
