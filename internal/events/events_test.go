package events

import (
	"context"
	"errors"
	"testing"
)

type failing struct{ calls int }

func (f *failing) Publish(context.Context, Event) error {
	f.calls++
	return errors.New("unavailable")
}

func TestMulti_DeliversToAllDespiteFailure(t *testing.T) {
	bad := &failing{}
	rec := NewRecorder(4)

	err := Multi{bad, nil, rec}.Publish(context.Background(), Event{Type: TypeSettled, PositionID: "p1"})

	if err == nil {
		t.Error("expected the failing publisher's error")
	}
	if bad.calls != 1 {
		t.Errorf("expected failing publisher to be called once, got %d", bad.calls)
	}
	got := rec.Events()
	if len(got) != 1 || got[0].PositionID != "p1" {
		t.Errorf("expected recorder to receive the event, got %+v", got)
	}
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	rec := NewRecorder(1)
	ctx := context.Background()

	rec.Publish(ctx, Event{PositionID: "a"})
	rec.Publish(ctx, Event{PositionID: "b"})

	got := rec.Events()
	if len(got) != 1 || got[0].PositionID != "a" {
		t.Errorf("expected only the first event, got %+v", got)
	}
	if len(rec.Events()) != 0 {
		t.Error("expected recorder to be drained")
	}
}
