package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"costrologer/internal/core"
)

func TestProcessingEvent_Validate(t *testing.T) {
	assert.NoError(t, ProcessingEvent{TransactionID: "t1", UserID: "u1"}.Validate())
	assert.ErrorIs(t, ProcessingEvent{UserID: "u1"}.Validate(), core.ErrInvalidEvent)
	assert.ErrorIs(t, ProcessingEvent{TransactionID: "t1"}.Validate(), core.ErrInvalidEvent)
}

func TestPermanent(t *testing.T) {
	assert.True(t, Permanent(fmt.Errorf("wrap: %w", core.ErrInvalidEvent)))
	assert.True(t, Permanent(fmt.Errorf("wrap: %w", core.ErrInvalidInterval)))
	assert.False(t, Permanent(errors.New("database is locked")))
	assert.False(t, Permanent(nil))
}

func TestInline(t *testing.T) {
	var got []ProcessingEvent
	var p Publisher = Inline(func(ctx context.Context, e ProcessingEvent) error {
		got = append(got, e)
		if e.TransactionID == "bad" {
			return core.ErrInvalidEvent
		}
		return nil
	})

	assert.NoError(t, p.Publish(context.Background(), ProcessingEvent{TransactionID: "t1", UserID: "u1"}))
	assert.ErrorIs(t, p.Publish(context.Background(), ProcessingEvent{TransactionID: "bad", UserID: "u1"}), core.ErrInvalidEvent)
	assert.Len(t, got, 2)
	assert.NoError(t, p.Close())
}

func TestDeferred(t *testing.T) {
	delay, ok := Deferred(fmt.Errorf("process: %w", Defer(3*time.Second)))
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, delay)

	_, ok = Deferred(errors.New("database is locked"))
	assert.False(t, ok)
	assert.False(t, Permanent(Defer(time.Second)))
}

func TestInline_RetriesDeferred(t *testing.T) {
	calls := 0
	p := Inline(func(ctx context.Context, e ProcessingEvent) error {
		calls++
		if calls < 3 {
			return Defer(time.Millisecond)
		}
		return nil
	})

	assert.NoError(t, p.Publish(context.Background(), ProcessingEvent{TransactionID: "t1", UserID: "u1"}))
	assert.Equal(t, 3, calls)
}

func TestInline_DeferredHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Inline(func(ctx context.Context, e ProcessingEvent) error {
		cancel()
		return Defer(time.Hour)
	})

	assert.ErrorIs(t, p.Publish(ctx, ProcessingEvent{TransactionID: "t1", UserID: "u1"}), context.Canceled)
}
