package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubNotifier struct {
	err   error
	calls int
}

func (s *stubNotifier) Notify(context.Context, Event) error {
	s.calls++
	return s.err
}

func slotFound() Event {
	return Event{
		Kind:       SlotFound,
		RunID:      "run-1",
		At:         time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC),
		BookedDate: "2025-06-01",
		Location:   "Toronto (94)",
		Date:       "2025-05-10",
		Time:       "09:15",
	}
}

func TestEventText(t *testing.T) {
	e := slotFound()
	assert.Equal(t, "Earlier appointment found: 2025-05-10 09:15 at Toronto (94)", e.Subject())
	assert.Contains(t, e.Text(), "Current appointment: 2025-06-01")
	assert.Contains(t, e.Text(), "Run run-1")

	started := Event{Kind: PollingStarted, BookedDate: "2025-06-01", Locations: []string{"Toronto (94)", "Vancouver (95)"}}
	assert.Equal(t, "Appointment polling started", started.Subject())
	assert.Contains(t, started.Text(), "Watching: Toronto (94), Vancouver (95)")
}

func TestMulti(t *testing.T) {
	ok := &stubNotifier{}
	bad1 := &stubNotifier{err: errors.New("smtp down")}
	bad2 := &stubNotifier{err: errors.New("telegram down")}

	err := Multi{bad1, ok, bad2}.Notify(context.Background(), slotFound())
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Contains(t, err.Error(), "smtp down")
	assert.Contains(t, err.Error(), "telegram down")
	assert.Equal(t, 1, ok.calls, "a failure does not stop the fan-out")

	assert.NoError(t, Multi{ok}.Notify(context.Background(), slotFound()))
	assert.NoError(t, Multi{}.Notify(context.Background(), slotFound()))
}

func TestDeliverLogsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	Deliver(context.Background(), &stubNotifier{err: errors.New("smtp down")}, slotFound(), logger)
	entries := logs.FilterMessage("notification delivery failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "slot_found", entries[0].ContextMap()["event"])

	Deliver(context.Background(), nil, slotFound(), logger)
	Deliver(context.Background(), Log{Logger: logger}, slotFound(), logger)
	assert.Len(t, logs.FilterMessage("notification").All(), 1)
}
