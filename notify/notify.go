// Package notify delivers run milestones to the user. Delivery is best
// effort: failures are logged by Deliver and never stop the caller.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Kind names a notification event.
type Kind string

const (
	PollingStarted Kind = "polling_started"
	SlotFound      Kind = "slot_found"
)

const deliveryTimeout = 30 * time.Second

// Event is a milestone worth telling the user about.
type Event struct {
	Kind       Kind      `json:"kind"`
	RunID      string    `json:"run_id"`
	At         time.Time `json:"at"`
	BookedDate string    `json:"booked_date"`
	// Locations being watched, for PollingStarted.
	Locations []string `json:"locations,omitempty"`
	// Location, Date and Time of the slot, for SlotFound.
	Location string `json:"location,omitempty"`
	Date     string `json:"date,omitempty"`
	Time     string `json:"time,omitempty"`
}

// Subject is a one-line summary.
func (e Event) Subject() string {
	switch e.Kind {
	case PollingStarted:
		return "Appointment polling started"
	case SlotFound:
		return fmt.Sprintf("Earlier appointment found: %s %s at %s", e.Date, e.Time, e.Location)
	}
	return string(e.Kind)
}

// Text is the full message body.
func (e Event) Text() string {
	var b strings.Builder
	b.WriteString(e.Subject())
	b.WriteString("\n\n")
	switch e.Kind {
	case PollingStarted:
		fmt.Fprintf(&b, "Watching: %s\n", strings.Join(e.Locations, ", "))
		fmt.Fprintf(&b, "Looking for a date before %s.\n", e.BookedDate)
	case SlotFound:
		fmt.Fprintf(&b, "Location: %s\nDate: %s\nTime: %s\n", e.Location, e.Date, e.Time)
		fmt.Fprintf(&b, "Current appointment: %s\n", e.BookedDate)
	}
	if e.RunID != "" {
		fmt.Fprintf(&b, "\nRun %s", e.RunID)
	}
	return b.String()
}

// Notifier delivers events over one channel.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Multi fans an event out to every notifier and combines their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, e Event) error {
	var err error
	for _, n := range m {
		if nerr := n.Notify(ctx, e); nerr != nil {
			err = multierr.Append(err, fmt.Errorf("%T: %w", n, nerr))
		}
	}
	return err
}

// Deliver sends e through n and logs any failure instead of returning it.
func Deliver(ctx context.Context, n Notifier, e Event, logger *zap.Logger) {
	if n == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	if err := n.Notify(ctx, e); err != nil {
		logger.Warn("notification delivery failed",
			zap.String("event", string(e.Kind)),
			zap.Error(err))
	}
}

// Log writes events to the structured log. It never fails.
type Log struct {
	Logger *zap.Logger
}

func (l Log) Notify(_ context.Context, e Event) error {
	l.Logger.Info("notification",
		zap.String("event", string(e.Kind)),
		zap.String("subject", e.Subject()))
	return nil
}
