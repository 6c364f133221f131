// Package scheduler drives the polling cycle: sign in, probe, pick the best
// slot and book it exactly once.
package scheduler

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"visa-rebooker/client"
	"visa-rebooker/notify"
)

const (
	DefaultInterval     = 5 * time.Minute
	DefaultCooldown     = 60 * time.Minute
	DefaultErrorBackoff = 30 * time.Second
)

// State of the loop.
type State int

const (
	Polling State = iota
	Done
)

func (s State) String() string {
	switch s {
	case Polling:
		return "polling"
	case Done:
		return "done"
	}
	return "unknown"
}

// Portal is what the loop needs from the portal client.
type Portal interface {
	Authenticate(ctx context.Context) (*client.Session, error)
	ProbeLocation(ctx context.Context, sess *client.Session, loc client.Location) client.Probe
	Book(ctx context.Context, sess *client.Session, cand client.Candidate) client.BookingResult
}

// Throttle reports that the portal is pushing back. *client.SafetyManager
// implements it.
type Throttle interface {
	IsTriggered() bool
	Reason() string
	Reset()
}

// Options configures a Loop.
type Options struct {
	RunID      string
	BookedDate client.Date
	// Locations in probe order; the first one is the preferred location.
	Locations []client.Location
	// ProbeAll probes every location each tick instead of only the first.
	ProbeAll bool

	Interval     time.Duration
	Jitter       bool
	Cooldown     time.Duration
	ErrorBackoff time.Duration
	// MaxRecoveries bounds consecutive failed ticks; 0 means no bound.
	MaxRecoveries int
	// AnnounceRestarts re-sends the polling started notification after
	// every recovered failure.
	AnnounceRestarts bool
}

// Stats counts what a run did.
type Stats struct {
	StartedAt     time.Time `json:"started_at"`
	Ticks         int       `json:"ticks"`
	Probes        int       `json:"probes"`
	ProbeFailures int       `json:"probe_failures"`
	Recoveries    int       `json:"recoveries"`
	Cooldowns     int       `json:"cooldowns"`
}

// Outcome is what Run returns.
type Outcome struct {
	RunID     string
	State     State
	Candidate *client.Candidate
	Booking   *client.BookingResult
	Stats     Stats
}

// Loop is the polling state machine. It is not safe for concurrent use.
type Loop struct {
	portal   Portal
	notifier notify.Notifier
	throttle Throttle
	logger   *zap.Logger
	opts     Options
	pacer    *Pacer
	sleep    func(context.Context, time.Duration) error

	state   State
	best    *client.Candidate
	session *client.Session
	stats   Stats
}

// Option customizes a Loop.
type Option func(*Loop)

// WithSleep replaces the wait between ticks.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(l *Loop) { l.sleep = fn }
}

// WithThrottle lets the loop cool down when the portal pushes back.
func WithThrottle(t Throttle) Option {
	return func(l *Loop) { l.throttle = t }
}

// New creates a Loop in the Polling state.
func New(portal Portal, notifier notify.Notifier, logger *zap.Logger, opts Options, options ...Option) *Loop {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = DefaultErrorBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Loop{
		portal:   portal,
		notifier: notifier,
		logger:   logger.With(zap.String("run_id", opts.RunID)),
		opts:     opts,
		pacer:    NewPacer(opts.Interval, opts.Jitter),
		sleep:    SleepContext,
		state:    Polling,
	}
	for _, o := range options {
		o(l)
	}
	return l
}

// State returns the current state.
func (l *Loop) State() State {
	return l.state
}

// Run polls until a qualifying slot is found, books it once and returns.
// It returns early with an error when ctx ends or when MaxRecoveries is
// exceeded. A failed booking is reported in Outcome.Booking, not as error.
func (l *Loop) Run(ctx context.Context) (Outcome, error) {
	if len(l.opts.Locations) == 0 {
		return l.outcome(), errors.New("no locations to probe")
	}
	if l.state != Polling {
		return l.outcome(), errors.New("loop already finished")
	}
	l.stats.StartedAt = time.Now()

	l.logger.Info("polling started",
		zap.String("booked_date", l.opts.BookedDate.String()),
		zap.Strings("locations", l.probeNames()),
		zap.Duration("interval", l.opts.Interval))
	l.announce(ctx)

	consecutive := 0
	for l.state == Polling {
		if err := ctx.Err(); err != nil {
			return l.outcome(), err
		}

		if err := l.tick(ctx); err != nil {
			if ctx.Err() != nil {
				return l.outcome(), ctx.Err()
			}
			consecutive++
			l.recover(err, consecutive)
			if l.opts.MaxRecoveries > 0 && consecutive > l.opts.MaxRecoveries {
				return l.outcome(), errors.Wrapf(err, "giving up after %d consecutive failed ticks", consecutive)
			}
			if err := l.sleep(ctx, l.nextWait(l.opts.ErrorBackoff)); err != nil {
				return l.outcome(), err
			}
			if l.opts.AnnounceRestarts {
				l.announce(ctx)
			}
			continue
		}
		consecutive = 0

		if l.state == Done {
			break
		}

		wait := l.nextWait(l.pacer.Next())
		l.logger.Info("no availability",
			zap.Int("tick", l.stats.Ticks),
			zap.Duration("next_check_in", wait))
		if err := l.sleep(ctx, wait); err != nil {
			return l.outcome(), err
		}
	}

	return l.book(ctx), nil
}

// Check runs a single tick without booking or notifications and returns
// the best qualifying slot, if any.
func (l *Loop) Check(ctx context.Context) (*client.Candidate, error) {
	if len(l.opts.Locations) == 0 {
		return nil, errors.New("no locations to probe")
	}
	if l.stats.StartedAt.IsZero() {
		l.stats.StartedAt = time.Now()
	}
	if err := l.tick(ctx); err != nil {
		return nil, err
	}
	return l.best, nil
}

// Outcome returns a snapshot of the run so far.
func (l *Loop) Outcome() Outcome {
	return l.outcome()
}

// tick is one pass of authenticate, probe and decide. Only an
// authentication failure makes it return an error.
func (l *Loop) tick(ctx context.Context) error {
	l.stats.Ticks++

	sess := l.session
	if sess == nil {
		s, err := l.portal.Authenticate(ctx)
		if err != nil {
			return err
		}
		sess = s
		l.session = s
	}

	stale := false
	for _, loc := range l.probeOrder() {
		if err := ctx.Err(); err != nil {
			return err
		}

		probe := l.portal.ProbeLocation(ctx, sess, loc)
		l.stats.Probes++

		fields := []zap.Field{
			zap.Int("tick", l.stats.Ticks),
			zap.String("location", loc.ID),
			zap.String("location_name", loc.Name),
		}

		switch {
		case probe.Err != nil:
			// The same session keeps serving this tick; the next tick signs in again.
			stale = true
			l.stats.ProbeFailures++
			l.logger.Info("location checked", append(fields, zap.String("outcome", "probe failed"))...)
		case probe.Slot == nil:
			l.logger.Info("location checked", append(fields, zap.String("outcome", "no availability"))...)
		default:
			fields = append(fields,
				zap.String("date", probe.Slot.Date.String()),
				zap.String("time", probe.Slot.Time))
			next := Consider(l.best, loc, probe.Slot.Date, probe.Slot.Time, l.opts.BookedDate)
			if next == l.best {
				outcome := "not earlier than booked date"
				if probe.Slot.Date.Before(l.opts.BookedDate) {
					outcome = "not earlier than current best"
				}
				l.logger.Info("location checked", append(fields, zap.String("outcome", outcome))...)
				continue
			}
			l.best = next
			l.logger.Info("location checked", append(fields, zap.String("outcome", "candidate"))...)
		}
	}

	if stale {
		l.session = nil
	}
	if l.best != nil {
		l.state = Done
	}
	return nil
}

// book is the terminal action of the Done state.
func (l *Loop) book(ctx context.Context) Outcome {
	cand := *l.best
	l.logger.Info("earlier slot found, booking",
		zap.String("location", cand.Location.ID),
		zap.String("date", cand.Slot.Date.String()),
		zap.String("time", cand.Slot.Time))

	notify.Deliver(ctx, l.notifier, l.slotFoundEvent(cand), l.logger)

	result := l.portal.Book(ctx, l.session, cand)
	l.session = nil

	fields := []zap.Field{
		zap.String("status", string(result.Status)),
		zap.String("candidate", cand.String()),
	}
	switch result.Status {
	case client.BookingBooked, client.BookingDryRun:
		l.logger.Info("booking finished", fields...)
	default:
		l.logger.Error("booking failed, manual action required", append(fields, zap.Error(result.Err))...)
		l.capture(result.Err, "booking_failed")
	}

	out := l.outcome()
	out.Booking = &result
	return out
}

// recover resets the cycle after a failed tick. The best candidate is kept.
func (l *Loop) recover(err error, consecutive int) {
	l.session = nil
	l.stats.Recoveries++
	l.logger.Warn("recovered from error, restarting polling cycle",
		zap.Error(err),
		zap.Bool("auth_error", client.IsAuthError(err)),
		zap.Int("consecutive", consecutive))
	l.capture(err, "recovered")
}

// nextWait returns the cooldown instead of d when the portal is throttling.
func (l *Loop) nextWait(d time.Duration) time.Duration {
	if l.throttle == nil || !l.throttle.IsTriggered() {
		return d
	}
	l.stats.Cooldowns++
	l.logger.Warn("portal is throttling, cooling down",
		zap.String("reason", l.throttle.Reason()),
		zap.Duration("cooldown", l.opts.Cooldown))
	l.throttle.Reset()
	return l.opts.Cooldown
}

func (l *Loop) probeOrder() []client.Location {
	if l.opts.ProbeAll {
		return l.opts.Locations
	}
	return l.opts.Locations[:1]
}

func (l *Loop) probeNames() []string {
	order := l.probeOrder()
	names := make([]string, 0, len(order))
	for _, loc := range order {
		names = append(names, loc.String())
	}
	return names
}

func (l *Loop) announce(ctx context.Context) {
	notify.Deliver(ctx, l.notifier, notify.Event{
		Kind:       notify.PollingStarted,
		RunID:      l.opts.RunID,
		At:         time.Now(),
		BookedDate: l.opts.BookedDate.String(),
		Locations:  l.probeNames(),
	}, l.logger)
}

func (l *Loop) slotFoundEvent(cand client.Candidate) notify.Event {
	return notify.Event{
		Kind:       notify.SlotFound,
		RunID:      l.opts.RunID,
		At:         time.Now(),
		BookedDate: l.opts.BookedDate.String(),
		Location:   cand.Location.String(),
		Date:       cand.Slot.Date.String(),
		Time:       cand.Slot.Time,
	}
}

func (l *Loop) capture(err error, event string) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("run_id", l.opts.RunID)
		scope.SetTag("event", event)
		sentry.CaptureException(err)
	})
}

func (l *Loop) outcome() Outcome {
	return Outcome{
		RunID:     l.opts.RunID,
		State:     l.state,
		Candidate: l.best,
		Stats:     l.stats,
	}
}
