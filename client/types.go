package client

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DateLayout is the ISO calendar date format used by the portal.
const DateLayout = "2006-01-02"

// Date is a calendar date without a time of day.
type Date struct {
	time.Time
}

// ParseDate parses an ISO date such as "2025-06-01".
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, errors.Wrapf(err, "invalid date %q", s)
	}
	return Date{t}, nil
}

// MustParseDate is ParseDate for constants and tests.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool {
	return d.Time.Before(other.Time)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Location is one consular facility from the catalog.
type Location struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (l Location) String() string {
	if l.Name == "" {
		return l.ID
	}
	return fmt.Sprintf("%s (%s)", l.Name, l.ID)
}

// Slot is an open appointment. A nil *Slot means no availability.
type Slot struct {
	Date Date   `json:"date"`
	Time string `json:"time"`
}

// Candidate is the best slot found so far and where it was found.
type Candidate struct {
	Location Location `json:"location"`
	Slot     Slot     `json:"slot"`
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s on %s at %s", c.Location, c.Slot.Date, c.Slot.Time)
}

// Probe is the outcome of checking one location. Err holds the failure
// that was absorbed while probing; it is informational only.
type Probe struct {
	Location Location
	Slot     *Slot
	Err      error
}

// BookingStatus classifies a booking attempt.
type BookingStatus string

const (
	BookingBooked           BookingStatus = "booked"
	BookingDryRun           BookingStatus = "dry_run"
	BookingTokenUnavailable BookingStatus = "token_unavailable"
	BookingRejected         BookingStatus = "rejected"
	BookingTransportFailed  BookingStatus = "transport_failed"
	BookingUnconfirmed      BookingStatus = "unconfirmed"
)

// BookingResult is the outcome of the single booking attempt of a run.
type BookingResult struct {
	Status     BookingStatus `json:"status"`
	Candidate  Candidate     `json:"candidate"`
	StatusCode int           `json:"status_code,omitempty"`
	Err        error         `json:"-"`
	At         time.Time     `json:"at"`
}

// Booked reports whether the portal confirmed the new appointment.
func (r BookingResult) Booked() bool {
	return r.Status == BookingBooked
}
