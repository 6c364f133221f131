package scheduler

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"visa-rebooker/client"
)

// Final dispositions of a run.
const (
	DispositionBooked        = "booked"
	DispositionDryRun        = "dry_run"
	DispositionBookingFailed = "booking_failed"
	DispositionSlotFound     = "slot_found"
	DispositionNoDateFound   = "no_date_found"
)

// RunReport holds everything needed for the end-of-run summary.
type RunReport struct {
	RunID      string   `json:"run_id"`
	Portal     string   `json:"portal"`
	Mode       string   `json:"mode"`
	BookedDate string   `json:"booked_date"`
	Locations  []string `json:"locations"`
	Interval   string   `json:"interval"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Stats      Stats     `json:"stats"`

	Candidate   *client.Candidate     `json:"candidate,omitempty"`
	Booking     *client.BookingResult `json:"booking,omitempty"`
	Disposition string                `json:"disposition"`
	Error       string                `json:"error,omitempty"`
}

// NewRunReport builds a report from a finished run. runErr is the error
// returned by Run or Check, if any.
func NewRunReport(out Outcome, runErr error) RunReport {
	r := RunReport{
		RunID:      out.RunID,
		StartedAt:  out.Stats.StartedAt,
		FinishedAt: time.Now(),
		Stats:      out.Stats,
		Candidate:  out.Candidate,
		Booking:    out.Booking,
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	if out.Booking != nil && out.Booking.Err != nil {
		r.Error = out.Booking.Err.Error()
	}

	switch {
	case out.Booking != nil && out.Booking.Booked():
		r.Disposition = DispositionBooked
	case out.Booking != nil && out.Booking.Status == client.BookingDryRun:
		r.Disposition = DispositionDryRun
	case out.Booking != nil:
		r.Disposition = DispositionBookingFailed
	case out.Candidate != nil:
		r.Disposition = DispositionSlotFound
	default:
		r.Disposition = DispositionNoDateFound
	}
	return r
}

// PrintRunReport writes the colored summary to w.
func PrintRunReport(w io.Writer, r RunReport) {
	headerColor := color.New(color.FgHiCyan, color.Bold).SprintFunc()
	sectionColor := color.New(color.FgHiYellow).SprintFunc()
	labelColor := color.New(color.FgWhite).SprintFunc()
	valueColor := color.New(color.FgHiWhite).SprintFunc()
	successColor := color.New(color.FgGreen, color.Bold).SprintFunc()
	errorColor := color.New(color.FgRed, color.Bold).SprintFunc()

	rule := sectionColor(strings.Repeat("-", 50))
	row := func(label string, value interface{}) {
		fmt.Fprintf(w, "%-20s : %s\n", labelColor(label), valueColor(fmt.Sprint(value)))
	}

	fmt.Fprintln(w, "\n"+headerColor("[Visa Rebooker Run Report]"))
	row("Run ID", r.RunID)
	row("Portal", r.Portal)
	row("Mode", r.Mode)
	row("Booked Date", r.BookedDate)

	fmt.Fprintln(w, "\n"+rule)
	fmt.Fprintln(w, sectionColor("[1] Polling"))
	fmt.Fprintln(w, rule)
	row("Locations", strings.Join(r.Locations, ", "))
	row("Interval", r.Interval)
	if !r.StartedAt.IsZero() {
		row("Started", r.StartedAt.Format("2006-01-02 15:04:05"))
		row("Duration", r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
	}
	row("Ticks", r.Stats.Ticks)
	row("Probes", fmt.Sprintf("%d (%d failed)", r.Stats.Probes, r.Stats.ProbeFailures))
	row("Recoveries", r.Stats.Recoveries)
	row("Cooldowns", r.Stats.Cooldowns)

	fmt.Fprintln(w, "\n"+rule)
	fmt.Fprintln(w, sectionColor("[2] Result"))
	fmt.Fprintln(w, rule)
	if r.Candidate != nil {
		row("Best Slot", r.Candidate.String())
	} else {
		row("Best Slot", "none")
	}
	if r.Booking != nil {
		status := string(r.Booking.Status)
		if r.Booking.StatusCode != 0 {
			status += fmt.Sprintf(" (HTTP %d)", r.Booking.StatusCode)
		}
		row("Booking", status)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "%-20s : %s\n", labelColor("Error"), errorColor(r.Error))
	}

	resColor := errorColor
	switch r.Disposition {
	case DispositionBooked, DispositionDryRun, DispositionSlotFound:
		resColor = successColor
	}
	fmt.Fprintf(w, "%-20s : %s\n", labelColor("Disposition"), resColor(r.Disposition))

	switch r.Disposition {
	case DispositionBooked:
		fmt.Fprintln(w, "\n"+successColor("Appointment rebooked."))
	case DispositionBookingFailed:
		fmt.Fprintln(w, "\n"+errorColor("Booking did not go through. Check the portal before running again."))
	}
}

// WriteStructuredLog appends the report as a JSON line to filename.
func WriteStructuredLog(r RunReport, filename string) error {
	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	b, err := json.Marshal(r)
	if err != nil {
		return err
	}

	if _, err := f.Write(b); err != nil {
		return err
	}
	if _, err := f.WriteString("\n"); err != nil {
		return err
	}
	return nil
}
