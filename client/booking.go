package client

import (
	"context"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// successMarker is the flash text the portal renders after a reschedule.
const successMarker = "Successfully Scheduled"

// Book commits cand with a freshly issued CSRF token. It submits at most one
// booking request and never retries it; callers must call it at most once
// per run.
func (c *Client) Book(ctx context.Context, sess *Session, cand Candidate) BookingResult {
	result := BookingResult{Candidate: cand}
	done := func(status BookingStatus, code int, err error) BookingResult {
		result.Status = status
		result.StatusCode = code
		if status != BookingBooked && status != BookingDryRun {
			result.Err = &BookingError{Status: status, StatusCode: code, Err: err}
		}
		result.At = time.Now()
		return result
	}

	fresh, err := c.freshSession(ctx, sess)
	if err != nil {
		c.logger.Error("could not obtain a fresh booking token", zap.Error(err))
		return done(BookingTokenUnavailable, 0, err)
	}

	form := bookingForm(fresh.CSRFToken, cand)

	if c.dryRun {
		c.logger.Info("dry run: skipping booking submission",
			zap.String("candidate", cand.String()),
			zap.String("form", redactToken(form).Encode()))
		return done(BookingDryRun, 0, nil)
	}

	appointmentURL := c.absolute(c.appointmentPath())
	res, err := c.request(ctx).
		SetHeaders(fresh.with(map[string]string{
			"Accept":  acceptHTML,
			"Referer": appointmentURL,
			"Origin":  originOf(appointmentURL),
		})).
		SetFormDataFromValues(form).
		Post(c.appointmentPath())
	if err != nil {
		c.logger.Error("booking submission failed", zap.Error(err))
		return done(BookingTransportFailed, 0, err)
	}

	c.logger.Info("booking submitted",
		zap.String("candidate", cand.String()),
		zap.String("status", res.Status()))

	if !res.IsSuccess() {
		return done(BookingRejected, res.StatusCode(), nil)
	}
	if !strings.Contains(string(res.Body()), successMarker) {
		return done(BookingUnconfirmed, res.StatusCode(), nil)
	}
	return done(BookingBooked, res.StatusCode(), nil)
}

// freshSession refreshes sess, signing in again when the session is gone or
// rejected. The token from the original sign-in is never used for booking.
func (c *Client) freshSession(ctx context.Context, sess *Session) (*Session, error) {
	if sess != nil {
		fresh, err := c.Refresh(ctx, sess)
		if err == nil {
			return fresh, nil
		}
		c.logger.Warn("session refresh failed, signing in again", zap.Error(err))
	}

	sess, err := c.Authenticate(ctx)
	if err != nil {
		return nil, err
	}
	return c.Refresh(ctx, sess)
}

func bookingForm(token string, cand Candidate) url.Values {
	form := url.Values{}
	form.Set("utf8", "✓")
	form.Set("authenticity_token", token)
	form.Set("confirmed_limit_message", "1")
	form.Set("use_consulate_appointment_capacity", "true")
	form.Set("appointments[consulate_appointment][facility_id]", cand.Location.ID)
	form.Set("appointments[consulate_appointment][date]", cand.Slot.Date.String())
	form.Set("appointments[consulate_appointment][time]", cand.Slot.Time)
	// The form schema requires the ASC fields even though they stay empty.
	form.Set("appointments[asc_appointment][facility_id]", "")
	form.Set("appointments[asc_appointment][date]", "")
	form.Set("appointments[asc_appointment][time]", "")
	return form
}

func redactToken(form url.Values) url.Values {
	out := url.Values{}
	for k, v := range form {
		out[k] = append([]string(nil), v...)
	}
	if out.Get("authenticity_token") != "" {
		out.Set("authenticity_token", "[redacted]")
	}
	return out
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
