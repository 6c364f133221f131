package client

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	endpointDays  = "days"
	endpointTimes = "times"
)

type dayEntry struct {
	Date        string          `json:"date"`
	BusinessDay bool            `json:"business_day"`
	Error       json.RawMessage `json:"error,omitempty"`
}

type timesResponse struct {
	AvailableTimes []string        `json:"available_times"`
	BusinessTimes  []string        `json:"business_times"`
	Error          json.RawMessage `json:"error,omitempty"`
}

// FindDate returns the soonest open day at a location. Any failure is
// logged and reported as no availability.
func (c *Client) FindDate(ctx context.Context, sess *Session, locationID string) (Date, bool) {
	date, ok, err := c.earliestDate(ctx, sess, locationID)
	if err != nil {
		c.logProbeFailure(err)
		return Date{}, false
	}
	return date, ok
}

// FindTime returns the first open time on date at a location, preferring
// business hours. Any failure is logged and reported as no availability.
func (c *Client) FindTime(ctx context.Context, sess *Session, date Date, locationID string) (string, bool) {
	t, ok, err := c.earliestTime(ctx, sess, date, locationID)
	if err != nil {
		c.logProbeFailure(err)
		return "", false
	}
	return t, ok
}

// ProbeLocation runs FindDate then FindTime for one location. A failure in
// either step yields a Probe without a slot and with Err set.
func (c *Client) ProbeLocation(ctx context.Context, sess *Session, loc Location) Probe {
	probe := Probe{Location: loc}

	date, ok, err := c.earliestDate(ctx, sess, loc.ID)
	if err != nil {
		c.logProbeFailure(err)
		probe.Err = err
		return probe
	}
	if !ok {
		return probe
	}

	t, ok, err := c.earliestTime(ctx, sess, date, loc.ID)
	if err != nil {
		c.logProbeFailure(err)
		probe.Err = err
		return probe
	}
	if !ok {
		c.logger.Info("open day has no open times",
			zap.String("location", loc.ID),
			zap.String("date", date.String()))
		return probe
	}

	probe.Slot = &Slot{Date: date, Time: t}
	return probe
}

func (c *Client) earliestDate(ctx context.Context, sess *Session, locationID string) (Date, bool, error) {
	body, err := c.getJSON(ctx, sess, endpointDays, locationID, c.daysPath(locationID), map[string]string{
		"appointments[expedite]": "false",
	})
	if err != nil {
		return Date{}, false, err
	}

	fail := func(msg string, cause error) (Date, bool, error) {
		return Date{}, false, &ProbeError{Endpoint: endpointDays, LocationID: locationID, Message: msg, Err: cause}
	}

	if body[0] == '{' {
		var obj struct {
			Error json.RawMessage `json:"error"`
		}
		if err := json.Unmarshal(body, &obj); err != nil {
			return fail("", errors.Wrap(err, "decode day list"))
		}
		if msg := embeddedError(obj.Error); msg != "" {
			return fail(msg, nil)
		}
		return fail("", errors.New("expected a day list, got an object"))
	}

	var days []dayEntry
	if err := json.Unmarshal(body, &days); err != nil {
		return fail("", errors.Wrap(err, "decode day list"))
	}
	if len(days) == 0 {
		return Date{}, false, nil
	}

	// The portal returns days in ascending order.
	first := days[0]
	if msg := embeddedError(first.Error); msg != "" {
		return fail(msg, nil)
	}
	date, err := ParseDate(first.Date)
	if err != nil {
		return fail("", err)
	}
	return date, true, nil
}

func (c *Client) earliestTime(ctx context.Context, sess *Session, date Date, locationID string) (string, bool, error) {
	body, err := c.getJSON(ctx, sess, endpointTimes, locationID, c.timesPath(locationID), map[string]string{
		"date":                   date.String(),
		"appointments[expedite]": "false",
	})
	if err != nil {
		return "", false, err
	}

	var times timesResponse
	if err := json.Unmarshal(body, &times); err != nil {
		return "", false, &ProbeError{Endpoint: endpointTimes, LocationID: locationID, Err: errors.Wrap(err, "decode time list")}
	}
	if msg := embeddedError(times.Error); msg != "" {
		return "", false, &ProbeError{Endpoint: endpointTimes, LocationID: locationID, Message: msg}
	}

	if t, ok := firstTime(times.BusinessTimes); ok {
		return t, true, nil
	}
	if t, ok := firstTime(times.AvailableTimes); ok {
		return t, true, nil
	}
	return "", false, nil
}

// getJSON fetches an availability endpoint and returns its non-empty body.
func (c *Client) getJSON(ctx context.Context, sess *Session, endpoint, locationID, path string, query map[string]string) ([]byte, error) {
	if sess == nil {
		return nil, &ProbeError{Endpoint: endpoint, LocationID: locationID, Err: ErrSessionExpired}
	}

	res, err := c.request(ctx).
		SetHeaders(sess.with(jsonHeaders(map[string]string{
			"Referer": c.absolute(c.appointmentPath()),
		}))).
		SetQueryParams(query).
		Get(path)
	if err != nil {
		return nil, &ProbeError{Endpoint: endpoint, LocationID: locationID, Err: err}
	}
	if redirectedToSignIn(res) {
		return nil, &ProbeError{Endpoint: endpoint, LocationID: locationID, StatusCode: res.StatusCode(), Err: ErrSessionExpired}
	}
	if !res.IsSuccess() {
		return nil, &ProbeError{Endpoint: endpoint, LocationID: locationID, StatusCode: res.StatusCode()}
	}

	body := bytes.TrimSpace(res.Body())
	if len(body) == 0 {
		return nil, &ProbeError{Endpoint: endpoint, LocationID: locationID, Err: errors.New("empty response body")}
	}
	return body, nil
}

func (c *Client) logProbeFailure(err error) {
	var probeErr *ProbeError
	if errors.As(err, &probeErr) {
		c.logger.Warn("probe failed, treating location as unavailable",
			zap.String("endpoint", probeErr.Endpoint),
			zap.String("location", probeErr.LocationID),
			zap.Error(err))
		return
	}
	c.logger.Warn("probe failed, treating location as unavailable", zap.Error(err))
}

// embeddedError turns the portal's optional "error" field into a message.
// null, false and "" mean no error.
func embeddedError(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" || string(raw) == "false" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return string(raw)
}

func firstTime(times []string) (string, bool) {
	for _, t := range times {
		if t = strings.TrimSpace(t); t != "" {
			return t, true
		}
	}
	return "", false
}
