package client

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindDate(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		want   string
		wantOK bool
	}{
		{
			name:   "empty list",
			body:   `[]`,
			wantOK: false,
		},
		{
			name:   "first entry is the earliest",
			body:   `[{"date":"2025-05-10","business_day":true},{"date":"2025-05-12","business_day":true}]`,
			want:   "2025-05-10",
			wantOK: true,
		},
		{
			name:   "embedded error object",
			body:   `{"error":"You are not allowed to perform this action"}`,
			wantOK: false,
		},
		{
			name:   "error on first entry",
			body:   `[{"date":"2025-05-10","error":"facility closed"}]`,
			wantOK: false,
		},
		{
			name:   "false error field is ignored",
			body:   `[{"date":"2025-05-10","error":false}]`,
			want:   "2025-05-10",
			wantOK: true,
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			wantOK: false,
		},
		{
			name:   "malformed json",
			body:   `[{"date":`,
			wantOK: false,
		},
		{
			name:   "empty body",
			body:   "  ",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp, srv := newFakePortal(t)
			fp.days["94"] = tt.body
			fp.daysStatus = tt.status
			c := newTestClient(t, srv)

			got, ok := c.FindDate(context.Background(), authedSession(), "94")
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestFindDateRequest(t *testing.T) {
	fp, srv := newFakePortal(t)
	fp.days["94"] = `[{"date":"2025-05-10"}]`
	c := newTestClient(t, srv)

	_, ok := c.FindDate(context.Background(), authedSession(), "94")
	require.True(t, ok)

	fp.mu.Lock()
	defer fp.mu.Unlock()
	require.Len(t, fp.probeQueries, 1)
	assert.Equal(t, "false", fp.probeQueries[0].Get("appointments[expedite]"))
	assert.Equal(t, authedCookie, fp.probeCookies[0])
}

func TestFindTime(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		want   string
		wantOK bool
	}{
		{
			name:   "only available times",
			body:   `{"available_times":["09:15","10:00"],"business_times":[]}`,
			want:   "09:15",
			wantOK: true,
		},
		{
			name:   "business times preferred",
			body:   `{"available_times":["07:00"],"business_times":["08:30"]}`,
			want:   "08:30",
			wantOK: true,
		},
		{
			name:   "null business times",
			body:   `{"available_times":["11:45"],"business_times":null}`,
			want:   "11:45",
			wantOK: true,
		},
		{
			name:   "nothing open",
			body:   `{"available_times":[],"business_times":[]}`,
			wantOK: false,
		},
		{
			name:   "embedded error",
			body:   `{"error":"session expired"}`,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp, srv := newFakePortal(t)
			fp.times["94"] = tt.body
			c := newTestClient(t, srv)

			got, ok := c.FindTime(context.Background(), authedSession(), MustParseDate("2025-05-10"), "94")
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)

			fp.mu.Lock()
			defer fp.mu.Unlock()
			require.Len(t, fp.probeQueries, 1)
			assert.Equal(t, "2025-05-10", fp.probeQueries[0].Get("date"))
		})
	}
}

func TestProbeLocation(t *testing.T) {
	loc := Location{ID: "94", Name: "Toronto"}

	t.Run("slot found", func(t *testing.T) {
		fp, srv := newFakePortal(t)
		fp.days["94"] = `[{"date":"2025-05-10"}]`
		fp.times["94"] = `{"available_times":["09:15"]}`
		c := newTestClient(t, srv)

		probe := c.ProbeLocation(context.Background(), authedSession(), loc)
		require.NoError(t, probe.Err)
		require.NotNil(t, probe.Slot)
		assert.Equal(t, loc, probe.Location)
		assert.Equal(t, "2025-05-10", probe.Slot.Date.String())
		assert.Equal(t, "09:15", probe.Slot.Time)
	})

	t.Run("no days", func(t *testing.T) {
		_, srv := newFakePortal(t)
		c := newTestClient(t, srv)

		probe := c.ProbeLocation(context.Background(), authedSession(), loc)
		assert.NoError(t, probe.Err)
		assert.Nil(t, probe.Slot)
	})

	t.Run("day without times", func(t *testing.T) {
		fp, srv := newFakePortal(t)
		fp.days["94"] = `[{"date":"2025-05-10"}]`
		fp.times["94"] = `{"available_times":[],"business_times":[]}`
		c := newTestClient(t, srv)

		probe := c.ProbeLocation(context.Background(), authedSession(), loc)
		assert.NoError(t, probe.Err)
		assert.Nil(t, probe.Slot)
	})

	t.Run("portal error is absorbed", func(t *testing.T) {
		fp, srv := newFakePortal(t)
		fp.days["94"] = `{"error":"not allowed"}`
		c := newTestClient(t, srv)

		probe := c.ProbeLocation(context.Background(), authedSession(), loc)
		assert.Nil(t, probe.Slot)

		var probeErr *ProbeError
		require.True(t, errors.As(probe.Err, &probeErr))
		assert.Equal(t, "days", probeErr.Endpoint)
		assert.Equal(t, "94", probeErr.LocationID)
		assert.Equal(t, "not allowed", probeErr.Message)
	})

	t.Run("times failure", func(t *testing.T) {
		fp, srv := newFakePortal(t)
		fp.days["94"] = `[{"date":"2025-05-10"}]`
		fp.timesStatus = http.StatusBadGateway
		c := newTestClient(t, srv)

		probe := c.ProbeLocation(context.Background(), authedSession(), loc)
		assert.Nil(t, probe.Slot)

		var probeErr *ProbeError
		require.True(t, errors.As(probe.Err, &probeErr))
		assert.Equal(t, "times", probeErr.Endpoint)
		assert.Equal(t, http.StatusBadGateway, probeErr.StatusCode)
	})

	t.Run("expired session", func(t *testing.T) {
		_, srv := newFakePortal(t)
		c := newTestClient(t, srv)

		probe := c.ProbeLocation(context.Background(), nil, loc)
		assert.Nil(t, probe.Slot)
		assert.ErrorIs(t, probe.Err, ErrSessionExpired)
	})
}

func TestEmbeddedError(t *testing.T) {
	assert.Equal(t, "", embeddedError(nil))
	assert.Equal(t, "", embeddedError([]byte("null")))
	assert.Equal(t, "", embeddedError([]byte("false")))
	assert.Equal(t, "", embeddedError([]byte(`""`)))
	assert.Equal(t, "closed", embeddedError([]byte(`" closed "`)))
	assert.Equal(t, `{"code":1}`, embeddedError([]byte(`{"code":1}`)))
}
