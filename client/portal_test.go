package client

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	testScheduleID = "123"
	testPrefix     = "/en-ca/niv"
	signInToken    = "sign-in-token"
	initialCookie  = SessionCookieName + "=initial"
	authedCookie   = SessionCookieName + "=authed"
)

// fakePortal mimics the sign-in, availability and booking endpoints.
type fakePortal struct {
	mu sync.Mutex

	signInPage   string
	signInStatus int

	days        map[string]string
	daysStatus  int
	times       map[string]string
	timesStatus int

	bookingStatus int
	bookingBody   string

	loginForm    url.Values
	loginHeaders http.Header
	refreshes    int
	bookingForms []url.Values
	probeQueries []url.Values
	probeCookies []string
}

func newFakePortal(t *testing.T) (*fakePortal, *httptest.Server) {
	t.Helper()

	fp := &fakePortal{
		signInPage: `<html><head><meta name="csrf-param" content="authenticity_token">` +
			`<meta name="csrf-token" content="` + signInToken + `"></head><body></body></html>`,
		days:        map[string]string{},
		times:       map[string]string{},
		bookingBody: `<div class="flash">You have Successfully Scheduled your appointment.</div>`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+testPrefix+"/users/sign_in", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Set-Cookie", "foo=1; path=/")
		w.Header().Add("Set-Cookie", initialCookie+"; path=/; HttpOnly")
		fmt.Fprint(w, fp.signInPage)
	})
	mux.HandleFunc("POST "+testPrefix+"/users/sign_in", func(w http.ResponseWriter, r *http.Request) {
		fp.mu.Lock()
		defer fp.mu.Unlock()
		_ = r.ParseForm()
		fp.loginForm = r.PostForm
		fp.loginHeaders = r.Header.Clone()
		if fp.signInStatus != 0 {
			w.WriteHeader(fp.signInStatus)
			return
		}
		w.Header().Add("Set-Cookie", "bar=2; path=/")
		w.Header().Add("Set-Cookie", authedCookie+"; path=/; secure; HttpOnly")
		fmt.Fprint(w, `window.location = "/en-ca/niv/account"`)
	})
	mux.HandleFunc("GET "+testPrefix+"/schedule/"+testScheduleID+"/appointment", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cookie") != authedCookie {
			http.Redirect(w, r, testPrefix+"/users/sign_in", http.StatusFound)
			return
		}
		fp.mu.Lock()
		fp.refreshes++
		n := fp.refreshes
		fp.mu.Unlock()
		fmt.Fprintf(w, `<html><head><meta name="csrf-token" content="meta-token-%d"></head><body>`+
			`<form action="%s/schedule/%s/appointment" method="post">`+
			`<input type="hidden" name="authenticity_token" value="booking-token-%d"></form></body></html>`,
			n, testPrefix, testScheduleID, n)
	})
	mux.HandleFunc("POST "+testPrefix+"/schedule/"+testScheduleID+"/appointment", func(w http.ResponseWriter, r *http.Request) {
		fp.mu.Lock()
		defer fp.mu.Unlock()
		_ = r.ParseForm()
		fp.bookingForms = append(fp.bookingForms, r.PostForm)
		if fp.bookingStatus != 0 {
			w.WriteHeader(fp.bookingStatus)
		}
		fmt.Fprint(w, fp.bookingBody)
	})
	mux.HandleFunc("GET "+testPrefix+"/schedule/"+testScheduleID+"/appointment/days/{file}", func(w http.ResponseWriter, r *http.Request) {
		fp.serveJSON(w, r, fp.days, fp.daysStatus)
	})
	mux.HandleFunc("GET "+testPrefix+"/schedule/"+testScheduleID+"/appointment/times/{file}", func(w http.ResponseWriter, r *http.Request) {
		fp.serveJSON(w, r, fp.times, fp.timesStatus)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return fp, srv
}

func (fp *fakePortal) serveJSON(w http.ResponseWriter, r *http.Request, bodies map[string]string, status int) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.probeQueries = append(fp.probeQueries, r.URL.Query())
	fp.probeCookies = append(fp.probeCookies, r.Header.Get("Cookie"))

	if status != 0 {
		w.WriteHeader(status)
		return
	}
	body, ok := bodies[strings.TrimSuffix(r.PathValue("file"), ".json")]
	if !ok {
		body = "[]"
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, body)
}

func newTestClient(t *testing.T, srv *httptest.Server, mutate ...func(*Options)) *Client {
	t.Helper()
	opts := Options{
		BaseURL:    srv.URL + testPrefix,
		ScheduleID: testScheduleID,
		Credentials: Credentials{
			Email:    "user@example.com",
			Password: "hunter2",
		},
		Logger: zaptest.NewLogger(t),
	}
	for _, m := range mutate {
		m(&opts)
	}
	c, err := New(opts)
	require.NoError(t, err)
	return c
}

func authedSession() *Session {
	return &Session{
		Cookie:    authedCookie,
		CSRFToken: signInToken,
		Headers:   map[string]string{"User-Agent": DefaultUserAgent},
	}
}
