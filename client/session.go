package client

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Session is an authenticated portal session. Sessions are never modified
// after creation; Refresh returns a new one.
type Session struct {
	Cookie    string
	CSRFToken string
	Headers   map[string]string
	IssuedAt  time.Time
}

// with returns the session headers plus cookie and token, overlaid on extra.
func (s *Session) with(extra map[string]string) map[string]string {
	h := copyHeaders(extra)
	for k, v := range s.Headers {
		if _, ok := h[k]; !ok {
			h[k] = v
		}
	}
	h["Cookie"] = s.Cookie
	h["X-CSRF-Token"] = s.CSRFToken
	return h
}

// Credentials are the portal sign-in details.
type Credentials struct {
	Email    string
	Password string
}

// Authenticate signs in and returns a fresh Session. It does not retry.
func (c *Client) Authenticate(ctx context.Context) (*Session, error) {
	signInURL := c.absolute(c.signInPath())
	base := c.baseHeaders(signInURL)

	// 1. Sign-in page: token and initial session cookie
	res, err := c.request(ctx).
		SetHeaders(pageHeaders(base)).
		Get(c.signInPath())
	if err != nil {
		return nil, &AuthError{Stage: StageSignInPage, Err: err}
	}
	if !res.IsSuccess() {
		return nil, &AuthError{Stage: StageSignInPage, StatusCode: res.StatusCode()}
	}

	token, err := ExtractCSRFToken(res.Body())
	if err != nil {
		return nil, &AuthError{Stage: StageCSRFToken, Err: err}
	}
	cookie, ok := ExtractSessionCookie(res.Header().Values("Set-Cookie")...)
	if !ok {
		return nil, &AuthError{Stage: StageSessionCookie, Err: ErrSessionCookieMissing}
	}

	// 2. Credential submission
	form := url.Values{}
	form.Set("user[email]", c.creds.Email)
	form.Set("user[password]", c.creds.Password)
	form.Set("policy_confirmed", "1")
	form.Set("commit", "Sign In")

	headers := copyHeaders(base)
	headers["Accept"] = acceptXHR
	headers["X-Requested-With"] = "XMLHttpRequest"
	headers["X-CSRF-Token"] = token
	headers["Cookie"] = cookie

	res, err = c.request(ctx).
		SetHeaders(headers).
		SetFormDataFromValues(form).
		Post(c.signInPath())
	if err != nil {
		return nil, &AuthError{Stage: StageSignIn, Err: err}
	}
	if !res.IsSuccess() {
		return nil, &AuthError{Stage: StageSignIn, StatusCode: res.StatusCode()}
	}

	// 3. The portal rotates the cookie on sign-in
	cookie, ok = ExtractSessionCookie(res.Header().Values("Set-Cookie")...)
	if !ok {
		return nil, &AuthError{Stage: StageSessionCookie, Err: ErrSessionCookieMissing}
	}

	c.logger.Info("signed in to portal", zap.String("status", res.Status()))

	return &Session{
		Cookie:    cookie,
		CSRFToken: token,
		Headers:   base,
		IssuedAt:  time.Now(),
	}, nil
}

// Refresh loads the appointment page with sess and returns a new Session
// carrying a freshly issued CSRF token.
func (c *Client) Refresh(ctx context.Context, sess *Session) (*Session, error) {
	if sess == nil {
		return nil, &AuthError{Stage: StageRefresh, Err: ErrSessionExpired}
	}

	res, err := c.request(ctx).
		SetHeaders(sess.with(pageHeaders(nil))).
		Get(c.appointmentPath())
	if err != nil {
		return nil, &AuthError{Stage: StageRefresh, Err: err}
	}
	if redirectedToSignIn(res) {
		return nil, &AuthError{Stage: StageRefresh, StatusCode: res.StatusCode(), Err: ErrSessionExpired}
	}
	if !res.IsSuccess() {
		return nil, &AuthError{Stage: StageRefresh, StatusCode: res.StatusCode()}
	}

	token, err := extractFormToken(res.Body())
	if err != nil {
		return nil, &AuthError{Stage: StageCSRFToken, Err: err}
	}

	cookie := sess.Cookie
	if rotated, ok := ExtractSessionCookie(res.Header().Values("Set-Cookie")...); ok {
		cookie = rotated
	}

	headers := copyHeaders(sess.Headers)
	headers["Referer"] = c.absolute(c.appointmentPath())

	c.logger.Debug("refreshed csrf token", zap.String("status", res.Status()))

	return &Session{
		Cookie:    cookie,
		CSRFToken: token,
		Headers:   headers,
		IssuedAt:  time.Now(),
	}, nil
}

func redirectedToSignIn(res *resty.Response) bool {
	if res.RawResponse == nil || res.RawResponse.Request == nil {
		return false
	}
	return strings.HasSuffix(res.RawResponse.Request.URL.Path, "/users/sign_in")
}
