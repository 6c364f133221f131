package client

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/net/proxy"
)

const (
	DefaultHost     = "https://ais.usvisa-info.com"
	DefaultCountry  = "en-ca"
	DefaultVisaType = "niv"
	DefaultTimeout  = 30 * time.Second
)

// Options configures a portal Client.
type Options struct {
	// BaseURL overrides the portal root built from Country and VisaType.
	BaseURL    string
	Country    string
	VisaType   string
	ScheduleID string

	Credentials Credentials

	UserAgent string
	Timeout   time.Duration
	// ProxyURL is an optional socks5:// or http(s):// outbound proxy.
	ProxyURL string
	// DryRun makes Book stop before the final POST.
	DryRun bool

	Logger *zap.Logger
	Safety *SafetyManager
}

// Client talks to the scheduling portal. It never keeps cookies itself:
// every authenticated call carries the session it is given.
type Client struct {
	http       *resty.Client
	baseURL    string
	scheduleID string
	creds      Credentials
	userAgent  string
	dryRun     bool
	logger     *zap.Logger
	safety     *SafetyManager
}

// New builds a Client from opts.
func New(opts Options) (*Client, error) {
	if opts.ScheduleID == "" {
		return nil, errors.New("schedule id is required")
	}
	if opts.Country == "" {
		opts.Country = DefaultCountry
	}
	if opts.VisaType == "" {
		opts.VisaType = DefaultVisaType
	}
	if opts.BaseURL == "" {
		opts.BaseURL = fmt.Sprintf("%s/%s/%s", DefaultHost, opts.Country, opts.VisaType)
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Safety == nil {
		opts.Safety = NewSafetyManager()
	}

	rc := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", opts.UserAgent).
		// Only the session cookie may be forwarded, so no jar.
		SetCookieJar(nil)

	if opts.ProxyURL != "" {
		if err := applyProxy(rc, opts.ProxyURL); err != nil {
			return nil, err
		}
	}

	c := &Client{
		http:       rc,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		scheduleID: opts.ScheduleID,
		creds:      opts.Credentials,
		userAgent:  opts.UserAgent,
		dryRun:     opts.DryRun,
		logger:     opts.Logger,
		safety:     opts.Safety,
	}

	rc.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		c.safety.CheckResponse(res.StatusCode())
		return nil
	})
	rc.OnError(func(req *resty.Request, err error) {
		// resty wraps transport failures in a ResponseError too. Only one
		// carrying a real response came from a failed hook, and its status
		// was already counted by OnAfterResponse.
		var resErr *resty.ResponseError
		if errors.As(err, &resErr) {
			if resErr.Response != nil && resErr.Response.RawResponse != nil {
				return
			}
			err = resErr.Err
		}
		if err != nil {
			c.safety.CheckError(err)
		}
	})

	return c, nil
}

// Safety returns the monitor fed by this client's responses.
func (c *Client) Safety() *SafetyManager {
	return c.safety
}

// BaseURL is the portal root, e.g. https://ais.usvisa-info.com/en-ca/niv.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) signInPath() string {
	return "/users/sign_in"
}

func (c *Client) appointmentPath() string {
	return fmt.Sprintf("/schedule/%s/appointment", c.scheduleID)
}

func (c *Client) daysPath(locationID string) string {
	return fmt.Sprintf("/schedule/%s/appointment/days/%s.json", c.scheduleID, url.PathEscape(locationID))
}

func (c *Client) timesPath(locationID string) string {
	return fmt.Sprintf("/schedule/%s/appointment/times/%s.json", c.scheduleID, url.PathEscape(locationID))
}

func (c *Client) absolute(path string) string {
	return c.baseURL + path
}

// request starts a request bound to ctx.
func (c *Client) request(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx)
}

func applyProxy(rc *resty.Client, proxyURL string) error {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return errors.Wrap(err, "invalid proxy url")
	}

	switch u.Scheme {
	case "http", "https":
		rc.SetProxy(proxyURL)
		return nil
	case "socks5", "socks5h":
	default:
		return errors.Errorf("unsupported proxy scheme %q", u.Scheme)
	}

	var auth *proxy.Auth
	if u.User != nil {
		password, _ := u.User.Password()
		auth = &proxy.Auth{
			User:     u.User.Username(),
			Password: password,
		}
	}
	forward := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	dialer, err := proxy.SOCKS5("tcp", u.Host, auth, forward)
	if err != nil {
		return errors.Wrap(err, "socks5 dialer")
	}
	contextDialer, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return errors.New("socks5 dialer does not support contexts")
	}

	rc.SetTransport(&http.Transport{
		DialContext:         contextDialer.DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
	})
	return nil
}
