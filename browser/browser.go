package browser

import (
	"context"
	"strings"
	"time"
)

// Cookie is a browser cookie to inject before navigation
type Cookie struct {
	Name   string
	Value  string
	Domain string
	Path   string
}

// Options configure one rendered session
type Options struct {
	UserAgent string
	Width     int
	Height    int
	DPR       float64
	Mobile    bool
	Headers   map[string]string
	Timeout   time.Duration
}

// Session is a single-flow rendered browser context. It must be closed on
// every exit path.
type Session interface {
	Navigate(ctx context.Context, url string) error
	// WaitContent waits for the page to settle, or for selector when given
	WaitContent(ctx context.Context, selector string) error
	// Eval runs a JavaScript function expression and decodes its JSON result into out
	Eval(ctx context.Context, js string, out any) error
	Screenshot(ctx context.Context) ([]byte, error)
	SetCookies(cookies []Cookie) error
	HTML(ctx context.Context) (string, error)
	URL() string
	Close() error
}

// Launcher opens isolated rendered sessions
type Launcher interface {
	NewSession(ctx context.Context, opts Options) (Session, error)
	Close() error
}

// WithSession opens a session, runs fn and always closes the session
func WithSession(ctx context.Context, l Launcher, opts Options, fn func(Session) error) error {
	s, err := l.NewSession(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

// ParseCookieHeader splits a "name=value; name2=value2" header into cookies for domain
func ParseCookieHeader(header, domain string) []Cookie {
	var cookies []Cookie
	for _, part := range strings.Split(header, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || strings.TrimSpace(name) == "" {
			continue
		}
		cookies = append(cookies, Cookie{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value), Domain: domain, Path: "/"})
	}
	return cookies
}
