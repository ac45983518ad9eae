package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"kpc/browser"
	"kpc/extractor"
)

// fakeLauncher serves canned rendered pages keyed by URL
type fakeLauncher struct {
	mu       sync.Mutex
	pages    map[string]string
	eval     func(js string) any
	sessions int
	visited  []string
}

func (l *fakeLauncher) NewSession(ctx context.Context, opts browser.Options) (browser.Session, error) {
	l.mu.Lock()
	l.sessions++
	l.mu.Unlock()
	return &fakeSession{launcher: l}, nil
}

func (l *fakeLauncher) Close() error { return nil }

type fakeSession struct {
	launcher *fakeLauncher
	current  string
	cookies  []browser.Cookie
}

func (s *fakeSession) Navigate(ctx context.Context, url string) error {
	s.launcher.mu.Lock()
	defer s.launcher.mu.Unlock()
	s.launcher.visited = append(s.launcher.visited, url)
	if _, ok := s.launcher.pages[url]; !ok {
		return errors.New("navigation failed: " + url)
	}
	s.current = url
	return nil
}

func (s *fakeSession) WaitContent(ctx context.Context, selector string) error {
	if selector == "" {
		return nil
	}
	html, _ := s.HTML(ctx)
	doc, err := parseHTML([]byte(html))
	if err != nil || doc.Find(selector).Length() == 0 {
		return errors.New("selector not found: " + selector)
	}
	return nil
}

func (s *fakeSession) Eval(ctx context.Context, js string, out any) error {
	var v any
	switch {
	case s.launcher.eval != nil:
		v = s.launcher.eval(js)
	case strings.Contains(js, "scrollHeight"):
		v = 1000
	default:
		v = false
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (s *fakeSession) Screenshot(ctx context.Context) ([]byte, error) {
	return nil, errors.New("no screenshot")
}

func (s *fakeSession) SetCookies(cookies []browser.Cookie) error {
	s.cookies = cookies
	return nil
}

func (s *fakeSession) HTML(ctx context.Context) (string, error) {
	s.launcher.mu.Lock()
	defer s.launcher.mu.Unlock()
	return s.launcher.pages[s.current], nil
}

func (s *fakeSession) URL() string { return s.current }

func (s *fakeSession) Close() error { return nil }

func defaultTestOptions() browser.Options {
	return browser.Options{UserAgent: "kpc-test", Width: 1366, Height: 900, DPR: 1}
}

// fakeParser returns a fixed flyer result for any PDF
type fakeParser struct {
	res   extractor.Result
	calls int
}

func (p *fakeParser) Extract(ctx context.Context, data []byte) (extractor.Result, error) {
	p.calls++
	if !strings.HasPrefix(string(data), "%PDF") {
		return extractor.Result{}, errors.New("not a pdf")
	}
	return p.res, nil
}

// fakeRecognizer returns canned text
type fakeRecognizer struct {
	text string
	err  error
}

func (r fakeRecognizer) Recognize(ctx context.Context, image []byte) (string, error) {
	return r.text, r.err
}
