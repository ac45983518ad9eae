package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSession struct {
	Session
	closed bool
}

func (s *stubSession) Close() error {
	s.closed = true
	return nil
}

type stubLauncher struct {
	session *stubSession
	err     error
}

func (l *stubLauncher) NewSession(ctx context.Context, opts Options) (Session, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.session, nil
}

func (l *stubLauncher) Close() error { return nil }

func TestWithSessionClosesOnError(t *testing.T) {
	l := &stubLauncher{session: &stubSession{}}
	err := WithSession(context.Background(), l, Options{}, func(Session) error {
		return errors.New("harvest failed")
	})
	require.Error(t, err)
	assert.True(t, l.session.closed)
}

func TestWithSessionClosesOnPanic(t *testing.T) {
	l := &stubLauncher{session: &stubSession{}}
	assert.Panics(t, func() {
		_ = WithSession(context.Background(), l, Options{}, func(Session) error {
			panic("boom")
		})
	})
	assert.True(t, l.session.closed)
}

func TestWithSessionLaunchError(t *testing.T) {
	l := &stubLauncher{err: errors.New("no chromium")}
	called := false
	err := WithSession(context.Background(), l, Options{}, func(Session) error {
		called = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, called)
}

func TestRodLauncherKillsProcessWhenConnectFails(t *testing.T) {
	l := NewRodLauncher("/opt/chromium", true, true, time.Second, nil)
	killed := 0
	l.launch = func(*launcher.Launcher) (string, error) { return "ws://127.0.0.1:9222/devtools/browser/x", nil }
	l.dial = func(string) (*rod.Browser, error) { return nil, errors.New("connection refused") }
	l.kill = func(*launcher.Launcher) { killed++ }

	_, err := l.NewSession(context.Background(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to browser")
	assert.Equal(t, 1, killed)
	assert.Nil(t, l.browser)
}

func TestParseCookieHeader(t *testing.T) {
	cookies := ParseCookieHeader("c_user=1; xs=abc=def ; ; broken", ".facebook.com")
	require.Len(t, cookies, 2)
	assert.Equal(t, Cookie{Name: "c_user", Value: "1", Domain: ".facebook.com", Path: "/"}, cookies[0])
	assert.Equal(t, "abc=def", cookies[1].Value)
}
