package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"kpc/logger"
)

// stealthScript hides the most common automation fingerprints
const stealthScript = `
	Object.defineProperty(navigator, 'webdriver', {
		get: () => undefined,
	});
	Object.defineProperty(navigator, 'plugins', {
		get: () => [1, 2, 3, 4, 5],
	});
	Object.defineProperty(navigator, 'languages', {
		get: () => ['sq-AL', 'sq', 'en-US', 'en'],
	});
	window.chrome = {
		runtime: {},
	};
	const originalQuery = window.navigator.permissions.query;
	window.navigator.permissions.query = (parameters) => (
		parameters.name === 'notifications' ?
			Promise.resolve({ state: Notification.permission }) :
			originalQuery(parameters)
	);
`

// dockerChromium is the system Chromium shipped in the container image
const dockerChromium = "/usr/bin/chromium-browser"

// RodLauncher lazily starts one Chromium process and hands out incognito
// sessions on it
type RodLauncher struct {
	bin       string
	headless  bool
	noSandbox bool
	timeout   time.Duration
	log       *logger.Logger

	// process hooks; tests replace them
	launch func(*launcher.Launcher) (string, error)
	dial   func(controlURL string) (*rod.Browser, error)
	kill   func(*launcher.Launcher)

	mu      sync.Mutex
	browser *rod.Browser
}

func dialBrowser(controlURL string) (*rod.Browser, error) {
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, err
	}
	return b, nil
}

// NewRodLauncher creates a launcher; Chromium starts on the first session
func NewRodLauncher(bin string, headless, noSandbox bool, timeout time.Duration, log *logger.Logger) *RodLauncher {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RodLauncher{
		bin:       bin,
		headless:  headless,
		noSandbox: noSandbox,
		timeout:   timeout,
		log:       log.With("service", "browser.RodLauncher"),
		launch:    (*launcher.Launcher).Launch,
		dial:      dialBrowser,
		kill:      (*launcher.Launcher).Kill,
	}
}

func (l *RodLauncher) connect() (*rod.Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.browser != nil {
		return l.browser, nil
	}

	ln := launcher.New().
		Headless(l.headless).
		NoSandbox(l.noSandbox).
		Leakless(false)

	switch {
	case l.bin != "":
		ln = ln.Bin(l.bin)
	default:
		if _, err := os.Stat(dockerChromium); err == nil {
			ln = ln.Bin(dockerChromium)
			l.log.Info("using system Chromium", "bin", dockerChromium)
		}
	}

	u, err := l.launch(ln)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	b, err := l.dial(u)
	if err != nil {
		l.kill(ln)
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	l.log.Info("browser started", "control_url", u)
	l.browser = b
	return b, nil
}

// NewSession opens an incognito context with one page configured from opts
func (l *RodLauncher) NewSession(ctx context.Context, opts Options) (Session, error) {
	b, err := l.connect()
	if err != nil {
		return nil, err
	}
	inc, err := b.Incognito()
	if err != nil {
		return nil, fmt.Errorf("failed to open incognito context: %w", err)
	}
	page, err := inc.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = inc.Close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	s := &rodSession{ctx: inc, page: page, timeout: opts.Timeout}
	if s.timeout <= 0 {
		s.timeout = l.timeout
	}
	if err := s.configure(opts); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Close shuts the Chromium process down
func (l *RodLauncher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.browser == nil {
		return nil
	}
	err := l.browser.Close()
	l.browser = nil
	return err
}

type rodSession struct {
	ctx     *rod.Browser
	page    *rod.Page
	timeout time.Duration
}

func (s *rodSession) configure(opts Options) error {
	if _, err := s.page.EvalOnNewDocument(stealthScript); err != nil {
		return fmt.Errorf("failed to install stealth script: %w", err)
	}
	if opts.UserAgent != "" {
		if err := s.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}); err != nil {
			return fmt.Errorf("failed to set user agent: %w", err)
		}
	}
	width, height := opts.Width, opts.Height
	if width <= 0 || height <= 0 {
		width, height = 1920, 1080
	}
	dpr := opts.DPR
	if dpr <= 0 {
		dpr = 1.0
	}
	if err := s.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: dpr,
		Mobile:            opts.Mobile,
	}); err != nil {
		return fmt.Errorf("failed to set viewport: %w", err)
	}
	if len(opts.Headers) > 0 {
		dict := make([]string, 0, len(opts.Headers)*2)
		for k, v := range opts.Headers {
			dict = append(dict, k, v)
		}
		if _, err := s.page.SetExtraHeaders(dict); err != nil {
			return fmt.Errorf("failed to set headers: %w", err)
		}
	}
	return nil
}

func (s *rodSession) bound(ctx context.Context) *rod.Page {
	return s.page.Context(ctx).Timeout(s.timeout)
}

func (s *rodSession) Navigate(ctx context.Context, url string) error {
	p := s.bound(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("failed waiting for load of %s: %w", url, err)
	}
	return nil
}

func (s *rodSession) WaitContent(ctx context.Context, selector string) error {
	p := s.bound(ctx)
	if selector != "" {
		if _, err := p.Element(selector); err != nil {
			return fmt.Errorf("selector %q never appeared: %w", selector, err)
		}
		return nil
	}
	return p.WaitStable(800 * time.Millisecond)
}

func (s *rodSession) Eval(ctx context.Context, js string, out any) error {
	obj, err := s.bound(ctx).Eval(js)
	if err != nil {
		return fmt.Errorf("script evaluation failed: %w", err)
	}
	if out == nil {
		return nil
	}
	raw, err := obj.Value.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode script result: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode script result: %w", err)
	}
	return nil
}

func (s *rodSession) Screenshot(ctx context.Context) ([]byte, error) {
	b, err := s.bound(ctx).Screenshot(true, &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng})
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return b, nil
}

func (s *rodSession) SetCookies(cookies []Cookie) error {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		path := c.Path
		if path == "" {
			path = "/"
		}
		params = append(params, &proto.NetworkCookieParam{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: path})
	}
	if err := s.page.SetCookies(params); err != nil {
		return fmt.Errorf("failed to set cookies: %w", err)
	}
	return nil
}

func (s *rodSession) HTML(ctx context.Context) (string, error) {
	return s.bound(ctx).HTML()
}

func (s *rodSession) URL() string {
	info, err := s.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (s *rodSession) Close() error {
	_ = s.page.Close()
	return s.ctx.Close()
}
