package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/maltedev/amazon-search-scraper/internal/config"
	"github.com/playwright-community/playwright-go"
)

type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	timeout time.Duration
	logger  *slog.Logger
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	DisableImages  bool
	ExecutablePath string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	Locale         string
	ProxyServer    string
	ExtraHeaders   map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		DisableImages:  true,
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		AcceptLanguage: "en-US,en;q=0.9",
		Locale:         "en-US",
		ExtraHeaders: map[string]string{
			"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"DNT":    "1",
		},
	}
}

// OptionsFromConfig applies the process config to DefaultOptions and picks
// one of userAgents for the session.
func OptionsFromConfig(cfg config.BrowserConfig, userAgents []string) *Options {
	opts := DefaultOptions()
	opts.Headless = cfg.Headless
	opts.Timeout = cfg.Timeout
	opts.ExecutablePath = cfg.BinaryPath
	opts.DisableImages = cfg.DisableImages
	if cfg.Locale != "" {
		opts.Locale = cfg.Locale
	}
	opts.UserAgent = RandomUserAgent(userAgents)
	return opts
}

// RandomUserAgent picks one of agents, falling back to the default UA.
func RandomUserAgent(agents []string) string {
	if len(agents) == 0 {
		return DefaultOptions().UserAgent
	}
	return agents[rand.Intn(len(agents))]
}

// sessionOptions copies base with a fresh UA drawn from agents via intn.
// An empty agents list keeps base.UserAgent.
func sessionOptions(base *Options, agents []string, intn func(int) int) *Options {
	opts := *base
	if len(agents) > 0 {
		opts.UserAgent = agents[intn(len(agents))]
	}
	return &opts
}

// launchArgs are the Chromium switches for a session: automation fingerprint
// suppression, the chosen UA and optionally no image loading.
func launchArgs(opts *Options) []string {
	args := []string{
		"--disable-blink-features=AutomationControlled",
		"--disable-dev-shm-usage",
		"--no-sandbox",
		"--disable-setuid-sandbox",
		fmt.Sprintf("--window-size=%d,%d", opts.ViewportWidth, opts.ViewportHeight),
		"--user-agent=" + opts.UserAgent,
	}
	if opts.DisableImages {
		args = append(args, "--blink-settings=imagesEnabled=false")
	}
	return args
}

func New(opts *Options) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless:          &opts.Headless,
		Args:              launchArgs(opts),
		IgnoreDefaultArgs: []string{"--enable-automation"},
	}

	if opts.ExecutablePath != "" {
		launchOpts.ExecutablePath = playwright.String(opts.ExecutablePath)
	}

	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{
			Server: opts.ProxyServer,
		}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	headers := make(map[string]string, len(opts.ExtraHeaders)+1)
	for k, v := range opts.ExtraHeaders {
		headers[k] = v
	}
	if opts.AcceptLanguage != "" {
		headers["Accept-Language"] = opts.AcceptLanguage
	}

	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         &opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &opts.Locale,
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: headers,
	}

	bctx, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	if opts.DisableImages {
		err := bctx.Route("**/*", func(route playwright.Route) {
			if blockedResource(route.Request().ResourceType()) {
				route.Abort()
				return
			}
			route.Continue()
		})
		if err != nil {
			bctx.Close()
			browser.Close()
			pw.Stop()
			return nil, fmt.Errorf("failed to install resource filter: %w", err)
		}
	}

	return &Browser{
		pw:      pw,
		browser: browser,
		context: bctx,
		timeout: opts.Timeout,
		logger:  slog.Default().With("component", "browser"),
	}, nil
}

func (b *Browser) NewPage() (playwright.Page, error) {
	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	page.SetDefaultTimeout(float64(b.timeout.Milliseconds()))

	return page, nil
}

func (b *Browser) Close() error {
	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}
	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}
	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	return errors.Join(errs...)
}

// blockedResource reports request types a results page renders without.
func blockedResource(resourceType string) bool {
	switch resourceType {
	case "image", "media", "font":
		return true
	}
	return false
}

// PlaywrightOpener launches a new browser per run; the returned session owns it.
// Every open draws its own user agent from userAgents.
func PlaywrightOpener(opts *Options, userAgents []string) Opener {
	return playwrightOpener(opts, userAgents, rand.Intn)
}

func playwrightOpener(opts *Options, userAgents []string, intn func(int) int) Opener {
	return func(ctx context.Context) (Session, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		b, err := New(sessionOptions(opts, userAgents, intn))
		if err != nil {
			return nil, err
		}

		page, err := b.NewPage()
		if err != nil {
			b.Close()
			return nil, err
		}

		return &PlaywrightSession{browser: b, page: page, timeout: b.timeout, logger: b.logger}, nil
	}
}
