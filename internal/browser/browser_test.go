package browser

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/maltedev/amazon-search-scraper/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	if !opts.Headless {
		t.Error("Expected headless to be true by default")
	}

	if opts.Timeout != 30*time.Second {
		t.Errorf("Expected timeout to be 30s, got %v", opts.Timeout)
	}

	if opts.ViewportWidth != 1920 || opts.ViewportHeight != 1080 {
		t.Errorf("Expected viewport to be 1920x1080, got %dx%d", opts.ViewportWidth, opts.ViewportHeight)
	}

	if !opts.DisableImages {
		t.Error("Expected images to be disabled by default")
	}
}

func TestLaunchArgs(t *testing.T) {
	opts := DefaultOptions()
	opts.UserAgent = "test-agent"

	args := launchArgs(opts)
	assert.Contains(t, args, "--disable-blink-features=AutomationControlled")
	assert.Contains(t, args, "--user-agent=test-agent")
	assert.Contains(t, args, "--blink-settings=imagesEnabled=false")

	opts.DisableImages = false
	assert.NotContains(t, launchArgs(opts), "--blink-settings=imagesEnabled=false")
}

func TestBlockedResource(t *testing.T) {
	for _, rt := range []string{"image", "media", "font"} {
		assert.True(t, blockedResource(rt), rt)
	}
	for _, rt := range []string{"document", "script", "xhr", "stylesheet"} {
		assert.False(t, blockedResource(rt), rt)
	}
}

func TestRandomUserAgent(t *testing.T) {
	agents := []string{"a", "b", "c"}
	for i := 0; i < 20; i++ {
		assert.Contains(t, agents, RandomUserAgent(agents))
	}
	assert.Equal(t, DefaultOptions().UserAgent, RandomUserAgent(nil))
}

func TestSessionOptionsDrawsAgentPerSession(t *testing.T) {
	agents := []string{"agent-a", "agent-b", "agent-c"}
	base := DefaultOptions()
	base.UserAgent = "configured"

	picks := []int{0, 2}
	intn := func(n int) int {
		assert.Equal(t, len(agents), n)
		next := picks[0]
		picks = picks[1:]
		return next
	}

	first := sessionOptions(base, agents, intn)
	second := sessionOptions(base, agents, intn)

	assert.Equal(t, "agent-a", first.UserAgent)
	assert.Equal(t, "agent-c", second.UserAgent)
	assert.Equal(t, "configured", base.UserAgent, "base options are not mutated")
	assert.Equal(t, base.Locale, second.Locale)

	kept := sessionOptions(base, nil, func(int) int {
		t.Fatal("no draw without agents")
		return 0
	})
	assert.Equal(t, "configured", kept.UserAgent)
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.BrowserConfig{
		Headless:   false,
		Timeout:    5 * time.Second,
		BinaryPath: "/usr/bin/chromium",
		Locale:     "de-DE",
	}, []string{"only-agent"})

	assert.False(t, opts.Headless)
	assert.Equal(t, 5*time.Second, opts.Timeout)
	assert.Equal(t, "/usr/bin/chromium", opts.ExecutablePath)
	assert.False(t, opts.DisableImages)
	assert.Equal(t, "de-DE", opts.Locale)
	assert.Equal(t, "only-agent", opts.UserAgent)
	assert.Equal(t, 1920, opts.ViewportWidth, "unset fields keep defaults")

	assert.Equal(t, "en-US", OptionsFromConfig(config.BrowserConfig{}, nil).Locale)
}

const landing = `<html><body>
	<input id="search" value="old">
	<button id="go">Go</button>
	<button id="off" disabled>Off</button>
</body></html>`

const results = `<html><body>
	<div class="card">
		<a href="/dp/1"><h2><span> First </span></h2></a>
		<span class="price">$1.00</span>
	</div>
	<div class="card">
		<a href="/dp/2"><h2><span>Second</span></h2></a>
	</div>
</body></html>`

func TestSnapshotSessionNavigation(t *testing.T) {
	ctx := context.Background()
	s, err := NewSnapshotSession(landing, results)
	require.NoError(t, err)

	_, err = s.Find("#search")
	assert.ErrorIs(t, err, ErrNotFound, "nothing is loaded before Navigate")

	require.NoError(t, s.Navigate(ctx, "https://example.com"))
	assert.Equal(t, []string{"https://example.com"}, s.Visited())

	input, err := s.WaitFor(ctx, "#search", Present, time.Second)
	require.NoError(t, err)
	require.NoError(t, input.Fill("laptop"))
	value, err := input.Attribute("value")
	require.NoError(t, err)
	assert.Equal(t, "laptop", value)

	_, err = s.WaitFor(ctx, "#off", Clickable, time.Second)
	assert.ErrorIs(t, err, ErrTimeout)

	_, err = s.WaitFor(ctx, "#missing", Visible, time.Second)
	assert.ErrorIs(t, err, ErrTimeout)

	button, err := s.WaitFor(ctx, "#go", Clickable, time.Second)
	require.NoError(t, err)
	require.NoError(t, button.Click())
	assert.Equal(t, 1, s.Current())
	assert.Equal(t, 1, s.Clicks())

	// clicking past the last document keeps it displayed
	body, err := s.Find("body")
	require.NoError(t, err)
	require.NoError(t, body.Click())
	assert.Equal(t, 1, s.Current())
	assert.Equal(t, 2, s.Clicks())
}

func TestSnapshotElementScoping(t *testing.T) {
	ctx := context.Background()
	s, err := NewSnapshotSession(results)
	require.NoError(t, err)
	require.NoError(t, s.Navigate(ctx, "https://example.com"))

	body, err := s.Find("body")
	require.NoError(t, err)

	cards, err := body.FindAll(".card")
	require.NoError(t, err)
	require.Len(t, cards, 2)

	title, err := cards[0].Find("h2 > span")
	require.NoError(t, err)
	text, err := title.Text()
	require.NoError(t, err)
	assert.Equal(t, " First ", text)

	link, err := title.Ancestor("a")
	require.NoError(t, err)
	href, err := link.Attribute("href")
	require.NoError(t, err)
	assert.Equal(t, "/dp/1", href)

	_, err = cards[1].Find(".price")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = title.Ancestor("table")
	assert.ErrorIs(t, err, ErrNotFound)

	price, err := cards[0].Find(".price")
	require.NoError(t, err)
	html, err := price.InnerHTML()
	require.NoError(t, err)
	assert.Equal(t, "$1.00", html)
}

func TestSnapshotSessionClosed(t *testing.T) {
	s, err := NewSnapshotSession(landing)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.True(t, s.Closed())

	assert.ErrorIs(t, s.Navigate(context.Background(), "https://example.com"), ErrClosed)
	_, err = s.Find("body")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestLoadSnapshotDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "02-results.html"), []byte(results), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "01-landing.html"), []byte(landing), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	s, err := LoadSnapshotDir(dir)
	require.NoError(t, err)
	require.NoError(t, s.Navigate(context.Background(), "https://example.com"))

	_, err = s.Find("#search")
	assert.NoError(t, err, "landing page sorts first")

	_, err = LoadSnapshotDir(t.TempDir())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "no .html snapshots"))
}
