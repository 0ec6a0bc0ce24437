// File: internal/browser/browser_test.go
package browser

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/rewards-cli/internal/config"
	"github.com/xkilldash9x/rewards-cli/internal/search"
)

func seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

func TestRandomViewport_Bounds(t *testing.T) {
	rng := seeded(1)
	for i := 0; i < 500; i++ {
		m := RandomViewport(search.Mobile, rng)
		assert.GreaterOrEqual(t, m.Height, int64(568))
		assert.LessOrEqual(t, m.Height, int64(1024))
		assert.GreaterOrEqual(t, m.Width, int64(320))
		assert.LessOrEqual(t, m.Width, min(int64(576), m.Height*7/10))

		d := RandomViewport(search.Desktop, rng)
		assert.GreaterOrEqual(t, d.Width, int64(1024))
		assert.LessOrEqual(t, d.Width, int64(2560))
		assert.GreaterOrEqual(t, d.Height, int64(768))
		assert.LessOrEqual(t, d.Height, min(int64(1440), d.Width*8/10))
	}
}

func TestViewport_Screen(t *testing.T) {
	v := Viewport{Width: 400, Height: 800}
	w, h := v.Screen(search.Mobile)
	assert.Equal(t, int64(400), w)
	assert.Equal(t, int64(946), h)

	w, h = v.Screen(search.Desktop)
	assert.Equal(t, int64(455), w)
	assert.Equal(t, int64(951), h)
}

func TestLoadViewport_PersistsPerDevice(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "acct")

	desktop, err := LoadViewport(dir, search.Desktop, seeded(7))
	require.NoError(t, err)
	mobile, err := LoadViewport(dir, search.Mobile, seeded(7))
	require.NoError(t, err)

	// A different seed must not change stored geometry.
	again, err := LoadViewport(dir, search.Desktop, seeded(99))
	require.NoError(t, err)
	assert.Equal(t, desktop, again)
	againMobile, err := LoadViewport(dir, search.Mobile, seeded(99))
	require.NoError(t, err)
	assert.Equal(t, mobile, againMobile)

	data, err := os.ReadFile(filepath.Join(dir, deviceFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"desktop"`)
	assert.Contains(t, string(data), `"mobile"`)
}

func TestLoadViewport_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, deviceFile), []byte("{not json"), 0o600))
	_, err := LoadViewport(dir, search.Desktop, seeded(1))
	assert.ErrorContains(t, err, "decode")
}

func TestParseArgs(t *testing.T) {
	got := parseArgs([]string{"--disable-dev-shm-usage", "lang=en-US", " ", "--window-position=0,0"})
	assert.Equal(t, map[string]any{
		"disable-dev-shm-usage": true,
		"lang":                  "en-US",
		"window-position":       "0,0",
	}, got)
}

func TestToHTTPCookies(t *testing.T) {
	in := []*network.Cookie{
		{Name: "_U", Value: "abc", Domain: ".bing.com", Path: "/", Secure: true, HTTPOnly: true, Expires: 1.9e9},
		{Name: "MUID", Value: "x", Domain: ".bing.com", Path: "/", Session: true, Expires: -1},
	}
	out := toHTTPCookies(in)
	require.Len(t, out, 2)
	assert.Equal(t, "_U", out[0].Name)
	assert.True(t, out[0].HttpOnly)
	assert.True(t, out[0].Secure)
	assert.Equal(t, time.Unix(1_900_000_000, 0), out[0].Expires)
	assert.True(t, out[1].Expires.IsZero())
}

func TestFactory_ProfileDirAndUserAgent(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Browser.ProfileDir = "/tmp/profiles"
	cfg.Rewards.Account = "alice"
	f := NewFactory(cfg, nil, zaptest.NewLogger(t), WithHeadless(false))

	assert.Equal(t, filepath.Join("/tmp/profiles", "alice"), f.ProfileDir())
	assert.False(t, f.browser.Headless)
	assert.Equal(t, cfg.Browser.MobileUserAgent, f.userAgent(search.Mobile))
	assert.Equal(t, cfg.Browser.DesktopUserAgent, f.userAgent(search.Desktop))
}

func TestAllocatorOptions_Count(t *testing.T) {
	cfg := config.BrowserConfig{Headless: true, Proxy: "http://127.0.0.1:8080", ExecPath: "/usr/bin/chromium", Args: []string{"a", "b=c"}}
	base := allocatorOptions(config.BrowserConfig{}, "/p", "", Viewport{Width: 1, Height: 1})
	full := allocatorOptions(cfg, "/p", "ua", Viewport{Width: 1, Height: 1})
	// headless, user agent, proxy, exec path and two args.
	assert.Len(t, full, len(base)+6)
}

func findChrome() string {
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

const searchPage = `<!doctype html><html><body>
<form action="/results" method="get"><input id="q" name="q" type="search"></form>
</body></html>`

func TestSession_DrivesSearchBox(t *testing.T) {
	if testing.Short() {
		t.Skip("browser test skipped in short mode")
	}
	chrome := findChrome()
	if chrome == "" {
		t.Skip("no Chrome or Chromium binary on PATH")
	}

	submitted := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/results" {
			select {
			case submitted <- r.URL.Query().Get("q"):
			default:
			}
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, searchPage)
	}))
	t.Cleanup(srv.Close)

	cfg := config.NewDefaultConfig()
	cfg.Browser.ProfileDir = t.TempDir()
	cfg.Browser.ExecPath = chrome
	cfg.Browser.Args = []string{"no-sandbox", "disable-dev-shm-usage"}
	cfg.Search.URL = srv.URL + "/"
	cfg.Search.InputSelector = "#q"
	cfg.Search.TypeVerifyTimeout = 2 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	f := NewFactory(cfg, nil, zaptest.NewLogger(t), WithRand(seeded(3)))
	s, err := f.OpenSession(ctx, search.Desktop)
	require.NoError(t, err)
	defer func() { assert.NoError(t, s.Close()) }()

	require.NoError(t, s.ClearInput(ctx))
	ok, err := s.Type(ctx, "golang generics")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, s.Submit(ctx))

	select {
	case q := <-submitted:
		assert.Equal(t, "golang generics", q)
	case <-ctx.Done():
		t.Fatal("form was never submitted")
	}

	_, err = s.Cookies(ctx)
	assert.NoError(t, err)
	assert.FileExists(t, filepath.Join(f.ProfileDir(), deviceFile))
}

func TestLocaleTasks(t *testing.T) {
	assert.Len(t, localeTasks("en-US"), 2)
	assert.Len(t, localeTasks("de"), 2)
}
