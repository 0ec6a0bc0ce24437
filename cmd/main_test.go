// File: cmd/main_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rewards-cli/internal/config"
	"github.com/xkilldash9x/rewards-cli/internal/observability"
	"github.com/xkilldash9x/rewards-cli/internal/rewards"
	"github.com/xkilldash9x/rewards-cli/internal/search"
)

// resetForTest restores package state and silences the global logger.
func resetForTest(t *testing.T) {
	t.Helper()
	cfgFile = ""
	observability.ResetForTest()

	origStore, origBrowser := openStore, newBrowserFactory
	t.Cleanup(func() {
		openStore, newBrowserFactory = origStore, origBrowser
		cfgFile = ""
		observability.ResetForTest()
	})
	t.Setenv("REWARDS_STORE_URL", "")
	t.Setenv("REWARDS_NOTIFY_URLS", "")
}

// writeConfig writes a YAML config into a temp dir and returns its path.
// The body is appended to a quiet logger block and a temp sqlite store.
func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	base := "logger:\n  level: fatal\n" +
		"store:\n  driver: sqlite\n  path: " + filepath.Join(dir, "backlog.db") + "\n" +
		"browser:\n  profile_dir: " + filepath.Join(dir, "profiles") + "\n"
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(base+body), 0o600))
	return path
}

// executeCommand runs a fresh command tree and captures stdout.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// fakeBrowser stands in for Chrome: every submit earns perSubmit points.
type fakeBrowser struct {
	mu        sync.Mutex
	balance   int
	perSubmit int
	initial   rewards.UserInfo
	infoCalls int
	opened    []search.Device
	typed     []string
	headless  bool
	locale    string
}

func (f *fakeBrowser) Open(_ context.Context, d search.Device) (search.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, d)
	return &fakeSession{b: f}, nil
}

// UserInfo reports the initial counters first and a completed quota after.
func (f *fakeBrowser) UserInfo(context.Context) (rewards.UserInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infoCalls++
	if f.infoCalls == 1 {
		info := f.initial
		info.Balance = f.balance
		return info, nil
	}
	done := f.initial
	done.Balance = f.balance
	done.Desktop.Points = done.Desktop.Max
	done.Mobile.Points = done.Mobile.Max
	return done, nil
}

func (f *fakeBrowser) OpenProfile(context.Context, search.Device, string) error { return nil }

type fakeSession struct{ b *fakeBrowser }

func (s *fakeSession) ClearInput(context.Context) error { return nil }

func (s *fakeSession) Type(_ context.Context, text string) (bool, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.typed = append(s.b.typed, text)
	return true, nil
}

func (s *fakeSession) Submit(context.Context) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.balance += s.b.perSubmit
	return nil
}

func (s *fakeSession) CurrentBalance(context.Context) (int, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	return s.b.balance, nil
}

func (s *fakeSession) Close() error { return nil }

func useFakeBrowser(fb *fakeBrowser) {
	newBrowserFactory = func(_ *config.Config, _ rewards.Getter, _ *zap.Logger, headless bool, locale string) browserFactory {
		fb.headless = headless
		fb.locale = locale
		return fb
	}
}

func lines(s string) []string {
	return strings.Split(strings.TrimSpace(s), "\n")
}
