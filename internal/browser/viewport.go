// File: internal/browser/viewport.go
package browser

import (
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/rewards-cli/internal/search"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// deviceFile holds the emulated geometry of a profile, one entry per device.
const deviceFile = "device.json"

// Viewport is the emulated window geometry of a device.
type Viewport struct {
	Width  int64 `json:"width"`
	Height int64 `json:"height"`
}

// Screen returns the outer screen size reported to pages. Browser chrome
// takes a fixed margin around the viewport.
func (v Viewport) Screen(device search.Device) (width, height int64) {
	if device == search.Mobile {
		return v.Width, v.Height + 146
	}
	return v.Width + 55, v.Height + 151
}

// between returns a uniform integer in [lo, hi].
func between(rng *rand.Rand, lo, hi int64) int64 {
	if hi <= lo {
		return lo
	}
	return lo + rng.Int64N(hi-lo+1)
}

// RandomViewport draws a plausible geometry for the device. Phones are
// portrait with a width at most 70% of the height; desktops are landscape
// with a height at most 80% of the width.
func RandomViewport(device search.Device, rng *rand.Rand) Viewport {
	if device == search.Mobile {
		h := between(rng, 568, 1024)
		w := between(rng, 320, min(576, h*7/10))
		return Viewport{Width: w, Height: h}
	}
	w := between(rng, 1024, 2560)
	h := between(rng, 768, min(1440, w*8/10))
	return Viewport{Width: w, Height: h}
}

// LoadViewport returns the geometry stored in the profile for device,
// drawing and persisting a new one when none exists yet.
func LoadViewport(profileDir string, device search.Device, rng *rand.Rand) (Viewport, error) {
	path := filepath.Join(profileDir, deviceFile)
	stored := map[search.Device]Viewport{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &stored); err != nil {
			return Viewport{}, fmt.Errorf("decode %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return Viewport{}, fmt.Errorf("read %s: %w", path, err)
	}

	if v, ok := stored[device]; ok && v.Width > 0 && v.Height > 0 {
		return v, nil
	}

	v := RandomViewport(device, rng)
	stored[device] = v
	out, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return Viewport{}, fmt.Errorf("encode device profile: %w", err)
	}
	if err := os.MkdirAll(profileDir, 0o700); err != nil {
		return Viewport{}, fmt.Errorf("create profile dir: %w", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return Viewport{}, fmt.Errorf("write %s: %w", path, err)
	}
	return v, nil
}

// emulate applies the viewport, plus touch input on phones.
func emulate(device search.Device, v Viewport) chromedp.Tasks {
	screenW, screenH := v.Screen(device)
	mobile := device == search.Mobile
	tasks := chromedp.Tasks{
		emulation.SetDeviceMetricsOverride(v.Width, v.Height, 0, mobile).
			WithScreenWidth(screenW).
			WithScreenHeight(screenH),
	}
	if mobile {
		tasks = append(tasks, emulation.SetTouchEmulationEnabled(true))
	}
	return tasks
}
