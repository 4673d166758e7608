package browser

import (
	"context"
	"errors"
	"math/rand/v2"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"
)

func testRand() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func TestPickDisplayNumberAvoidsCommonDisplays(t *testing.T) {
	r := testRand()
	for i := 0; i < 1000; i++ {
		n := pickDisplayNumber(r)
		if n == 0 || n == 1 || n == 99 {
			t.Fatalf("picked reserved display %d", n)
		}
		inRange := false
		for _, dr := range displayRanges {
			if n >= dr.min && n <= dr.max {
				inRange = true
				break
			}
		}
		if !inRange {
			t.Fatalf("display %d outside configured ranges", n)
		}
	}
}

func TestExtraPageIndexes(t *testing.T) {
	tests := []struct {
		name string
		n    int
		max  int
		want []int
	}{
		{"under cap", 3, 5, nil},
		{"at cap", 5, 5, nil},
		{"one over", 6, 5, []int{1, 2, 3}},
		{"two over", 7, 5, []int{1, 2, 3, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extraPageIndexes(tt.n, tt.max)
			if !slices.Equal(got, tt.want) {
				t.Errorf("extraPageIndexes(%d, %d) = %v, want %v", tt.n, tt.max, got, tt.want)
			}
		})
	}
}

func TestNewStealthProfileDrawsFromPools(t *testing.T) {
	r := testRand()
	for i := 0; i < 100; i++ {
		p := newStealthProfile(r, defaultUserAgent, true)

		if !slices.Contains(hardwareConcurrencyOptions, p.HardwareConcurrency) {
			t.Errorf("HardwareConcurrency = %d, not in pool", p.HardwareConcurrency)
		}
		if !slices.Contains(deviceMemoryOptions, p.DeviceMemory) {
			t.Errorf("DeviceMemory = %d, not in pool", p.DeviceMemory)
		}
		if !slices.Contains(timezoneOptions, p.Timezone) {
			t.Errorf("Timezone = %q, not in pool", p.Timezone)
		}
		if p.CanvasNoise < 1e-4 || p.CanvasNoise > 1e-3 {
			t.Errorf("CanvasNoise = %v, want within [1e-4, 1e-3]", p.CanvasNoise)
		}
		if p.AudioNoise <= 0 || p.AudioNoise > 1e-4 {
			t.Errorf("AudioNoise = %v, want small positive", p.AudioNoise)
		}

		matched := false
		for _, opt := range screenOptions {
			if abs(p.ScreenWidth-opt.width) <= 2 && abs(p.ScreenHeight-opt.height) <= 2 {
				matched = true
			}
			if p.ScreenWidth == opt.width || p.ScreenHeight == opt.height {
				t.Errorf("screen %dx%d sits on a stock value", p.ScreenWidth, p.ScreenHeight)
			}
		}
		if !matched {
			t.Errorf("screen %dx%d not near any pool entry", p.ScreenWidth, p.ScreenHeight)
		}
	}
}

func TestScreenDriftNeverZero(t *testing.T) {
	r := testRand()
	for i := 0; i < 1000; i++ {
		d := screenDrift(r)
		if d == 0 {
			t.Fatal("drift of zero leaves the stock resolution intact")
		}
		if d < -2 || d > 2 {
			t.Fatalf("drift = %d, want within ±2", d)
		}
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func TestPlatformForUserAgent(t *testing.T) {
	tests := []struct {
		ua   string
		want string
	}{
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/131.0.0.0", "Win32"},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Safari/605.1.15", "MacIntel"},
		{"Mozilla/5.0 (X11; Linux x86_64) Chrome/131.0.0.0", "Linux x86_64"},
	}
	for _, tt := range tests {
		if got := platformForUserAgent(tt.ua); got != tt.want {
			t.Errorf("platformForUserAgent(%q) = %q, want %q", tt.ua, got, tt.want)
		}
	}
}

func TestNewStealthProfileStockWhenBasic(t *testing.T) {
	r := testRand()
	for i := 0; i < 10; i++ {
		p := newStealthProfile(r, defaultUserAgent, false)

		if p.ScreenWidth != 1920 || p.ScreenHeight != 1080 {
			t.Errorf("screen = %dx%d, want stock 1920x1080", p.ScreenWidth, p.ScreenHeight)
		}
		if p.CanvasNoise != 0 || p.AudioNoise != 0 {
			t.Errorf("noise = %v/%v, want disabled", p.CanvasNoise, p.AudioNoise)
		}
		if p.WebGLVendor != webglOptions[0].vendor {
			t.Errorf("WebGLVendor = %q, want stock entry", p.WebGLVendor)
		}
	}
}

func TestStealthScriptSubstitutesAllPlaceholders(t *testing.T) {
	p := newStealthProfile(testRand(), defaultUserAgent, true)
	script := p.script()

	// Placeholders are all __UPPER_CASE__; plain JS identifiers like
	// __turnstileEvents are part of the script and stay.
	if left := regexp.MustCompile(`__[A-Z][A-Z0-9_]*__`).FindString(script); left != "" {
		t.Errorf("unreplaced placeholder %q", left)
	}
	for _, want := range []string{
		p.WebGLVendor,
		p.WebGLRenderer,
		p.Platform,
		p.Timezone,
		strconv.Itoa(p.ScreenWidth),
		strconv.Itoa(p.HardwareConcurrency),
	} {
		if !strings.Contains(script, want) {
			t.Errorf("script missing substituted value %q", want)
		}
	}
	if !strings.Contains(script, "iceTransportPolicy = 'relay'") {
		t.Error("script missing WebRTC relay policy")
	}
	if !strings.Contains(script, "turnstile") {
		t.Error("script missing turnstile instrumentation")
	}
}

func TestFindChromeBinaryExplicitMissing(t *testing.T) {
	_, err := findChromeBinary("/nonexistent/browser-binary")
	if err == nil {
		t.Fatal("expected error for missing explicit binary")
	}
	if !errors.Is(err, ErrBrowserUnavailable) {
		t.Errorf("error = %v, want ErrBrowserUnavailable", err)
	}
	if !strings.Contains(err.Error(), "/nonexistent/browser-binary") {
		t.Errorf("error %q does not name the configured path", err)
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	m := New(Config{})
	if m.cfg.PageTimeout != 60*time.Second {
		t.Errorf("PageTimeout = %v, want 60s", m.cfg.PageTimeout)
	}
	if m.cfg.MaxPages != 5 {
		t.Errorf("MaxPages = %d, want 5", m.cfg.MaxPages)
	}
	if m.cfg.LaunchRetries != 3 {
		t.Errorf("LaunchRetries = %d, want 3", m.cfg.LaunchRetries)
	}
	if m.cfg.UserAgent == "" {
		t.Error("UserAgent not defaulted")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := New(Config{})
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if _, err := m.NewPage(ctx); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("NewPage after Shutdown = %v, want ErrShuttingDown", err)
	}
}
