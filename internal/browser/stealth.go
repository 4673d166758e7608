package browser

import (
	"context"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// stealthProfile holds the randomised fingerprint surface for one page.
// Values are drawn fresh per page so repeated visits do not share an
// identical fingerprint.
type stealthProfile struct {
	ScreenWidth         int
	ScreenHeight        int
	WebGLVendor         string
	WebGLRenderer       string
	CanvasNoise         float64
	AudioNoise          float64
	HardwareConcurrency int
	DeviceMemory        int
	Platform            string
	Timezone            string
}

type screenOption struct {
	width, height int
	weight        int
}

// 1920x1080 dominates real-world desktop traffic, so it dominates here.
var screenOptions = []screenOption{
	{width: 1920, height: 1080, weight: 60},
	{width: 2560, height: 1440, weight: 15},
	{width: 1366, height: 768, weight: 15},
	{width: 1536, height: 864, weight: 10},
}

type webglOption struct {
	vendor, renderer string
}

var webglOptions = []webglOption{
	{vendor: "Google Inc. (NVIDIA)", renderer: "ANGLE (NVIDIA, NVIDIA GeForce GTX 1660 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{vendor: "Google Inc. (Intel)", renderer: "ANGLE (Intel, Mesa Intel(R) UHD Graphics 630 (CFL GT2), OpenGL 4.6)"},
	{vendor: "Google Inc. (AMD)", renderer: "ANGLE (AMD, AMD Radeon RX 580 Series Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{vendor: "Intel Inc.", renderer: "Intel Iris OpenGL Engine"},
}

var (
	hardwareConcurrencyOptions = []int{4, 8, 12, 16}
	deviceMemoryOptions        = []int{4, 8, 16, 32}
	timezoneOptions            = []string{
		"America/New_York",
		"America/Chicago",
		"America/Los_Angeles",
		"Europe/London",
		"Europe/Berlin",
	}
)

func pickScreen(r *rand.Rand) (int, int) {
	total := 0
	for _, opt := range screenOptions {
		total += opt.weight
	}
	n := r.IntN(total)
	for _, opt := range screenOptions {
		if n < opt.weight {
			// A couple of pixels of drift keeps the metrics off the
			// exact stock values without looking implausible.
			return opt.width + screenDrift(r), opt.height + screenDrift(r)
		}
		n -= opt.weight
	}
	return screenOptions[0].width, screenOptions[0].height
}

// screenDrift returns ±1 or ±2 pixels, never zero: the metric must always
// sit just off the stock value.
func screenDrift(r *rand.Rand) int {
	d := 1 + r.IntN(2)
	if r.IntN(2) == 0 {
		return -d
	}
	return d
}

func platformForUserAgent(ua string) string {
	switch {
	case strings.Contains(ua, "Macintosh"):
		return "MacIntel"
	case strings.Contains(ua, "Windows"):
		return "Win32"
	default:
		return "Linux x86_64"
	}
}

// newStealthProfile builds the fingerprint surface for one page. With
// advanced fingerprinting on, values are drawn fresh from the pools so
// repeated visits never share an identical fingerprint; off, every page
// presents the same stock desktop profile with the noise injections
// disabled. The platform string tracks the user agent either way so the
// two never contradict each other.
func newStealthProfile(r *rand.Rand, userAgent string, advanced bool) stealthProfile {
	if !advanced {
		return stealthProfile{
			ScreenWidth:         screenOptions[0].width,
			ScreenHeight:        screenOptions[0].height,
			WebGLVendor:         webglOptions[0].vendor,
			WebGLRenderer:       webglOptions[0].renderer,
			HardwareConcurrency: 8,
			DeviceMemory:        8,
			Platform:            platformForUserAgent(userAgent),
			Timezone:            timezoneOptions[0],
		}
	}
	width, height := pickScreen(r)
	gl := webglOptions[r.IntN(len(webglOptions))]
	return stealthProfile{
		ScreenWidth:         width,
		ScreenHeight:        height,
		WebGLVendor:         gl.vendor,
		WebGLRenderer:       gl.renderer,
		CanvasNoise:         1e-4 + r.Float64()*9e-4,
		AudioNoise:          1e-5 + r.Float64()*9e-5,
		HardwareConcurrency: hardwareConcurrencyOptions[r.IntN(len(hardwareConcurrencyOptions))],
		DeviceMemory:        deviceMemoryOptions[r.IntN(len(deviceMemoryOptions))],
		Platform:            platformForUserAgent(userAgent),
		Timezone:            timezoneOptions[r.IntN(len(timezoneOptions))],
	}
}

// script renders the stealth script with this profile's values filled in.
func (p stealthProfile) script() string {
	return strings.NewReplacer(
		"__SCREEN_WIDTH__", strconv.Itoa(p.ScreenWidth),
		"__SCREEN_HEIGHT__", strconv.Itoa(p.ScreenHeight),
		"__WEBGL_VENDOR__", p.WebGLVendor,
		"__WEBGL_RENDERER__", p.WebGLRenderer,
		"__CANVAS_NOISE__", strconv.FormatFloat(p.CanvasNoise, 'g', -1, 64),
		"__AUDIO_NOISE__", strconv.FormatFloat(p.AudioNoise, 'g', -1, 64),
		"__HARDWARE_CONCURRENCY__", strconv.Itoa(p.HardwareConcurrency),
		"__DEVICE_MEMORY__", strconv.Itoa(p.DeviceMemory),
		"__PLATFORM__", p.Platform,
		"__TIMEZONE__", p.Timezone,
	).Replace(stealthScriptTemplate)
}

// injectStealth registers the stealth script to run before any page script
// on every document the page loads. Must run before navigation.
func injectStealth(p stealthProfile) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(p.script()).Do(ctx)
		return err
	})
}

// stealthScriptTemplate evades common bot detection checks. Based on the
// puppeteer-extra-plugin-stealth evasions, extended with per-profile
// randomised screen, WebGL, canvas, audio and timezone surfaces.
const stealthScriptTemplate = `
(function() {
    'use strict';

    const defineRO = (obj, prop, value) => {
        try {
            Object.defineProperty(obj, prop, { get: () => value, configurable: true });
        } catch (e) {}
    };

    // 1. Remove navigator.webdriver
    Object.defineProperty(navigator, 'webdriver', {
        get: () => undefined,
        configurable: true
    });
    delete Object.getPrototypeOf(navigator).webdriver;

    // 2. Mock navigator.plugins with realistic values
    // Headless Chrome has an empty plugins array which is a dead giveaway
    const mockPlugins = [
        {
            name: 'Chrome PDF Plugin',
            description: 'Portable Document Format',
            filename: 'internal-pdf-viewer',
            length: 1
        },
        {
            name: 'Chrome PDF Viewer',
            description: '',
            filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai',
            length: 1
        },
        {
            name: 'Native Client',
            description: '',
            filename: 'internal-nacl-plugin',
            length: 2
        }
    ];

    const pluginArray = Object.create(PluginArray.prototype);
    mockPlugins.forEach((p, i) => {
        const plugin = Object.create(Plugin.prototype);
        Object.defineProperties(plugin, {
            name: { value: p.name, enumerable: true },
            description: { value: p.description, enumerable: true },
            filename: { value: p.filename, enumerable: true },
            length: { value: p.length, enumerable: true }
        });
        pluginArray[i] = plugin;
        pluginArray[p.name] = plugin;
    });
    Object.defineProperty(pluginArray, 'length', { value: mockPlugins.length });
    Object.defineProperty(pluginArray, 'item', { value: (i) => pluginArray[i] || null });
    Object.defineProperty(pluginArray, 'namedItem', { value: (n) => pluginArray[n] || null });
    Object.defineProperty(pluginArray, 'refresh', { value: () => {} });

    Object.defineProperty(navigator, 'plugins', {
        get: () => pluginArray,
        configurable: true
    });

    // 3. Mock navigator.mimeTypes
    const mockMimeTypes = [
        { type: 'application/pdf', description: 'Portable Document Format', suffixes: 'pdf' },
        { type: 'text/pdf', description: 'Portable Document Format', suffixes: 'pdf' }
    ];

    const mimeTypeArray = Object.create(MimeTypeArray.prototype);
    mockMimeTypes.forEach((m, i) => {
        const mimeType = Object.create(MimeType.prototype);
        Object.defineProperties(mimeType, {
            type: { value: m.type, enumerable: true },
            description: { value: m.description, enumerable: true },
            suffixes: { value: m.suffixes, enumerable: true },
            enabledPlugin: { value: pluginArray[0], enumerable: true }
        });
        mimeTypeArray[i] = mimeType;
        mimeTypeArray[m.type] = mimeType;
    });
    Object.defineProperty(mimeTypeArray, 'length', { value: mockMimeTypes.length });
    Object.defineProperty(mimeTypeArray, 'item', { value: (i) => mimeTypeArray[i] || null });
    Object.defineProperty(mimeTypeArray, 'namedItem', { value: (n) => mimeTypeArray[n] || null });

    Object.defineProperty(navigator, 'mimeTypes', {
        get: () => mimeTypeArray,
        configurable: true
    });

    // 4. Set navigator.languages
    Object.defineProperty(navigator, 'languages', {
        get: () => Object.freeze(['en-US', 'en']),
        configurable: true
    });

    // 5. Mock chrome.runtime
    if (!window.chrome) {
        Object.defineProperty(window, 'chrome', {
            value: {},
            writable: true,
            enumerable: true,
            configurable: false
        });
    }

    if (!window.chrome.runtime) {
        window.chrome.runtime = {
            OnInstalledReason: {
                CHROME_UPDATE: 'chrome_update',
                INSTALL: 'install',
                SHARED_MODULE_UPDATE: 'shared_module_update',
                UPDATE: 'update'
            },
            OnRestartRequiredReason: {
                APP_UPDATE: 'app_update',
                OS_UPDATE: 'os_update',
                PERIODIC: 'periodic'
            },
            PlatformArch: {
                ARM: 'arm',
                ARM64: 'arm64',
                MIPS: 'mips',
                MIPS64: 'mips64',
                X86_32: 'x86-32',
                X86_64: 'x86-64'
            },
            PlatformOs: {
                ANDROID: 'android',
                CROS: 'cros',
                LINUX: 'linux',
                MAC: 'mac',
                OPENBSD: 'openbsd',
                WIN: 'win'
            },
            RequestUpdateCheckStatus: {
                NO_UPDATE: 'no_update',
                THROTTLED: 'throttled',
                UPDATE_AVAILABLE: 'update_available'
            },
            get id() { return undefined; },
            connect: function() {},
            sendMessage: function() {}
        };
    }

    // 6. Permissions: report prompt for notifications and geolocation, the
    // state a fresh real profile would have
    const originalQuery = Permissions.prototype.query;
    Permissions.prototype.query = function(parameters) {
        if (parameters && (parameters.name === 'notifications' || parameters.name === 'geolocation')) {
            return Promise.resolve({ state: 'prompt', onchange: null });
        }
        return originalQuery.call(this, parameters);
    };

    // 7. Override WebGL vendor and renderer
    const getParameterProxyHandler = {
        apply: function(target, ctx, args) {
            const param = args[0];
            const result = Reflect.apply(target, ctx, args);
            // UNMASKED_VENDOR_WEBGL
            if (param === 37445) {
                return '__WEBGL_VENDOR__';
            }
            // UNMASKED_RENDERER_WEBGL
            if (param === 37446) {
                return '__WEBGL_RENDERER__';
            }
            return result;
        }
    };

    try {
        const webglGetParameter = WebGLRenderingContext.prototype.getParameter;
        WebGLRenderingContext.prototype.getParameter = new Proxy(webglGetParameter, getParameterProxyHandler);
    } catch (e) {}

    try {
        const webgl2GetParameter = WebGL2RenderingContext.prototype.getParameter;
        WebGL2RenderingContext.prototype.getParameter = new Proxy(webgl2GetParameter, getParameterProxyHandler);
    } catch (e) {}

    // 8. Screen metrics with matching window dimensions
    const screenWidth = __SCREEN_WIDTH__;
    const screenHeight = __SCREEN_HEIGHT__;
    defineRO(screen, 'width', screenWidth);
    defineRO(screen, 'height', screenHeight);
    defineRO(screen, 'availWidth', screenWidth);
    defineRO(screen, 'availHeight', screenHeight - 40);
    defineRO(screen, 'colorDepth', 24);
    defineRO(screen, 'pixelDepth', 24);
    defineRO(window, 'outerWidth', screenWidth);
    defineRO(window, 'outerHeight', screenHeight - 40);
    defineRO(window, 'devicePixelRatio', 1);

    // 9. Canvas noise: flip the low bit of a small random subset of pixels
    // so canvas hashes differ between sessions without visible artefacts
    const canvasNoise = __CANVAS_NOISE__;
    try {
        const origGetImageData = CanvasRenderingContext2D.prototype.getImageData;
        CanvasRenderingContext2D.prototype.getImageData = function() {
            const imageData = origGetImageData.apply(this, arguments);
            const data = imageData.data;
            for (let i = 0; i < data.length; i += 4) {
                if (Math.random() < canvasNoise) {
                    data[i] = data[i] ^ 1;
                    data[i + 1] = data[i + 1] ^ 1;
                }
            }
            return imageData;
        };

        const origToDataURL = HTMLCanvasElement.prototype.toDataURL;
        HTMLCanvasElement.prototype.toDataURL = function() {
            const ctx = this.getContext('2d');
            if (ctx && this.width > 0 && this.height > 0) {
                try {
                    const d = ctx.getImageData(0, 0, this.width, this.height);
                    ctx.putImageData(d, 0, 0);
                } catch (e) {}
            }
            return origToDataURL.apply(this, arguments);
        };
    } catch (e) {}

    // 10. AudioContext oscillator frequency jitter
    const audioNoise = __AUDIO_NOISE__;
    try {
        const AudioCtx = window.AudioContext || window.webkitAudioContext;
        if (AudioCtx) {
            const origCreateOscillator = AudioCtx.prototype.createOscillator;
            AudioCtx.prototype.createOscillator = function() {
                const osc = origCreateOscillator.apply(this, arguments);
                osc.frequency.value = osc.frequency.value + Math.random() * audioNoise;
                return osc;
            };
        }
    } catch (e) {}

    // 11. Hardware profile consistent with the user agent
    defineRO(navigator, 'hardwareConcurrency', __HARDWARE_CONCURRENCY__);
    defineRO(navigator, 'deviceMemory', __DEVICE_MEMORY__);
    defineRO(navigator, 'platform', '__PLATFORM__');

    // 12. WebRTC: relay-only transport so STUN cannot leak local addresses
    try {
        const OrigRTCPeerConnection = window.RTCPeerConnection;
        if (OrigRTCPeerConnection) {
            const PatchedRTCPeerConnection = function(config) {
                config = config || {};
                config.iceTransportPolicy = 'relay';
                return new OrigRTCPeerConnection(config);
            };
            PatchedRTCPeerConnection.prototype = OrigRTCPeerConnection.prototype;
            window.RTCPeerConnection = PatchedRTCPeerConnection;
        }
    } catch (e) {}

    // 13. Timezone from the profile pool
    try {
        const origResolvedOptions = Intl.DateTimeFormat.prototype.resolvedOptions;
        Intl.DateTimeFormat.prototype.resolvedOptions = function() {
            const options = origResolvedOptions.call(this);
            options.timeZone = '__TIMEZONE__';
            return options;
        };
    } catch (e) {}

    // 14. Turnstile instrumentation: record widget lifecycle events in page
    // scope so challenge progress can be inspected after navigation
    (function() {
        window.__turnstileEvents = [];
        const record = (type, detail) => {
            window.__turnstileEvents.push({ type: type, detail: detail, at: Date.now() });
        };
        const wrap = (ts) => {
            if (!ts || ts.__instrumented) return ts;
            const origRender = ts.render;
            const origExecute = ts.execute;
            const origGetResponse = ts.getResponse;
            if (origRender) {
                ts.render = function(container, params) {
                    params = params || {};
                    const origCallback = params.callback;
                    params.callback = function(token) {
                        record('token', { length: token ? token.length : 0 });
                        if (origCallback) return origCallback.apply(this, arguments);
                    };
                    const origErrorCallback = params['error-callback'];
                    params['error-callback'] = function(err) {
                        record('error', { message: String(err) });
                        if (origErrorCallback) return origErrorCallback.apply(this, arguments);
                    };
                    const origExpiredCallback = params['expired-callback'];
                    params['expired-callback'] = function() {
                        record('expired', {});
                        if (origExpiredCallback) return origExpiredCallback.apply(this, arguments);
                    };
                    const widgetId = origRender.call(this, container, params);
                    record('render', { widgetId: widgetId });
                    return widgetId;
                };
            }
            if (origExecute) {
                ts.execute = function(widgetId) {
                    record('execute', { widgetId: widgetId });
                    return origExecute.apply(this, arguments);
                };
            }
            if (origGetResponse) {
                ts.getResponse = function(widgetId) {
                    const token = origGetResponse.apply(this, arguments);
                    record('getResponse', { widgetId: widgetId, hasToken: !!token });
                    return token;
                };
            }
            ts.__instrumented = true;
            return ts;
        };
        let current = wrap(window.turnstile);
        Object.defineProperty(window, 'turnstile', {
            configurable: true,
            get: () => current,
            set: (v) => { current = wrap(v); }
        });
    })();

    // 15. Fix iframe contentWindow access
    try {
        Object.defineProperty(HTMLIFrameElement.prototype, 'contentWindow', {
            get: function() {
                return this.contentDocument?.defaultView || null;
            }
        });
    } catch (e) {}

    // 16. Make toString() for patched functions look native
    const nativeToStringFunc = Function.prototype.toString;
    const customToString = function() {
        if (this === Permissions.prototype.query) {
            return 'function query() { [native code] }';
        }
        return nativeToStringFunc.call(this);
    };
    Function.prototype.toString = customToString;
})();
`

// StealthExecAllocatorOptions returns Chrome flags tuned to look like a
// regular browser session.
func StealthExecAllocatorOptions() []chromedp.ExecAllocatorOption {
	return []chromedp.ExecAllocatorOption{
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),

		// Anti-detection flags
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-features", "IsolateOrigins,site-per-process"),
		chromedp.Flag("excludeSwitches", "enable-automation"),
		chromedp.Flag("useAutomationExtension", false),

		// Disable infobars and other automation indicators
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-extensions", false), // some sites check for extension support
		chromedp.Flag("disable-plugins-discovery", true),
		chromedp.Flag("disable-default-apps", true),

		// Realistic browser behaviour
		chromedp.Flag("disable-background-networking", false),
		chromedp.Flag("enable-features", "NetworkService,NetworkServiceInProcess"),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),

		// Media and WebRTC
		chromedp.Flag("use-fake-ui-for-media-stream", true),
		chromedp.Flag("use-fake-device-for-media-stream", true),

		chromedp.WindowSize(1920, 1080),
		chromedp.Flag("start-maximized", true),

		chromedp.Flag("lang", "en-US,en"),
		chromedp.Flag("accept-lang", "en-US,en;q=0.9"),

		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.Flag("allow-running-insecure-content", true),
	}
}
