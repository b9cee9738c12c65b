package antidetect

import (
	"fmt"
	"math/rand"
	"strings"
)

// Fingerprint is the per-browser-instance identity: user agent, viewport,
// and the navigator surface the init script reports. Generated once per
// instance and kept stable for its lifetime so a site never sees an
// identity shift mid-session.
type Fingerprint struct {
	UserAgent           string
	AcceptLanguage      string
	Platform            string
	Language            string
	ViewportWidth       int
	ViewportHeight      int
	HardwareConcurrency int
	DeviceMemory        int
	CanvasNoiseSeed     float64
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
}

var acceptLanguages = []string{
	"en-US,en;q=0.9",
	"en-US,en;q=0.8",
	"en-GB,en;q=0.9,en-US;q=0.8",
	"en-US,en;q=0.9,es;q=0.8",
}

var viewports = []struct{ w, h int }{
	{1920, 1080}, {1366, 768}, {1536, 864},
	{1440, 900}, {1280, 720}, {2560, 1440},
}

// NewFingerprint generates a randomized but internally consistent
// fingerprint.
func NewFingerprint() Fingerprint {
	vp := viewports[rand.Intn(len(viewports))]
	ua := userAgents[rand.Intn(len(userAgents))]

	platform := "Win32"
	switch {
	case strings.Contains(ua, "Macintosh"):
		platform = "MacIntel"
	case strings.Contains(ua, "X11; Linux"):
		platform = "Linux x86_64"
	}

	return Fingerprint{
		UserAgent:           ua,
		AcceptLanguage:      acceptLanguages[rand.Intn(len(acceptLanguages))],
		Platform:            platform,
		Language:            "en-US",
		ViewportWidth:       vp.w,
		ViewportHeight:      vp.h,
		HardwareConcurrency: 4 + rand.Intn(13),
		DeviceMemory:        []int{4, 8, 16}[rand.Intn(3)],
		CanvasNoiseSeed:     rand.Float64(),
	}
}

// InitScript returns JavaScript injected into every page before site
// scripts run. It masks the automation surface and adds sub-pixel canvas
// noise keyed by the instance seed.
func (fp Fingerprint) InitScript() string {
	return fmt.Sprintf(`
// Override navigator properties
Object.defineProperty(navigator, 'platform', { get: () => '%s' });
Object.defineProperty(navigator, 'language', { get: () => '%s' });
Object.defineProperty(navigator, 'languages', { get: () => ['%s', 'en'] });
Object.defineProperty(navigator, 'hardwareConcurrency', { get: () => %d });
Object.defineProperty(navigator, 'deviceMemory', { get: () => %d });

// Remove webdriver flag
Object.defineProperty(navigator, 'webdriver', { get: () => false });

// Override Chrome properties
window.chrome = window.chrome || {
	runtime: { onMessage: { addListener: () => {} }, sendMessage: () => {} },
	loadTimes: () => ({}),
	csi: () => ({}),
};

// Fix permissions API
const originalQuery = window.navigator.permissions.query;
window.navigator.permissions.query = (parameters) => (
	parameters.name === 'notifications' ?
		Promise.resolve({ state: Notification.permission }) :
		originalQuery(parameters)
);

// Fix plugins array
Object.defineProperty(navigator, 'plugins', {
	get: () => {
		const plugins = [
			{ name: 'Chrome PDF Plugin', filename: 'internal-pdf-viewer' },
			{ name: 'Chrome PDF Viewer', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai' },
			{ name: 'Native Client', filename: 'internal-nacl-plugin' },
		];
		plugins.length = 3;
		return plugins;
	}
});

// Canvas noise: perturb readbacks below visual threshold, seeded per instance
const noiseSeed = %.6f;
const origToDataURL = HTMLCanvasElement.prototype.toDataURL;
const origGetImageData = CanvasRenderingContext2D.prototype.getImageData;
CanvasRenderingContext2D.prototype.getImageData = function(x, y, w, h) {
	const data = origGetImageData.call(this, x, y, w, h);
	for (let i = 0; i < data.data.length; i += 16) {
		data.data[i] = data.data[i] ^ (Math.floor(noiseSeed * 255) & 1);
	}
	return data;
};
HTMLCanvasElement.prototype.toDataURL = function(...args) {
	const ctx = this.getContext('2d');
	if (ctx && this.width > 0 && this.height > 0) {
		ctx.getImageData(0, 0, 1, 1);
	}
	return origToDataURL.apply(this, args);
};

// Console debug logging protection
const originalToString = Function.prototype.toString;
Function.prototype.toString = function() {
	if (this === Function.prototype.toString) return 'function toString() { [native code] }';
	return originalToString.call(this);
};
`, fp.Platform, fp.Language, fp.Language, fp.HardwareConcurrency, fp.DeviceMemory, fp.CanvasNoiseSeed)
}
