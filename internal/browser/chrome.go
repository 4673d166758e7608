package browser

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/gleanerhq/gleaner/internal/logger"
)

// Common Chrome/Chromium binary names across different systems, checked in
// order before falling back to a bare PATH lookup.
var chromeBinaryNames = []string{
	"google-chrome-stable",
	"google-chrome",
	"chromium",
	"chromium-browser",
	"chrome",
	// macOS paths
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	"/Applications/Chromium.app/Contents/MacOS/Chromium",
	// Common Linux paths
	"/usr/bin/google-chrome-stable",
	"/usr/bin/google-chrome",
	"/usr/bin/chromium",
	"/usr/bin/chromium-browser",
	"/snap/bin/chromium",
	// Windows paths
	`C:\Program Files\Google\Chrome\Application\chrome.exe`,
	`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
}

// findChromeBinary resolves the browser binary to launch. An explicit path
// from config wins; otherwise the known locations are searched in order.
// The returned error names every location tried.
func findChromeBinary(explicit string) (string, error) {
	if explicit != "" {
		path, err := exec.LookPath(explicit)
		if err != nil {
			return "", fmt.Errorf("%w: configured browser binary %q not found", ErrBrowserUnavailable, explicit)
		}
		return path, nil
	}

	for _, name := range chromeBinaryNames {
		if path, err := exec.LookPath(name); err == nil {
			logger.Debug("found browser binary", "name", name, "path", path)
			return path, nil
		}
	}

	return "", fmt.Errorf("%w: no browser binary found (searched: %s)",
		ErrBrowserUnavailable, strings.Join(chromeBinaryNames, ", "))
}
