package render

import (
	"os/exec"

	"github.com/jmylchreest/catalogd/internal/logger"
)

// Chrome/Chromium binaries tried in order. Names are resolved via PATH,
// absolute paths are checked as-is.
var chromeCandidates = []string{
	"google-chrome-stable",
	"google-chrome",
	"chromium",
	"chromium-browser",
	"chrome",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	"/Applications/Chromium.app/Contents/MacOS/Chromium",
	"/usr/bin/google-chrome-stable",
	"/usr/bin/chromium",
	"/snap/bin/chromium",
	`C:\Program Files\Google\Chrome\Application\chrome.exe`,
	`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
}

// lookPath is replaced in tests.
var lookPath = exec.LookPath

// FindChromePath returns the configured path when set, otherwise the first
// Chrome binary found on the system. Empty means "let the engine decide".
func FindChromePath(configured string) string {
	if configured != "" {
		return configured
	}
	for _, name := range chromeCandidates {
		if path, err := lookPath(name); err == nil {
			logger.Debug("found chrome binary", "name", name, "path", path)
			return path
		}
	}
	logger.Warn("no chrome binary found, relying on engine default lookup")
	return ""
}
