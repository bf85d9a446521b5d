// Package browser opens the consent page of the presence service in the user's browser.
// When no browser can be started the URL is copied to the clipboard and printed instead.
package browser

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"

	"github.com/atotto/clipboard"
	log "github.com/sirupsen/logrus"
	"github.com/skratchdot/open-golang/open"
)

var linuxBrowsers = []string{"xdg-open", "x-www-browser", "www-browser", "firefox", "chromium", "google-chrome"}

// Hooks used by Present. Tests replace them.
var (
	openFunc      = OpenURL
	clipboardFunc = writeClipboard
	output        io.Writer = os.Stdout
)

// OpenURL opens the specified URL in the default web browser.
// It first attempts to use open-golang and falls back to
// platform-specific commands if that fails.
func OpenURL(url string) error {
	err := open.Run(url)
	if err == nil {
		log.Debug("opened consent URL using open-golang")
		return nil
	}

	log.Debugf("open-golang failed: %v, trying platform-specific commands", err)
	return openURLPlatformSpecific(url)
}

func openURLPlatformSpecific(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "linux":
		for _, browser := range linuxBrowsers {
			if _, err := exec.LookPath(browser); err == nil {
				cmd = exec.Command(browser, url)
				break
			}
		}
		if cmd == nil {
			return fmt.Errorf("no suitable browser found on Linux system")
		}
	default:
		return fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	log.Debugf("Running command: %s %v", cmd.Path, cmd.Args[1:])
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start browser command: %w", err)
	}
	return nil
}

// IsAvailable reports whether a browser launcher exists for the current platform.
func IsAvailable() bool {
	switch runtime.GOOS {
	case "darwin":
		_, err := exec.LookPath("open")
		return err == nil
	case "windows":
		_, err := exec.LookPath("rundll32")
		return err == nil
	case "linux":
		for _, browser := range linuxBrowsers {
			if _, err := exec.LookPath(browser); err == nil {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func writeClipboard(text string) error {
	if clipboard.Unsupported {
		return fmt.Errorf("clipboard is not supported on this system")
	}
	return clipboard.WriteAll(text)
}

// CopyToClipboard places url on the system clipboard.
func CopyToClipboard(url string) error {
	return clipboardFunc(url)
}

// Present shows the consent URL to the user. Unless noBrowser is set it tries to open a
// browser first; otherwise, or when that fails, the URL is copied to the clipboard and printed.
// It reports whether a browser was launched.
func Present(url string, noBrowser bool) bool {
	if !noBrowser {
		err := openFunc(url)
		if err == nil {
			return true
		}
		log.Warnf("failed to open browser: %v", err)
	}

	if err := CopyToClipboard(url); err != nil {
		log.Debugf("clipboard unavailable: %v", err)
		_, _ = fmt.Fprintf(output, "Open the following URL to authorize rich presence:\n%s\n", url)
		return false
	}
	_, _ = fmt.Fprintf(output, "Open the following URL to authorize rich presence (copied to clipboard):\n%s\n", url)
	return false
}
