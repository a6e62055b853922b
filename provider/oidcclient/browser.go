package oidcclient

import (
	"fmt"
	"os/exec"
	"runtime"
)

// OpenSystemBrowser opens url in the user's default browser.
func OpenSystemBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "darwin":
		cmd = exec.Command("open", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("[OpenSystemBrowser] %w", err)
	}
	// Reap the launcher so it does not linger as a zombie
	go func() { _ = cmd.Wait() }()
	return nil
}
