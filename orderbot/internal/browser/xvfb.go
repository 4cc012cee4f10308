// CLAUDE:SUMMARY Virtual X display for headful order runs: start Xvfb, wait for its socket, stop on manager close.
package browser

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// x11SocketDir is where Xvfb creates the X<n> socket of each display.
var x11SocketDir = "/tmp/.X11-unix"

const xvfbReadyTimeout = 5 * time.Second

// displaySocket maps ":99" or ":99.0" to /tmp/.X11-unix/X99.
func displaySocket(display string) (string, error) {
	n := strings.TrimPrefix(display, ":")
	if i := strings.IndexByte(n, '.'); i >= 0 {
		n = n[:i]
	}
	if n == "" || strings.Trim(n, "0123456789") != "" || !strings.HasPrefix(display, ":") {
		return "", fmt.Errorf("invalid display %q (want :N)", display)
	}
	return filepath.Join(x11SocketDir, "X"+n), nil
}

// startXvfb runs Xvfb on the configured display and waits until its
// socket accepts clients, so Chrome never starts against a missing display.
func (m *Manager) startXvfb() error {
	if m.xvfb != nil {
		return nil
	}
	display := m.cfg.XvfbDisplay
	sock, err := displaySocket(display)
	if err != nil {
		return err
	}

	// Receipt screenshots are full-page, so the screen only bounds the viewport.
	cmd := exec.Command("Xvfb", display, "-screen", "0", "1920x1080x24", "-ac", "-nolisten", "tcp")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start xvfb: %w", err)
	}
	m.xvfb = cmd

	if err := waitForFile(sock, xvfbReadyTimeout); err != nil {
		m.stopXvfb()
		return fmt.Errorf("xvfb %s not ready: %w", display, err)
	}
	m.cfg.Logger.Info("browser: headful display ready", "display", display, "pid", cmd.Process.Pid)
	return nil
}

func (m *Manager) stopXvfb() {
	if m.xvfb == nil {
		return
	}
	pid := 0
	if p := m.xvfb.Process; p != nil {
		pid = p.Pid
		p.Kill()
		m.xvfb.Wait()
	}
	m.cfg.Logger.Info("browser: headful display stopped", "display", m.cfg.XvfbDisplay, "pid", pid)
	m.xvfb = nil
}

func waitForFile(path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s did not appear within %s", path, timeout)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
