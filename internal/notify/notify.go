// Package notify delivers desktop notifications for session events.
package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Send shows a desktop notification. Failures are expected on hosts
// without a notification service; callers treat them as best effort.
func Send(title, message string) error {
	name, args, err := command(runtime.GOOS, title, message)
	if err != nil {
		return err
	}
	cmd := exec.Command(name, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// command builds the notifier invocation for the platform: osascript
// with sound on macOS, notify-send on desktop Linux.
func command(goos, title, message string) (string, []string, error) {
	switch goos {
	case "darwin":
		script := fmt.Sprintf(
			`display notification %q with title %q sound name "default"`,
			escapeAppleScript(message), escapeAppleScript(title),
		)
		return "osascript", []string{"-e", script}, nil
	case "linux":
		return "notify-send", []string{"--app-name=baton", title, message}, nil
	default:
		return "", nil, fmt.Errorf("desktop notifications not supported on %s", goos)
	}
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
