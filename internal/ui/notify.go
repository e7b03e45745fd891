package ui

import (
	"os/exec"
	"runtime"
	"strings"
)

// Notify sends a desktop notification through osascript on macOS or
// notify-send elsewhere. Fails silently if neither is available.
func Notify(title, message string) {
	switch runtime.GOOS {
	case "darwin":
		script := `display notification "` + escapeAppleScript(message) + `" with title "` + escapeAppleScript(title) + `"`
		_ = exec.Command("osascript", "-e", script).Run()
	case "linux", "freebsd":
		if bin, err := exec.LookPath("notify-send"); err == nil {
			_ = exec.Command(bin, "--app-name=modelstamp", title, message).Run()
		}
	}
}

func escapeAppleScript(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
