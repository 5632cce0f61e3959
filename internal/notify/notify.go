// Package notify raises desktop notifications when a solve finishes.
package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/msageha/psstudio/internal/events"
	"github.com/msageha/psstudio/internal/logging"
)

// SendFunc delivers one notification.
type SendFunc func(title, message string) error

// Send raises a notification with the platform notifier: osascript on macOS and
// notify-send elsewhere.
func Send(title, message string) error {
	if runtime.GOOS == "darwin" {
		return sendAppleScript(title, message)
	}
	path, err := exec.LookPath("notify-send")
	if err != nil {
		return fmt.Errorf("no notifier available: %w", err)
	}
	if out, err := exec.Command(path, "--app-name=psstudio", title, message).CombinedOutput(); err != nil {
		return fmt.Errorf("notify-send: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func sendAppleScript(title, message string) error {
	script := fmt.Sprintf(
		`display notification "%s" with title "%s" sound name "default"`,
		escapeAppleScript(message), escapeAppleScript(title),
	)
	if out, err := exec.Command("osascript", "-e", script).CombinedOutput(); err != nil {
		return fmt.Errorf("osascript: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// Attach notifies through send for every finished solve on bus. Failures to notify are
// logged and otherwise ignored. The returned function detaches.
func Attach(bus *events.Bus, send SendFunc, log *logging.Logger) func() {
	if log == nil {
		log = logging.Discard()
	}
	return bus.Subscribe(func(ev events.Event) {
		title, message := Message(ev)
		if title == "" {
			return
		}
		if err := send(title, message); err != nil {
			log.Warn("desktop notification failed: %v", err)
		}
	}, events.EventSolveCompleted, events.EventSolveFailed)
}

// Message renders the notification for a solve event. Other events render empty.
func Message(ev events.Event) (title, message string) {
	id, _ := ev.Data["request_id"].(string)
	switch ev.Type {
	case events.EventSolveCompleted:
		message = "Solution received"
		if ms, ok := ev.Data["duration_ms"].(int64); ok {
			message = fmt.Sprintf("Solution received in %.1fs", float64(ms)/1000)
		}
		return "psstudio: solve " + id + " finished", message
	case events.EventSolveFailed:
		reason, _ := ev.Data["error"].(string)
		if reason == "" {
			reason = "unknown error"
		}
		return "psstudio: solve " + id + " failed", reason
	default:
		return "", ""
	}
}
