package infrastructure

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"unicode/utf8"

	"github.com/yourusername/offline-downloads-go/internal/domain"
	"go.uber.org/zap"
)

// NotificationService sends desktop notifications for download outcomes
type NotificationService struct {
	config *domain.NotificationConfig
	logger *zap.Logger
	run    func(name string, args ...string) error

	mu     sync.Mutex
	states map[string]domain.DownloadState
}

// NewNotificationService creates a new notification service
func NewNotificationService(config *domain.NotificationConfig, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		config: config,
		logger: logger,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
		states: make(map[string]domain.DownloadState),
	}
}

// Seed records the current state of items so rows that are already complete
// do not notify again
func (n *NotificationService) Seed(items []domain.DownloadItem) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := range items {
		n.states[items[i].URI()] = items[i].OfflineData.State
	}
}

// Run handles bus events until ctx is done or events is closed. Notification
// commands run on this goroutine, never on the publisher's.
func (n *NotificationService) Run(ctx context.Context, events <-chan domain.BusEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			n.HandleEvent(ev)
		}
	}
}

// Send sends a notification
func (n *NotificationService) Send(title, message string) error {
	if !n.config.Enabled {
		n.logger.Debug("Notifications disabled, skipping",
			zap.String("title", title),
			zap.String("message", message))
		return nil
	}

	var name string
	var args []string
	switch n.config.Method {
	case "osascript":
		script := fmt.Sprintf(`display notification %q with title %q`, message, title)
		if n.config.Sound {
			script += ` sound name "default"`
		}
		name, args = "osascript", []string{"-e", script}
	case "notify-send":
		name, args = "notify-send", []string{title, message}
	default:
		n.logger.Warn("Unknown notification method", zap.String("method", n.config.Method))
		return nil
	}

	if err := n.run(name, args...); err != nil {
		n.logger.Error("Failed to send notification",
			zap.String("method", n.config.Method),
			zap.Error(err))
		return err
	}

	n.logger.Debug("Notification sent",
		zap.String("title", title),
		zap.String("message", message))
	return nil
}

// HandleEvent notifies when a download becomes complete and when one fails
func (n *NotificationService) HandleEvent(ev domain.BusEvent) {
	switch payload := ev.Payload.(type) {
	case domain.OfflineDataPayload:
		if n.transition(payload.Item) {
			n.NotifyDownloadCompleted(payload.Item)
		}
	case domain.DownloadErrorPayload:
		if payload.Item != nil {
			n.transition(*payload.Item)
		}
		n.NotifyDownloadFailed(payload)
	}
}

// transition records the state of item and reports whether it just moved
// into COMPLETED
func (n *NotificationService) transition(item domain.DownloadItem) bool {
	state := item.OfflineData.State
	n.mu.Lock()
	defer n.mu.Unlock()
	prev, seen := n.states[item.URI()]
	n.states[item.URI()] = state
	return state == domain.StateCompleted && (!seen || prev != domain.StateCompleted)
}

// NotifyDownloadCompleted sends notification when download completes
func (n *NotificationService) NotifyDownloadCompleted(item domain.DownloadItem) {
	n.Send("Download Completed", fmt.Sprintf("Available offline: %s", displayName(item.OfflineData.Source)))
}

// NotifyDownloadFailed sends notification when download fails
func (n *NotificationService) NotifyDownloadFailed(failure domain.DownloadErrorPayload) {
	name := truncateString(failure.ID, 40)
	if failure.Item != nil {
		name = displayName(failure.Item.OfflineData.Source)
	}
	n.Send("Download Failed", fmt.Sprintf("Failed: %s", name))
}

func displayName(source domain.Source) string {
	if source.Title != "" {
		return truncateString(source.Title, 40)
	}
	return truncateString(source.URI, 40)
}

// truncateString keeps the first maxLen runes of s
func truncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen]) + "..."
}
