package daemon

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	godbus "github.com/godbus/dbus/v5"
	"github.com/jonboulle/clockwork"
)

// AlertLevel indicates the severity of an operator alert.
type AlertLevel int

const (
	// AlertInfo is for informational messages (low urgency).
	AlertInfo AlertLevel = iota
	// AlertWarning is for recoverable problems (normal urgency).
	AlertWarning
	// AlertError is for missed announcements (critical urgency).
	AlertError
)

func (l AlertLevel) urgency() byte {
	switch l {
	case AlertInfo:
		return 0
	case AlertError:
		return 2
	default:
		return 1
	}
}

func (l AlertLevel) icon() string {
	switch l {
	case AlertInfo:
		return "dialog-information"
	case AlertError:
		return "dialog-error"
	default:
		return "dialog-warning"
	}
}

// Alert is one operator notification.
type Alert struct {
	Summary string
	Body    string
	Level   AlertLevel
}

// AlertSender delivers an alert.
type AlertSender func(Alert) error

// Alerter raises desktop notifications about problems the operator must act
// on. The same key is not repeated within the minimum interval.
type Alerter struct {
	mu     sync.Mutex
	logger *slog.Logger
	clock  clockwork.Clock
	send   AlertSender

	lastSent    map[string]time.Time
	minInterval time.Duration
	enabled     bool
}

// NewAlerter creates an Alerter delivering through send.
func NewAlerter(send AlertSender, minInterval time.Duration, clock clockwork.Clock, logger *slog.Logger) *Alerter {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Alerter{
		logger:      logger,
		clock:       clock,
		send:        send,
		lastSent:    make(map[string]time.Time),
		minInterval: minInterval,
		enabled:     send != nil,
	}
}

// SetEnabled enables or disables alerts.
func (a *Alerter) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled && a.send != nil
}

// Notify sends an alert unless the key was used within the minimum interval.
func (a *Alerter) Notify(key string, alert Alert) bool {
	a.mu.Lock()
	if !a.enabled {
		a.mu.Unlock()
		return false
	}
	now := a.clock.Now()
	if last, ok := a.lastSent[key]; ok && now.Sub(last) < a.minInterval {
		a.mu.Unlock()
		a.logger.Debug("alert rate-limited", "key", key, "summary", alert.Summary)
		return false
	}
	a.lastSent[key] = now
	send := a.send
	a.mu.Unlock()

	if err := send(alert); err != nil {
		a.logger.Debug("failed to send desktop alert", "summary", alert.Summary, "error", err)
		return false
	}
	return true
}

// CueFailed reports an announcement that could not be played.
func (a *Alerter) CueFailed(subject, label, reason string) bool {
	return a.Notify("cue-failed:"+subject+":"+label, Alert{
		Summary: "Announcement failed",
		Body:    fmt.Sprintf("%s: %s could not be played (%s).", subject, label, reason),
		Level:   AlertError,
	})
}

// NetworkChanged reports a reachability transition.
func (a *Alerter) NetworkChanged(online bool) bool {
	if online {
		return a.Notify("network", Alert{Summary: "Network restored", Body: "Audio is loaded from the server again.", Level: AlertInfo})
	}
	return a.Notify("network", Alert{Summary: "Network offline", Body: "Cached audio will be used for announcements.", Level: AlertWarning})
}

// ConfigError reports a configuration reload that was rejected.
func (a *Alerter) ConfigError(err error) bool {
	return a.Notify("config-error", Alert{
		Summary: "Configuration error",
		Body:    "Failed to reload configuration: " + err.Error(),
		Level:   AlertWarning,
	})
}

const (
	notificationsName      = "org.freedesktop.Notifications"
	notificationsPath      = godbus.ObjectPath("/org/freedesktop/Notifications")
	notificationsInterface = "org.freedesktop.Notifications"
)

// DesktopSender sends alerts to the session's notification daemon.
// The session bus is connected on first use.
type DesktopSender struct {
	mu   sync.Mutex
	conn *godbus.Conn
}

// Send implements AlertSender.
func (s *DesktopSender) Send(alert Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		conn, err := godbus.ConnectSessionBus()
		if err != nil {
			return fmt.Errorf("failed to connect to session bus: %w", err)
		}
		s.conn = conn
	}

	hints := map[string]godbus.Variant{
		"urgency":   godbus.MakeVariant(alert.Level.urgency()),
		"category":  godbus.MakeVariant("device"),
		"transient": godbus.MakeVariant(alert.Level != AlertError),
	}
	obj := s.conn.Object(notificationsName, notificationsPath)
	call := obj.Call(notificationsInterface+".Notify", 0,
		"examcast", uint32(0), alert.Level.icon(), alert.Summary, alert.Body,
		[]string{}, hints, int32(-1))
	if call.Err != nil {
		return fmt.Errorf("notify failed: %w", call.Err)
	}
	return nil
}

// Close releases the bus connection.
func (s *DesktopSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
