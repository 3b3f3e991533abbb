// Package whatsapp – health.go implements proactive health monitoring for
// the WhatsApp connection to detect and recover from silent disconnects.
package whatsapp

import (
	"context"
	"time"

	"go.mau.fi/whatsmeow/types"
)

// HealthMonitorConfig configures proactive connection health monitoring.
type HealthMonitorConfig struct {
	// Enabled turns on proactive health monitoring.
	Enabled bool `yaml:"enabled"`

	// CheckInterval is how often to perform health checks.
	// Default: 30s
	CheckInterval time.Duration `yaml:"check_interval"`

	// MaxSilentDuration is the maximum time without any activity before
	// a health check is considered failed.
	// Default: 5m
	MaxSilentDuration time.Duration `yaml:"max_silent_duration"`

	// ForceReconnectAfter is the silent duration after which a reconnect is
	// forced even if the client reports connected (half-open sockets).
	// 0 disables it.
	ForceReconnectAfter time.Duration `yaml:"force_reconnect_after"`

	// PingInterval is how often a presence update is sent to keep the
	// connection active. 0 disables it.
	PingInterval time.Duration `yaml:"ping_interval"`
}

// DefaultHealthMonitorConfig returns sensible defaults.
func DefaultHealthMonitorConfig() HealthMonitorConfig {
	return HealthMonitorConfig{
		Enabled:             true,
		CheckInterval:       30 * time.Second,
		MaxSilentDuration:   5 * time.Minute,
		ForceReconnectAfter: 15 * time.Minute,
		PingInterval:        2 * time.Minute,
	}
}

// StartHealthMonitor starts the health check and pinger goroutines.
// They run until ctx is cancelled.
func (w *WhatsApp) StartHealthMonitor(ctx context.Context, cfg HealthMonitorConfig) {
	if !cfg.Enabled {
		return
	}

	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.MaxSilentDuration <= 0 {
		cfg.MaxSilentDuration = 5 * time.Minute
	}

	go func() {
		ticker := time.NewTicker(cfg.CheckInterval)
		defer ticker.Stop()

		w.logger.Info("whatsapp health monitor started",
			"check_interval", cfg.CheckInterval,
			"max_silent", cfg.MaxSilentDuration,
			"force_reconnect_after", cfg.ForceReconnectAfter)

		for {
			select {
			case <-ctx.Done():
				w.logger.Debug("whatsapp health monitor stopped")
				return
			case <-ticker.C:
				w.performHealthCheck(cfg)
			}
		}
	}()

	if cfg.PingInterval > 0 {
		go w.runPinger(ctx, cfg.PingInterval)
	}
}

// runPinger sends periodic presence updates to keep the connection alive.
func (w *WhatsApp) runPinger(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.getState() != StateConnected {
				continue
			}
			if err := w.client.SendPresence(ctx, types.PresenceAvailable); err != nil {
				w.logger.Warn("whatsapp: pinger failed to send presence", "error", err)
				continue
			}
			w.UpdateLastMsgTime()
		}
	}
}

// performHealthCheck checks connection health and reconnects if needed.
// It reports whether a reconnect was triggered.
func (w *WhatsApp) performHealthCheck(cfg HealthMonitorConfig) bool {
	if w.getState() != StateConnected {
		return false
	}

	silent := time.Since(w.getLastMsgTime())
	if silent <= cfg.MaxSilentDuration {
		return false
	}

	w.logger.Warn("whatsapp: connection silent for too long",
		"silent_duration", silent,
		"max_silent", cfg.MaxSilentDuration)

	if w.client != nil && !w.client.IsConnected() {
		w.logger.Error("whatsapp: client reports disconnected but state is connected")
		w.forceReconnect("health_check")
		return true
	}

	if cfg.ForceReconnectAfter > 0 && silent > cfg.ForceReconnectAfter {
		w.logger.Warn("whatsapp: forcing preventive reconnection",
			"silent_duration", silent,
			"force_reconnect_after", cfg.ForceReconnectAfter)
		w.forceReconnect("silent_connection")
		return true
	}

	return false
}

// getLastMsgTime returns the time of the last message or activity.
func (w *WhatsApp) getLastMsgTime() time.Time {
	if v := w.lastMsg.Load(); v != nil {
		return v.(time.Time)
	}
	return time.Time{}
}
