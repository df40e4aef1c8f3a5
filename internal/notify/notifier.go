// Package notify delivers session and field alerts to webhooks, a JSONL log,
// Microsoft Graph email and Zabbix.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-voiceagent/internal/config"
	"github.com/oszuidwest/zwfm-voiceagent/internal/sensors"
	"github.com/oszuidwest/zwfm-voiceagent/internal/types"
	"github.com/oszuidwest/zwfm-voiceagent/internal/util"
)

// channel identifies one notification channel.
type channel int

const (
	channelWebhook channel = iota
	channelEmail
	channelLog
	channelZabbix
	channelCount
)

var channelNames = [channelCount]string{"webhook", "email", "log", "zabbix"}

func (c channel) String() string {
	return channelNames[c]
}

// Notifier manages notifications for session outages and soil alerts.
// A session outage is reported once per channel, and only channels that
// reported the outage report its end.
type Notifier struct {
	cfg *config.Config

	// mu protects the notification state fields below
	mu sync.Mutex

	// Channels that reported the current session outage
	sent [channelCount]bool

	// Cached Graph client for email notifications
	graphClient *GraphClient

	wg sync.WaitGroup
}

// NewNotifier returns a Notifier configured with the given config.
func NewNotifier(cfg *config.Config) *Notifier {
	return &Notifier{cfg: cfg}
}

// InvalidateGraphClient clears the cached Graph client.
// Call this when Graph configuration changes.
func (n *Notifier) InvalidateGraphClient() {
	n.mu.Lock()
	n.graphClient = nil
	n.mu.Unlock()
}

// Wait blocks until all notifications in flight were delivered or failed.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// SessionStateChanged reacts to a live session state transition. Entering
// reconnecting reports an outage, becoming ready again reports recovery and
// a disconnect ends the outage silently.
func (n *Notifier) SessionStateChanged(state string, st types.SessionStatus) {
	switch state {
	case "reconnecting":
		n.sessionLost(st)
	case "ready":
		n.sessionRestored(st)
	case "disconnected":
		n.Reset()
	}
}

// SoilAlert delivers a soil moisture alert to every configured channel.
func (n *Notifier) SoilAlert(a sensors.Alert) {
	cfg := n.cfg.Snapshot()
	e := AlertEvent(cfg.StationName, a)
	for ch := range channelCount {
		if enabled(&cfg, ch) {
			n.dispatch(cfg, ch, e)
		}
	}
}

// Reset clears the outage state.
func (n *Notifier) Reset() {
	n.mu.Lock()
	n.sent = [channelCount]bool{}
	n.mu.Unlock()
}

// sessionLost reports an outage on each configured channel that has not
// reported it yet.
func (n *Notifier) sessionLost(st types.SessionStatus) {
	cfg := n.cfg.Snapshot()
	e := SessionEvent(EventSessionLost, cfg.StationName, st)

	for ch := range channelCount {
		n.mu.Lock()
		shouldSend := !n.sent[ch] && enabled(&cfg, ch)
		if shouldSend {
			n.sent[ch] = true
		}
		n.mu.Unlock()
		if shouldSend {
			n.dispatch(cfg, ch, e)
		}
	}
}

// sessionRestored reports recovery on the channels that reported the outage.
func (n *Notifier) sessionRestored(st types.SessionStatus) {
	cfg := n.cfg.Snapshot()
	e := SessionEvent(EventSessionRestored, cfg.StationName, st)

	n.mu.Lock()
	sent := n.sent
	n.sent = [channelCount]bool{}
	n.mu.Unlock()

	for ch := range channelCount {
		if sent[ch] {
			n.dispatch(cfg, ch, e)
		}
	}
}

// dispatch delivers e on ch in the background.
//
//nolint:gocritic // hugeParam: copy is acceptable for infrequent notification events
func (n *Notifier) dispatch(cfg config.Snapshot, ch channel, e Event) {
	n.wg.Go(func() {
		util.LogNotifyResult(func() error { return n.deliver(&cfg, ch, &e) }, e.Name+" "+ch.String())
	})
}

// deliver sends e on ch and returns the channel's error.
func (n *Notifier) deliver(cfg *config.Snapshot, ch channel, e *Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	switch ch {
	case channelWebhook:
		return SendWebhook(ctx, cfg.WebhookURL, e)
	case channelLog:
		return LogEvent(cfg.LogPath, e)
	case channelZabbix:
		return SendZabbix(BuildZabbixTarget(cfg), e)
	case channelEmail:
		graphCfg := BuildGraphConfig(cfg)
		client, err := n.getOrCreateGraphClient(graphCfg)
		if err != nil {
			return util.WrapError("create Graph client", err)
		}
		return sendEmailWithClient(ctx, client, graphCfg, e)
	default:
		return fmt.Errorf("unknown notification channel %d", ch)
	}
}

// getOrCreateGraphClient returns the cached Graph client, creating it if needed.
func (n *Notifier) getOrCreateGraphClient(cfg *GraphConfig) (*GraphClient, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.graphClient != nil {
		return n.graphClient, nil
	}

	client, err := NewGraphClient(cfg)
	if err != nil {
		return nil, err
	}
	n.graphClient = client
	return client, nil
}

// TriggerTestWebhook sends a test webhook to verify configuration.
func (n *Notifier) TriggerTestWebhook(ctx context.Context) error {
	cfg := n.cfg.Snapshot()
	return SendTestWebhook(ctx, cfg.WebhookURL, cfg.StationName)
}

// TriggerTestLog writes a test entry to verify log file configuration.
func (n *Notifier) TriggerTestLog() error {
	return WriteTestLog(n.cfg.LogPath())
}

// TriggerTestEmail sends a test email to verify configuration.
func (n *Notifier) TriggerTestEmail(ctx context.Context) error {
	cfg := n.cfg.Snapshot()
	return SendTestEmail(ctx, BuildGraphConfig(&cfg), cfg.StationName)
}

// TriggerTestZabbix sends a test value to verify Zabbix configuration.
func (n *Notifier) TriggerTestZabbix() error {
	cfg := n.cfg.Snapshot()
	return SendTestZabbix(BuildZabbixTarget(&cfg))
}

// enabled reports whether ch is configured in cfg.
func enabled(cfg *config.Snapshot, ch channel) bool {
	switch ch {
	case channelWebhook:
		return cfg.HasWebhook()
	case channelEmail:
		return cfg.HasGraph()
	case channelLog:
		return cfg.HasLogPath()
	case channelZabbix:
		return cfg.HasZabbix()
	default:
		return false
	}
}

// BuildGraphConfig creates a GraphConfig from the config snapshot.
func BuildGraphConfig(cfg *config.Snapshot) *GraphConfig {
	return &GraphConfig{
		TenantID:     cfg.GraphTenantID,
		ClientID:     cfg.GraphClientID,
		ClientSecret: cfg.GraphClientSecret,
		FromAddress:  cfg.GraphFromAddress,
		Recipients:   cfg.GraphRecipients,
	}
}

// BuildZabbixTarget creates a ZabbixTarget from the config snapshot.
func BuildZabbixTarget(cfg *config.Snapshot) ZabbixTarget {
	return ZabbixTarget{
		Server:  cfg.ZabbixServer,
		Port:    cfg.ZabbixPort,
		Host:    cfg.ZabbixHost,
		Key:     cfg.ZabbixKey,
		Timeout: time.Duration(cfg.ZabbixTimeoutMs) * time.Millisecond,
	}
}
