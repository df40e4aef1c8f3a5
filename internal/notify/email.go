package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/oszuidwest/zwfm-voiceagent/internal/types"
	"github.com/oszuidwest/zwfm-voiceagent/internal/util"
)

// GraphConfig is the configuration for email notifications.
type GraphConfig = types.GraphConfig

// emailContent renders the subject and plain-text body for an event.
func emailContent(e *Event) (subject, body string) {
	subject = fmt.Sprintf("%s %s - %s", e.severity(), e.title(), e.Station)

	var b strings.Builder
	b.WriteString(e.Message)
	b.WriteString(".\n\n")
	if e.SessionID != "" {
		fmt.Fprintf(&b, "Session:    %s\n", e.SessionID)
		fmt.Fprintf(&b, "Reconnects: %d\n", e.Reconnects)
	}
	if e.Error != "" {
		fmt.Fprintf(&b, "Error:      %s\n", e.Error)
	}
	if e.Threshold != 0 || e.SoilMoisture != 0 {
		fmt.Fprintf(&b, "Soil:       %.1f%%\n", e.SoilMoisture)
		if e.Threshold != 0 {
			fmt.Fprintf(&b, "Threshold:  %.1f%%\n", e.Threshold)
		}
	}
	fmt.Fprintf(&b, "Time:       %s", util.HumanTime())
	return subject, b.String()
}

// sendEmailWithClient delivers an event through an existing Graph client.
func sendEmailWithClient(ctx context.Context, client *GraphClient, cfg *GraphConfig, e *Event) error {
	recipients := ParseRecipients(cfg.Recipients)
	if len(recipients) == 0 {
		return fmt.Errorf("no valid recipients")
	}

	subject, body := emailContent(e)
	if err := client.SendMail(ctx, recipients, subject, body); err != nil {
		return util.WrapError("send email via Graph", err)
	}
	return nil
}

// SendTestEmail sends a test email to verify email configuration.
func SendTestEmail(ctx context.Context, cfg *GraphConfig, stationName string) error {
	if err := ValidateConfig(cfg); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	client, err := NewGraphClient(cfg)
	if err != nil {
		return fmt.Errorf("create Graph client: %w", err)
	}

	if err := client.ValidateAuth(ctx); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	return sendEmailWithClient(ctx, client, cfg, &Event{
		Name:    EventTest,
		Station: stationName,
		Message: "Test email from " + AppName + ". Microsoft Graph configuration is working correctly",
	})
}
