package security

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// LogNotifier writes alerts to the structured log. It is the fallback when
// no mail recipients are configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, alert Alert) error {
	n.logger.LogAttrs(ctx, slog.LevelError, "Security Alert: "+alert.Title(),
		slog.String("category", alert.Category),
		slog.Int64("count", alert.Count),
		slog.Int("threshold", alert.Threshold),
		slog.String("ip", alert.IP),
		slog.String("user", alert.User),
		slog.Time("triggered_at", alert.TriggeredAt),
	)
	return nil
}

// SESAPI is the subset of the SES client used for alert mail.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESNotifier emails alerts to administrators through AWS SES.
type SESNotifier struct {
	client     SESAPI
	from       string
	recipients []string
	logger     *slog.Logger
}

// NewSESNotifier loads the default AWS credential chain for region.
func NewSESNotifier(ctx context.Context, region, from string, recipients []string, logger *slog.Logger) (*SESNotifier, error) {
	if from == "" || len(recipients) == 0 {
		return nil, errors.New("ses notifier requires a sender and at least one recipient")
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESNotifierWithClient(ses.NewFromConfig(cfg), from, recipients, logger), nil
}

func NewSESNotifierWithClient(client SESAPI, from string, recipients []string, logger *slog.Logger) *SESNotifier {
	return &SESNotifier{client: client, from: from, recipients: recipients, logger: logger}
}

func (n *SESNotifier) Notify(ctx context.Context, alert Alert) error {
	subject := "Security Alert: " + alert.Title()
	text := alertText(alert)

	input := &ses.SendEmailInput{
		Source: aws.String(n.from),
		Destination: &types.Destination{
			ToAddresses: n.recipients,
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(text)},
				Html: &types.Content{Data: aws.String("<pre>" + html.EscapeString(text) + "</pre>")},
			},
		},
	}

	result, err := n.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}

	messageID := ""
	if result != nil && result.MessageId != nil {
		messageID = *result.MessageId
	}
	n.logger.Info("security alert email sent",
		slog.String("category", alert.Category),
		slog.String("message_id", messageID),
	)
	return nil
}

func alertText(a Alert) string {
	ip, user := a.IP, a.User
	if ip == "" {
		ip = "Unknown"
	}
	if user == "" {
		user = "Unknown"
	}
	return fmt.Sprintf(`Security alert triggered

Event type: %s
Count: %d (threshold %d per hour)
Time: %s
IP address: %s
User: %s

Please review the security dashboard.
`, a.Category, a.Count, a.Threshold, a.TriggeredAt.Format(time.RFC3339), ip, user)
}
