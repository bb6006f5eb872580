package mailer

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"
)

// SESConfig holds the addressing for digest emails. FromEmail and
// ToEmail are required; a mailer with either missing is a configuration
// error caught at construction, before any send is attempted.
type SESConfig struct {
	Region    string
	FromEmail string
	FromName  string
	ToEmail   string
}

// SESMailer sends plain-text email through AWS SES.
type SESMailer struct {
	client *ses.Client
	cfg    SESConfig
	logger *zap.Logger
}

func NewSESMailer(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESMailer, error) {
	if cfg.FromEmail == "" || cfg.ToEmail == "" {
		return nil, fmt.Errorf("missing mailer configuration (from=%q, to=%q)", cfg.FromEmail, cfg.ToEmail)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return &SESMailer{
		client: ses.NewFromConfig(awsCfg),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Send delivers one plain-text email and returns the transport status.
// SES reports failures as API errors rather than status codes, so a
// failed call maps to 502 and the wrapped error carries the cause.
func (m *SESMailer) Send(ctx context.Context, subject, body string) (int, error) {
	source := m.cfg.FromEmail
	if m.cfg.FromName != "" {
		source = fmt.Sprintf("%s <%s>", m.cfg.FromName, m.cfg.FromEmail)
	}

	input := &ses.SendEmailInput{
		Source: aws.String(source),
		Destination: &types.Destination{
			ToAddresses: []string{m.cfg.ToEmail},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := m.client.SendEmail(ctx, input)
	if err != nil {
		return http.StatusBadGateway, fmt.Errorf("ses send failed: %w", err)
	}

	m.logger.Info("email sent via SES",
		zap.String("to", m.cfg.ToEmail),
		zap.String("subject", subject),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return http.StatusAccepted, nil
}
