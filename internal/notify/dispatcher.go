// internal/notify/dispatcher.go
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"assignment-engine/internal/common/config"
	commonerrors "assignment-engine/internal/common/errors"
	"assignment-engine/internal/common/logger"
	"assignment-engine/internal/common/metrics"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/google/uuid"
)

// SESService and SNSService mirror the AWS clients for mocking.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Recipients resolves the contact addresses for an event payload. The
// surrounding platform supplies this; tests supply fakes.
type Recipients interface {
	Resolve(ctx context.Context, eventKind string, payload map[string]interface{}) (email, phone string, err error)
}

var templates = map[string]struct {
	Subject string
	Body    string
}{
	"consultant_assigned": {
		Subject: "New application assigned: {applicationId}",
		Body:    "Application {applicationId} in sector {sectorId} has been assigned to you.",
	},
	"consultant_reassigned": {
		Subject: "Application reassigned: {applicationId}",
		Body:    "Application {applicationId} has been reassigned to consultant {consultantId}.",
	},
	"consultant_released": {
		Subject: "Application released: {applicationId}",
		Body:    "Your assignment on application {applicationId} has been released.",
	},
	"application_status_changed": {
		Subject: "Application status update: {applicationId}",
		Body:    "Application {applicationId} moved from {from} to {to}.",
	},
}

// Dispatcher delivers engine events over email and SMS. Delivery is
// fire-and-forget: every failure is logged and counted, none is propagated
// to the calling operation.
type Dispatcher struct {
	cfg        config.NotificationConfig
	sesClient  SESService
	snsClient  SNSService
	recipients Recipients
	logger     logger.Logger
}

func NewDispatcher(ctx context.Context, cfg config.NotificationConfig, recipients Recipients, log logger.Logger) (*Dispatcher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return &Dispatcher{
		cfg:        cfg,
		sesClient:  ses.NewFromConfig(awsCfg),
		snsClient:  sns.NewFromConfig(awsCfg),
		recipients: recipients,
		logger:     log.WithFields(map[string]interface{}{"component": "notify"}),
	}, nil
}

// NewDispatcherWithClients injects prebuilt clients, used in tests.
func NewDispatcherWithClients(cfg config.NotificationConfig, sesClient SESService, snsClient SNSService, recipients Recipients, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:        cfg,
		sesClient:  sesClient,
		snsClient:  snsClient,
		recipients: recipients,
		logger:     log.WithFields(map[string]interface{}{"component": "notify"}),
	}
}

// Notify renders and delivers the event. Always returns; never fails the
// caller.
func (d *Dispatcher) Notify(ctx context.Context, eventKind string, payload map[string]interface{}) {
	notificationID := uuid.New().String()

	template, exists := templates[eventKind]
	if !exists {
		d.logger.Warn("unknown notification event kind", map[string]interface{}{
			"eventKind": eventKind,
		})
		return
	}

	email, phone, err := d.recipients.Resolve(ctx, eventKind, payload)
	if err != nil {
		d.logger.Warn("recipient resolution failed", map[string]interface{}{
			"notificationId": notificationID,
			"eventKind":      eventKind,
			"error":          err,
		})
		metrics.NotificationFailures.WithLabelValues(eventKind).Inc()
		return
	}

	subject := renderTemplate(template.Subject, payload)
	body := renderTemplate(template.Body, payload)

	if d.cfg.Email.Enabled && email != "" {
		if err := d.sendEmail(ctx, email, subject, body); err != nil {
			d.logger.Error("email delivery failed", map[string]interface{}{
				"notificationId": notificationID,
				"eventKind":      eventKind,
				"error":          commonerrors.NewNotificationSendFailedError(eventKind, err),
			})
			metrics.NotificationFailures.WithLabelValues(eventKind).Inc()
		}
	}

	if d.cfg.SMS.Enabled && phone != "" {
		if err := d.sendSMS(ctx, phone, body); err != nil {
			d.logger.Error("sms delivery failed", map[string]interface{}{
				"notificationId": notificationID,
				"eventKind":      eventKind,
				"error":          commonerrors.NewNotificationSendFailedError(eventKind, err),
			})
			metrics.NotificationFailures.WithLabelValues(eventKind).Inc()
		}
	}
}

func (d *Dispatcher) sendEmail(ctx context.Context, to, subject, body string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := d.sesClient.SendEmail(ctx, &ses.SendEmailInput{
		Source: aws.String(d.cfg.Email.FromEmail),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
			},
		},
	})
	return err
}

func (d *Dispatcher) sendSMS(ctx context.Context, phone, body string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := d.snsClient.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(phone),
		Message:     aws.String(body),
	})
	return err
}

// renderTemplate substitutes {key} placeholders from the payload.
func renderTemplate(template string, data map[string]interface{}) string {
	out := template
	for k, v := range data {
		out = strings.ReplaceAll(out, "{"+k+"}", fmt.Sprintf("%v", v))
	}
	return out
}
