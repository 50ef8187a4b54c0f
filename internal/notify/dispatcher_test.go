// internal/notify/dispatcher_test.go
package notify

import (
	"context"
	"errors"
	"testing"

	"assignment-engine/internal/common/config"
	commonerrors "assignment-engine/internal/common/errors"
	"assignment-engine/internal/common/logger"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
)

type testLogger struct {
	t *testing.T
}

func (tl *testLogger) Debug(msg string, fields map[string]interface{}) {
	tl.t.Logf("DEBUG: %s %v", msg, fields)
}

func (tl *testLogger) Info(msg string, fields map[string]interface{}) {
	tl.t.Logf("INFO: %s %v", msg, fields)
}

func (tl *testLogger) Warn(msg string, fields map[string]interface{}) {
	tl.t.Logf("WARN: %s %v", msg, fields)
}

func (tl *testLogger) Error(msg string, fields map[string]interface{}) {
	tl.t.Logf("ERROR: %s %v", msg, fields)
}

func (tl *testLogger) WithFields(fields map[string]interface{}) logger.Logger {
	return tl
}

func (tl *testLogger) WithError(err error) logger.Logger {
	return tl
}

func newTestLogger(t *testing.T) logger.Logger {
	return &testLogger{t: t}
}

// recordingLogger captures the error field of Error calls.
type recordingLogger struct {
	t    *testing.T
	errs []error
}

func (rl *recordingLogger) Debug(msg string, fields map[string]interface{}) {
	rl.t.Logf("DEBUG: %s %v", msg, fields)
}

func (rl *recordingLogger) Info(msg string, fields map[string]interface{}) {
	rl.t.Logf("INFO: %s %v", msg, fields)
}

func (rl *recordingLogger) Warn(msg string, fields map[string]interface{}) {
	rl.t.Logf("WARN: %s %v", msg, fields)
}

func (rl *recordingLogger) Error(msg string, fields map[string]interface{}) {
	if err, ok := fields["error"].(error); ok {
		rl.errs = append(rl.errs, err)
	}
	rl.t.Logf("ERROR: %s %v", msg, fields)
}

func (rl *recordingLogger) WithFields(fields map[string]interface{}) logger.Logger {
	return rl
}

func (rl *recordingLogger) WithError(err error) logger.Logger {
	return rl
}

type mockSES struct {
	inputs []*ses.SendEmailInput
	err    error
}

func (m *mockSES) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.err != nil {
		return nil, m.err
	}
	return &ses.SendEmailOutput{}, nil
}

type mockSNS struct {
	inputs []*sns.PublishInput
	err    error
}

func (m *mockSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.err != nil {
		return nil, m.err
	}
	return &sns.PublishOutput{}, nil
}

type staticRecipients struct {
	email string
	phone string
	err   error
}

func (s *staticRecipients) Resolve(ctx context.Context, eventKind string, payload map[string]interface{}) (string, string, error) {
	return s.email, s.phone, s.err
}

func testConfig(emailEnabled, smsEnabled bool) config.NotificationConfig {
	cfg := config.NotificationConfig{AWSRegion: "eu-west-1"}
	cfg.Email.Enabled = emailEnabled
	cfg.Email.FromEmail = "noreply@example.com"
	cfg.SMS.Enabled = smsEnabled
	cfg.SMS.SenderID = "ASSIGN"
	return cfg
}

func TestNotify_SendsEmail(t *testing.T) {
	sesMock := &mockSES{}
	snsMock := &mockSNS{}
	recipients := &staticRecipients{email: "alice@example.com"}

	d := NewDispatcherWithClients(testConfig(true, false), sesMock, snsMock, recipients, newTestLogger(t))

	d.Notify(context.Background(), "consultant_assigned", map[string]interface{}{
		"applicationId": "app-1",
		"sectorId":      "sector-1",
	})

	assert.Len(t, sesMock.inputs, 1)
	assert.Empty(t, snsMock.inputs)

	input := sesMock.inputs[0]
	assert.Equal(t, "noreply@example.com", *input.Source)
	assert.Equal(t, []string{"alice@example.com"}, input.Destination.ToAddresses)
	assert.Equal(t, "New application assigned: app-1", *input.Message.Subject.Data)
	assert.Contains(t, *input.Message.Body.Text.Data, "sector-1")
}

func TestNotify_SendsSMS(t *testing.T) {
	sesMock := &mockSES{}
	snsMock := &mockSNS{}
	recipients := &staticRecipients{phone: "+3519123456"}

	d := NewDispatcherWithClients(testConfig(false, true), sesMock, snsMock, recipients, newTestLogger(t))

	d.Notify(context.Background(), "consultant_released", map[string]interface{}{
		"applicationId": "app-1",
	})

	assert.Empty(t, sesMock.inputs)
	assert.Len(t, snsMock.inputs, 1)
	assert.Equal(t, "+3519123456", *snsMock.inputs[0].PhoneNumber)
	assert.Contains(t, *snsMock.inputs[0].Message, "app-1")
}

func TestNotify_DeliveryFailureIsSwallowed(t *testing.T) {
	sesMock := &mockSES{err: errors.New("ses unavailable")}
	recipients := &staticRecipients{email: "alice@example.com"}
	rl := &recordingLogger{t: t}

	d := NewDispatcherWithClients(testConfig(true, false), sesMock, &mockSNS{}, recipients, rl)

	// Must not panic or propagate.
	d.Notify(context.Background(), "consultant_assigned", map[string]interface{}{
		"applicationId": "app-1",
	})

	assert.Len(t, sesMock.inputs, 1)

	// The failure is logged as a retryable notification error.
	assert.Len(t, rl.errs, 1)
	code, ok := commonerrors.CodeOf(rl.errs[0])
	assert.True(t, ok)
	assert.Equal(t, commonerrors.ErrCodeNotificationSendFailed, code)
	assert.True(t, commonerrors.IsRetryable(rl.errs[0]))
}

func TestNotify_RecipientResolutionFailure(t *testing.T) {
	sesMock := &mockSES{}
	recipients := &staticRecipients{err: errors.New("consultant not found")}

	d := NewDispatcherWithClients(testConfig(true, true), sesMock, &mockSNS{}, recipients, newTestLogger(t))

	d.Notify(context.Background(), "consultant_assigned", map[string]interface{}{
		"applicationId": "app-1",
	})

	assert.Empty(t, sesMock.inputs)
}

func TestNotify_UnknownEventKind(t *testing.T) {
	sesMock := &mockSES{}
	recipients := &staticRecipients{email: "alice@example.com"}

	d := NewDispatcherWithClients(testConfig(true, false), sesMock, &mockSNS{}, recipients, newTestLogger(t))

	d.Notify(context.Background(), "unknown_event", map[string]interface{}{})

	assert.Empty(t, sesMock.inputs)
}

func TestNotify_ChannelsDisabled(t *testing.T) {
	sesMock := &mockSES{}
	snsMock := &mockSNS{}
	recipients := &staticRecipients{email: "alice@example.com", phone: "+3519123456"}

	d := NewDispatcherWithClients(testConfig(false, false), sesMock, snsMock, recipients, newTestLogger(t))

	d.Notify(context.Background(), "application_status_changed", map[string]interface{}{
		"applicationId": "app-1",
		"from":          "pending",
		"to":            "under_review",
	})

	assert.Empty(t, sesMock.inputs)
	assert.Empty(t, snsMock.inputs)
}

func TestRenderTemplate(t *testing.T) {
	out := renderTemplate("Application {applicationId} moved from {from} to {to}.",
		map[string]interface{}{
			"applicationId": "app-1",
			"from":          "pending",
			"to":            "under_review",
		})

	assert.Equal(t, "Application app-1 moved from pending to under_review.", out)
}
