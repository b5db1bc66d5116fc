// internal/common/notify/notifier.go
package notify

import (
	"context"
	"fmt"
	"strings"

	awsses "github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"

	"solar-salesops/internal/common/config"
	"solar-salesops/internal/common/logger"
)

// EmailSender abstracts the SES client for tests.
type EmailSender interface {
	SendEmail(ctx context.Context, input *awsses.SendEmailInput) (*awsses.SendEmailOutput, error)
}

// SMSSender abstracts the SNS client for tests.
type SMSSender interface {
	Publish(ctx context.Context, input *awssns.PublishInput) (*awssns.PublishOutput, error)
}

// Notifier sends submission decision notices to the deal owner. Delivery is
// best effort: a failed notice never fails the decision that triggered it.
type Notifier struct {
	cfg    config.NotificationConfig
	email  EmailSender
	sms    SMSSender
	logger logger.Logger
}

func NewNotifier(cfg config.NotificationConfig, email EmailSender, sms SMSSender, log logger.Logger) *Notifier {
	return &Notifier{
		cfg:    cfg,
		email:  email,
		sms:    sms,
		logger: log.WithFields(map[string]interface{}{"subsystem": "notify"}),
	}
}

// SubmissionDecision describes the notice payload.
type SubmissionDecision struct {
	DealID       string
	CustomerName string
	Approved     bool
	Reasons      []string
	OwnerEmail   string
	OwnerPhone   string
}

func (n *Notifier) NotifySubmissionDecision(ctx context.Context, d SubmissionDecision) {
	subject := fmt.Sprintf("Intake approved: %s", d.CustomerName)
	body := fmt.Sprintf("Deal %s passed intake review and is ready for install scheduling.", d.DealID)
	if !d.Approved {
		subject = fmt.Sprintf("Intake rejected: %s", d.CustomerName)
		body = fmt.Sprintf("Deal %s was rejected at intake.\n\nReasons:\n- %s\n\nFix the items above and resubmit.",
			d.DealID, strings.Join(d.Reasons, "\n- "))
	}

	if n.cfg.Email.Enabled && n.email != nil && d.OwnerEmail != "" {
		_, err := n.email.SendEmail(ctx, &awsses.SendEmailInput{
			Source:      &n.cfg.Email.FromEmail,
			Destination: &sestypes.Destination{ToAddresses: []string{d.OwnerEmail}},
			Message: &sestypes.Message{
				Subject: &sestypes.Content{Data: &subject},
				Body:    &sestypes.Body{Text: &sestypes.Content{Data: &body}},
			},
		})
		if err != nil {
			n.logger.Warn("submission decision email failed", map[string]interface{}{
				"dealId": d.DealID,
				"error":  err,
			})
		}
	}

	if n.cfg.SMS.Enabled && n.sms != nil && d.OwnerPhone != "" {
		_, err := n.sms.Publish(ctx, &awssns.PublishInput{
			PhoneNumber: &d.OwnerPhone,
			Message:     &subject,
		})
		if err != nil {
			n.logger.Warn("submission decision sms failed", map[string]interface{}{
				"dealId": d.DealID,
				"error":  err,
			})
		}
	}
}
