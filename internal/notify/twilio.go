package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// messageCreator is the slice of the Twilio API used here.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioNotifier sends messages as SMS through Twilio.
type TwilioNotifier struct {
	api    messageCreator
	from   string
	logger *slog.Logger
}

// NewTwilioNotifier creates a notifier using the account credentials.
func NewTwilioNotifier(accountSID, authToken, from string, logger *slog.Logger) (*TwilioNotifier, error) {
	if accountSID == "" || authToken == "" || from == "" {
		return nil, fmt.Errorf("twilio account SID, auth token and from number are required")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return newTwilioNotifier(client.Api, from, logger), nil
}

func newTwilioNotifier(api messageCreator, from string, logger *slog.Logger) *TwilioNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &TwilioNotifier{api: api, from: from, logger: logger.With("component", "twilio_notifier")}
}

// Notify implements Notifier. The Twilio client does not take a context,
// so ctx only gates the call.
func (n *TwilioNotifier) Notify(ctx context.Context, msg Message) error {
	if msg.Phone == "" {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(msg.Phone)
	params.SetFrom(n.from)
	params.SetBody(formatSMS(msg))

	resp, err := n.api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("failed to send SMS: %w", err)
	}

	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	n.logger.Debug("sms sent", "user_id", msg.UserID, "message_sid", sid)
	return nil
}

func formatSMS(msg Message) string {
	if msg.Subject == "" {
		return msg.Body
	}
	return msg.Subject + ": " + msg.Body
}
