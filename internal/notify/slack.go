package notify

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"chatbi/internal/models"
	"github.com/slack-go/slack"
)

// SlackNotifier posts run failures to an operations channel. A nil notifier
// is valid and does nothing, so Slack stays optional.
type SlackNotifier struct {
	client  *slack.Client
	channel string
}

func NewSlackNotifier(token, channel string) *SlackNotifier {
	if token == "" || channel == "" {
		return nil
	}
	return &SlackNotifier{
		client:  slack.New(token),
		channel: channel,
	}
}

// NotifyRunFailed posts a failed-run notification.
func (n *SlackNotifier) NotifyRunFailed(run *models.ExecutionRun, reason string) error {
	if n == nil {
		return nil
	}

	attachment := slack.Attachment{
		Color: "#ff0000",
		Title: fmt.Sprintf("Report delivery failed: %s", run.ScheduleName),
		Text:  reason,
		Fields: []slack.AttachmentField{
			{
				Title: "Template",
				Value: run.TemplateName,
				Short: true,
			},
			{
				Title: "Triggered by",
				Value: string(run.TriggeredBy),
				Short: true,
			},
			{
				Title: "Recipients",
				Value: strconv.Itoa(run.RecipientCount),
				Short: true,
			},
			{
				Title: "Failed deliveries",
				Value: strconv.Itoa(run.FailedDeliveries),
				Short: true,
			},
		},
		Footer: "Chat BI Studio Reports",
		Ts:     json.Number(strconv.FormatInt(time.Now().Unix(), 10)),
	}

	_, _, err := n.client.PostMessage(
		n.channel,
		slack.MsgOptionAttachments(attachment),
	)
	return err
}
