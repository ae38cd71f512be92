package output

import (
	"fmt"

	"github.com/slack-go/slack"

	"github.com/vigilhq/vigil/internal/database"
)

// FormatSlack builds the Block Kit message posted to the incoming webhook.
// The plain Text field doubles as the fallback for clients that cannot
// render blocks.
func FormatSlack(n Notification) *slack.WebhookMessage {
	header := fmt.Sprintf("%s *%s*", database.GetSeverityEmoji(n.Severity), n.Message)

	contextElements := []slack.MixedElement{
		slack.NewTextBlockObject(slack.MarkdownType, "on-call: "+n.Engineer, false, false),
	}
	if n.IncidentID != "" {
		contextElements = append(contextElements,
			slack.NewTextBlockObject(slack.MarkdownType, "incident: `"+n.IncidentID+"`", false, false))
	}

	blocks := slack.Blocks{BlockSet: []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, header, false, false), nil, nil),
		slack.NewContextBlock("", contextElements...),
	}}

	return &slack.WebhookMessage{
		Username: "vigil",
		Text:     n.Message,
		Blocks:   &blocks,
	}
}
