package notify

import "github.com/xodeeq/poolwatch/internal/alert"

// Slack incoming-webhook payload. The attachment carries per-type color
// coding and the detail fields; the top-level text is the headline.
type slackPayload struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
	Username    string            `json:"username"`
	IconEmoji   string            `json:"icon_emoji"`
}

type slackAttachment struct {
	Color      string       `json:"color"`
	Fields     []slackField `json:"fields"`
	Footer     string       `json:"footer"`
	FooterIcon string       `json:"footer_icon"`
	Ts         int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func renderPayload(a alert.Alert) slackPayload {
	fields := make([]slackField, 0, len(a.Fields))
	for _, f := range a.Fields {
		fields = append(fields, slackField{Title: f.Title, Value: f.Value, Short: f.Short})
	}

	return slackPayload{
		Text: "🚨 *" + headline(a.Type) + "*\n" + a.Text,
		Attachments: []slackAttachment{{
			Color:      a.Color,
			Fields:     fields,
			Footer:     "Blue/Green Deployment Monitor | Created by @xodeeq",
			FooterIcon: "https://platform.slack-edge.com/img/default_application_icon.png",
			Ts:         a.At.Unix(),
		}},
		Username:  "Deployment Bot",
		IconEmoji: ":rotating_light:",
	}
}

func headline(t alert.Type) string {
	switch t {
	case alert.TypeFailover:
		return "FAILOVER"
	case alert.TypeErrorRate:
		return "ERROR RATE"
	case alert.TypeRecovery:
		return "RECOVERY"
	default:
		return string(t)
	}
}
