package relay

import (
	"fmt"
	"net/url"
	"strings"

	"mailrelay/internal/mailgun"
)

// Labels are the fixed strings of a relayed post.
type Labels struct {
	Received  string
	From      string
	Subject   string
	Truncated string
	Failed    string
}

var locales = map[string]Labels{
	"ja": {
		Received:  "メールを受信しました。 --- To: %s",
		From:      "From: %s",
		Subject:   "件名: 「%s」",
		Truncated: "省略されました。 [>>>全文(text)を見る](%s)",
		Failed:    "メールの転送に失敗しました。",
	},
	"en": {
		Received:  "Received an email. --- To: %s",
		From:      "From: %s",
		Subject:   "Subject: \"%s\"",
		Truncated: "Truncated. [>>> View full text](%s)",
		Failed:    "Failed to relay an email.",
	},
}

func LabelsFor(locale string) Labels {
	if l, ok := locales[locale]; ok {
		return l
	}
	return locales["ja"]
}

const fence = "```"

// Composition is the text of one post and whether its body was cut.
type Composition struct {
	Text      string
	Truncated bool
}

// Compose renders the header block and the fenced body. Bodies longer than
// maxChars runes are cut and followed by a link to viewURL for messageKey.
func Compose(labels Labels, msg *mailgun.Message, messageKey string, maxChars int, viewURL string) Composition {
	var b strings.Builder
	fmt.Fprintf(&b, labels.Received+"\n\n", msg.To)
	fmt.Fprintf(&b, labels.From+"\n", msg.From)
	fmt.Fprintf(&b, labels.Subject+"\n", msg.Subject)

	body := msg.Body
	truncated := false
	if runes := []rune(body); maxChars > 0 && len(runes) > maxChars {
		body = string(runes[:maxChars]) + "\n"
		truncated = true
	}
	b.WriteString(fence + "\n" + body + "\n" + fence + "\n")

	if truncated && viewURL != "" {
		link := viewURL + "?" + url.Values{"message_id": {messageKey}}.Encode()
		fmt.Fprintf(&b, labels.Truncated+"\n", link)
	}
	return Composition{Text: b.String(), Truncated: truncated}
}
