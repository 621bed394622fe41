package mailgun

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Message is one stored inbound email, normalized for relaying.
type Message struct {
	Subject     string
	From        string
	To          string
	MessageID   string
	InReplyTo   string
	References  string
	Recipients  string
	Body        string
	Attachments []Attachment
}

type Attachment struct {
	Name        string
	Size        int64
	ContentType string
	Content     []byte
	// Fetched is false when the download failed; Content may still be
	// empty for a genuine zero-byte file.
	Fetched bool
}

const messageSchemaJSON = `{
	"type": "object",
	"required": ["Message-Id"],
	"properties": {
		"Message-Id": {"type": "string", "minLength": 1},
		"subject": {"type": "string"},
		"recipients": {"type": "string"},
		"body-plain": {"type": ["string", "null"]},
		"stripped-text": {"type": ["string", "null"]},
		"attachments": {
			"type": ["array", "null"],
			"items": {
				"type": "object",
				"required": ["name"],
				"properties": {
					"name": {"type": "string"},
					"url": {"type": "string"},
					"content-type": {"type": "string"},
					"size": {"type": "integer", "minimum": 0}
				}
			}
		},
		"message-headers": {
			"type": "array",
			"items": {"type": "array", "minItems": 2, "items": {"type": "string"}}
		}
	}
}`

var messageSchema = jsonschema.MustCompileString("mailgun-message.json", messageSchemaJSON)

type storedMessage struct {
	BodyPlain    string     `json:"body-plain"`
	StrippedText string     `json:"stripped-text"`
	Headers      [][]string `json:"message-headers"`
	Attachments  []struct {
		Name        string `json:"name"`
		URL         string `json:"url"`
		ContentType string `json:"content-type"`
		Size        int64  `json:"size"`
	} `json:"attachments"`

	raw map[string]any
}

// header looks a header up among the top-level fields first, then in
// message-headers. An exact key match wins; otherwise names compare
// case-insensitively in sorted key order.
func (m *storedMessage) header(name string) string {
	if s, ok := m.raw[name].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	keys := make([]string, 0, len(m.raw))
	for key := range m.raw {
		if key != name && strings.EqualFold(key, name) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		if s, ok := m.raw[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	for _, pair := range m.Headers {
		if len(pair) >= 2 && strings.EqualFold(pair[0], name) && strings.TrimSpace(pair[1]) != "" {
			return strings.TrimSpace(pair[1])
		}
	}
	return ""
}

// Fetch downloads a stored message and its attachments. The message itself
// is mandatory; attachments that cannot be downloaded are kept with
// Fetched unset.
func (c *Client) Fetch(ctx context.Context, messageURL string) (*Message, error) {
	body, err := c.get(ctx, messageURL, c.APIKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrUpstreamFetch, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstreamFetch, err)
	}

	stored, err := decodeStored(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamFetch, err)
	}

	msg := &Message{
		Subject:    stored.header("subject"),
		To:         stored.header("To"),
		MessageID:  stored.header("Message-Id"),
		InReplyTo:  stored.header("In-Reply-To"),
		References: stored.header("References"),
		Recipients: stored.header("recipients"),
		Body:       stored.BodyPlain,
	}
	for _, name := range c.SenderHeaders {
		if v := stored.header(name); v != "" {
			msg.From = v
			break
		}
	}
	if strings.TrimSpace(stored.StrippedText) != "" {
		msg.Body = stored.StrippedText
	}

	for _, a := range stored.Attachments {
		att := Attachment{Name: a.Name, Size: a.Size, ContentType: a.ContentType}
		if a.URL != "" {
			content, err := c.get(ctx, a.URL, c.APIKey)
			if err != nil {
				c.Logger.Warn("attachment fetch failed",
					"message_id", msg.MessageID,
					"attachment", a.Name,
					"error", fmt.Errorf("%w: %v", ErrAttachmentFetch, err))
			} else {
				att.Content = content
				att.Fetched = true
			}
		}
		msg.Attachments = append(msg.Attachments, att)
	}

	c.Logger.Info("fetched message",
		"message_id", msg.MessageID,
		"subject", msg.Subject,
		"from", msg.From,
		"recipients", msg.Recipients,
		"attachments", len(msg.Attachments))
	return msg, nil
}

func decodeStored(body []byte) (*storedMessage, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if err := messageSchema.Validate(raw); err != nil {
		return nil, fmt.Errorf("invalid message payload: %w", err)
	}
	var stored storedMessage
	if err := json.Unmarshal(body, &stored); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	stored.raw = raw
	return &stored, nil
}
