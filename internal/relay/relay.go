package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"mailrelay/internal/config"
	"mailrelay/internal/emailaddr"
	"mailrelay/internal/mailgun"
	"mailrelay/internal/provenance"
	"mailrelay/internal/typetalk"
)

var ErrProvenanceWrite = errors.New("provenance write failed")

// Relayer posts one normalized message into a topic, grouping it into talks
// for its sender, recipient and conversation thread.
type Relayer struct {
	Chat            *typetalk.Client
	Store           provenance.Store
	Parser          emailaddr.Parser
	FallbackTopicID int64
	OwnDomain       string
	ViewMessageURL  string
	MaxBodyChars    int
	TalkNameMax     int
	Labels          Labels
	Logger          *slog.Logger
}

func NewRelayer(cfg config.Config, chat *typetalk.Client, store provenance.Store, parser emailaddr.Parser, logger *slog.Logger) *Relayer {
	if logger == nil {
		logger = slog.Default()
	}
	if parser == nil {
		parser = emailaddr.LocalParser{}
	}
	return &Relayer{
		Chat:            chat,
		Store:           store,
		Parser:          parser,
		FallbackTopicID: cfg.Typetalk.FallbackTopicID,
		OwnDomain:       cfg.Mailgun.OwnDomain,
		ViewMessageURL:  cfg.ViewMessageURL(),
		MaxBodyChars:    cfg.Relay.MaxBodyChars,
		TalkNameMax:     cfg.Relay.TalkNameMax,
		Labels:          LabelsFor(cfg.Relay.Locale),
		Logger:          logger,
	}
}

// MessageKey is the key a message's provenance record and thread talk use.
func (r *Relayer) MessageKey(messageID string) string {
	return emailaddr.ThreadToken(messageID, r.TalkNameMax)
}

// ComposeAndPost runs the whole composition; any failure before the post is
// returned and nothing is posted. A failed provenance write is only logged.
func (r *Relayer) ComposeAndPost(ctx context.Context, channelID int64, msg *mailgun.Message, messageURL string) (*typetalk.PostResult, error) {
	logger := r.Logger.With("message_id", msg.MessageID, "topic_id", channelID)
	key := r.MessageKey(msg.MessageID)
	if key == "" {
		return nil, fmt.Errorf("message %q has no usable Message-Id", messageURL)
	}

	topic, err := r.Chat.Open(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if _, err := topic.EnsureExists(ctx, r.FallbackTopicID); err != nil {
		return nil, fmt.Errorf("check topic %d: %w", channelID, err)
	}

	fileKeys := r.uploadAttachments(ctx, logger, topic, msg.Attachments)

	var talkIDs []int64
	for _, raw := range []string{msg.From, msg.To} {
		id, ok, err := r.addressTalk(ctx, topic, raw)
		if err != nil {
			return nil, err
		}
		if ok {
			talkIDs = appendUnique(talkIDs, id)
		}
	}
	threadTalk, err := topic.GetOrCreateTalk(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("thread talk %q: %w", key, err)
	}
	talkIDs = appendUnique(talkIDs, threadTalk)

	comp := Compose(r.Labels, msg, key, r.MaxBodyChars, r.ViewMessageURL)

	replyTo, err := r.replyParent(ctx, topic, msg)
	if err != nil {
		return nil, err
	}

	res, err := topic.Post(ctx, typetalk.PostRequest{
		Message:      comp.Text,
		FileKeys:     fileKeys,
		TalkIDs:      talkIDs,
		ReplyTo:      replyTo,
		HideLinkMeta: comp.Truncated,
	})
	if err != nil {
		return nil, fmt.Errorf("post to topic %d: %w", topic.ID(), err)
	}
	logger.Info("posted message",
		"post_id", res.Post.ID,
		"posted_topic_id", topic.ID(),
		"reply_to", replyTo,
		"files", len(fileKeys),
		"truncated", comp.Truncated)

	rec := provenance.Record{MessageID: key, MessageURL: messageURL, PostedPostID: res.Post.ID}
	if err := r.Store.Put(ctx, rec); err != nil {
		logger.Error("provenance write failed", "error", fmt.Errorf("%w: %v", ErrProvenanceWrite, err))
	}
	return res, nil
}

// uploadAttachments keeps the order of the attachments that made it; files
// that could not be fetched or uploaded are dropped.
func (r *Relayer) uploadAttachments(ctx context.Context, logger *slog.Logger, topic *typetalk.Topic, atts []mailgun.Attachment) []string {
	var keys []string
	for _, a := range atts {
		if !a.Fetched {
			logger.Warn("skipping attachment that could not be fetched", "attachment", a.Name)
			continue
		}
		key, ok, err := topic.UploadAttachment(ctx, a.Name, a.Content, a.ContentType)
		if err != nil {
			logger.Warn("attachment upload failed", "attachment", a.Name, "error", err)
			continue
		}
		if !ok {
			logger.Warn("attachment upload rejected", "attachment", a.Name)
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// addressTalk resolves the talk for a correspondent. Addresses in the
// operator's own domain get none.
func (r *Relayer) addressTalk(ctx context.Context, topic *typetalk.Topic, raw string) (int64, bool, error) {
	addrs, err := r.Parser.Parse(ctx, raw)
	if err != nil {
		return 0, false, fmt.Errorf("parse address %q: %w", raw, err)
	}
	if len(addrs) == 0 || addrs[0].LocalPart == "" {
		return 0, false, nil
	}
	addr := addrs[0]
	if addr.InDomain(r.OwnDomain) {
		return 0, false, nil
	}
	name := addr.Normalized()
	id, err := topic.GetOrCreateTalk(ctx, name)
	if err != nil {
		return 0, false, fmt.Errorf("talk %q: %w", name, err)
	}
	return id, true, nil
}

// replyParent finds the post this message answers: the recorded post of
// In-Reply-To, or else the latest post in the first References thread that
// has one. Zero means no parent.
func (r *Relayer) replyParent(ctx context.Context, topic *typetalk.Topic, msg *mailgun.Message) (int64, error) {
	if msg.InReplyTo != "" {
		rec, ok, err := r.Store.Get(ctx, r.MessageKey(msg.InReplyTo))
		if err != nil {
			return 0, fmt.Errorf("lookup in-reply-to %q: %w", msg.InReplyTo, err)
		}
		if !ok {
			return 0, nil
		}
		return rec.PostedPostID, nil
	}

	for _, ref := range emailaddr.SplitReferences(msg.References) {
		talkID, ok, err := topic.FindTalk(ctx, r.MessageKey(ref))
		if err != nil {
			return 0, fmt.Errorf("lookup reference %q: %w", ref, err)
		}
		if !ok {
			continue
		}
		postID, ok, err := topic.LatestPostInTalk(ctx, talkID)
		if err != nil {
			return 0, fmt.Errorf("latest post for reference %q: %w", ref, err)
		}
		if ok {
			return postID, nil
		}
	}
	return 0, nil
}

func appendUnique(ids []int64, id int64) []int64 {
	for _, v := range ids {
		if v == id {
			return ids
		}
	}
	return append(ids, id)
}
