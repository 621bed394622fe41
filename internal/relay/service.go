package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"mailrelay/internal/config"
	"mailrelay/internal/emailaddr"
	"mailrelay/internal/mailgun"
	"mailrelay/internal/provenance"
	"mailrelay/internal/typetalk"
)

var ErrMessageNotFound = errors.New("message not found")

// Service handles one webhook delivery end to end and serves stored
// messages back for the view endpoint.
type Service struct {
	Mail            *mailgun.Client
	Resolver        *emailaddr.Resolver
	Relayer         *Relayer
	Chat            *typetalk.Client
	Store           provenance.Store
	FallbackTopicID int64
	BotPostURL      string
	Logger          *slog.Logger
}

func NewService(cfg config.Config, mail *mailgun.Client, chat *typetalk.Client, store provenance.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	var parser emailaddr.Parser = emailaddr.LocalParser{}
	if cfg.Relay.AddressParser == "mailgun" {
		parser = mailgun.NewAddressValidator(mail, cfg.Mailgun.ValidationKey)
	}
	return &Service{
		Mail:            mail,
		Resolver:        emailaddr.NewResolver(parser, cfg.Relay.TopicPrefix),
		Relayer:         NewRelayer(cfg, chat, store, parser, logger),
		Chat:            chat,
		Store:           store,
		FallbackTopicID: cfg.Typetalk.FallbackTopicID,
		BotPostURL:      cfg.Typetalk.BotPostURL,
		Logger:          logger,
	}
}

// Deliver relays the stored message at messageURL. On failure a diagnostic
// post is attempted before the error is returned.
func (s *Service) Deliver(ctx context.Context, messageID string, messageURL string) (*typetalk.PostResult, error) {
	deliveryID := uuid.NewString()
	logger := s.Logger.With("delivery_id", deliveryID, "message_id", messageID)
	logger.Info("start processing message", "message_url", messageURL)

	res, err := s.deliver(ctx, logger, messageURL)
	if err != nil {
		logger.Error("delivery failed", "error", err)
		s.diagnose(ctx, logger, deliveryID, messageID, messageURL, err)
		return nil, err
	}
	return res, nil
}

// DeliverTo relays messageURL into topicID, bypassing recipient resolution.
func (s *Service) DeliverTo(ctx context.Context, topicID int64, messageURL string) (*typetalk.PostResult, error) {
	msg, err := s.Mail.Fetch(ctx, messageURL)
	if err != nil {
		return nil, err
	}
	return s.Relayer.ComposeAndPost(ctx, topicID, msg, messageURL)
}

func (s *Service) deliver(ctx context.Context, logger *slog.Logger, messageURL string) (*typetalk.PostResult, error) {
	if strings.TrimSpace(messageURL) == "" {
		return nil, fmt.Errorf("%w: missing message-url", mailgun.ErrUpstreamFetch)
	}
	msg, err := s.Mail.Fetch(ctx, messageURL)
	if err != nil {
		return nil, err
	}
	channelID, err := s.Resolver.ResolveChannelID(ctx, msg.Recipients)
	if err != nil {
		return nil, err
	}
	logger.Info("resolved topic", "topic_id", channelID)
	return s.Relayer.ComposeAndPost(ctx, channelID, msg, messageURL)
}

func (s *Service) diagnose(ctx context.Context, logger *slog.Logger, deliveryID, messageID, messageURL string, cause error) {
	text := DiagnosticText(s.Relayer.Labels, deliveryID, messageID, messageURL, cause)
	if s.BotPostURL != "" {
		if err := s.Chat.PostViaBot(ctx, s.BotPostURL, text); err != nil {
			logger.Error("diagnostic bot post failed", "error", err)
		}
		return
	}
	topic, err := s.Chat.Open(ctx, s.FallbackTopicID)
	if err != nil {
		logger.Error("diagnostic post failed", "error", err)
		return
	}
	if _, err := topic.Post(ctx, typetalk.PostRequest{Message: text}); err != nil {
		logger.Error("diagnostic post failed", "error", err)
	}
}

func DiagnosticText(labels Labels, deliveryID, messageID, messageURL string, cause error) string {
	var b strings.Builder
	b.WriteString(labels.Failed + "\n")
	fmt.Fprintf(&b, "delivery: %s\nMessage-Id: %s\nmessage-url: %s\n", deliveryID, messageID, messageURL)
	b.WriteString(fence + "\n" + cause.Error() + "\n" + fence + "\n")
	return b.String()
}

// View returns the body of the message recorded under key.
func (s *Service) View(ctx context.Context, key string) (string, error) {
	key = s.Relayer.MessageKey(key)
	if key == "" {
		return "", ErrMessageNotFound
	}
	rec, ok, err := s.Store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: no record for %q", ErrMessageNotFound, key)
	}
	msg, err := s.Mail.Fetch(ctx, rec.MessageURL)
	if err != nil {
		if errors.Is(err, mailgun.ErrNotFound) {
			return "", fmt.Errorf("%w: %v", ErrMessageNotFound, err)
		}
		return "", err
	}
	return msg.Body, nil
}
