package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP struct {
		Addr          string `yaml:"addr"`
		PublicBaseURL string `yaml:"public_base_url"`
	} `yaml:"http"`
	Mailgun struct {
		APIKey            string   `yaml:"api_key"`
		ValidationKey     string   `yaml:"validation_key"`
		APIBaseURL        string   `yaml:"api_base_url"`
		WebhookSigningKey string   `yaml:"webhook_signing_key"`
		SenderHeaders     []string `yaml:"sender_headers"`
		OwnDomain         string   `yaml:"own_domain"`
	} `yaml:"mailgun"`
	Typetalk struct {
		ClientID        string `yaml:"client_id"`
		ClientSecret    string `yaml:"client_secret"`
		APIBaseURL      string `yaml:"api_base_url"`
		Scope           string `yaml:"scope"`
		FallbackTopicID int64  `yaml:"fallback_topic_id"`
		BotPostURL      string `yaml:"bot_post_url"`
	} `yaml:"typetalk"`
	Relay struct {
		ViewMessageURL string `yaml:"view_message_url"`
		TopicPrefix    string `yaml:"topic_prefix"`
		MaxBodyChars   int    `yaml:"max_body_chars"`
		TalkNameMax    int    `yaml:"talk_name_max"`
		Locale         string `yaml:"locale"`
		AddressParser  string `yaml:"address_parser"`
	} `yaml:"relay"`
	Store struct {
		Driver    string `yaml:"driver"`
		DSN       string `yaml:"dsn"`
		RedisURL  string `yaml:"redis_url"`
		KeyPrefix string `yaml:"key_prefix"`
	} `yaml:"store"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func Default() Config {
	var cfg Config
	cfg.HTTP.Addr = ":8080"
	cfg.Mailgun.APIBaseURL = "https://api.mailgun.net"
	cfg.Mailgun.SenderHeaders = []string{"X-Original-Sender", "From", "sender"}
	cfg.Typetalk.APIBaseURL = "https://typetalk.com"
	cfg.Typetalk.Scope = "topic.read,topic.post,topic.write"
	cfg.Relay.TopicPrefix = "topic-"
	cfg.Relay.MaxBodyChars = 3500
	cfg.Relay.TalkNameMax = 63
	cfg.Relay.Locale = "ja"
	cfg.Relay.AddressParser = "local"
	cfg.Store.Driver = "sqlite"
	cfg.Store.DSN = "file:mailrelay.db"
	cfg.Store.KeyPrefix = "provenance:"
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// Load reads path, applies MR_* overrides and validates the result.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Read is Load without validation, for commands that only touch the store.
func Read(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, err
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		}
	}

	applyEnv(&cfg)
	if cfg.Mailgun.OwnDomain != "" {
		d, err := CanonicalDomain(cfg.Mailgun.OwnDomain)
		if err != nil {
			return cfg, fmt.Errorf("mailgun.own_domain: %w", err)
		}
		cfg.Mailgun.OwnDomain = d
	}
	return cfg, nil
}

// Validate reports the first missing secret or destination the relay cannot
// run without.
func (c Config) Validate() error {
	if c.Mailgun.APIKey == "" {
		return errors.New("missing mailgun.api_key (or MR_MAILGUN_API_KEY)")
	}
	if c.Typetalk.ClientID == "" || c.Typetalk.ClientSecret == "" {
		return errors.New("missing typetalk.client_id/client_secret (or MR_TYPETALK_CLIENT_ID/MR_TYPETALK_CLIENT_SECRET)")
	}
	if c.Typetalk.FallbackTopicID <= 0 {
		return errors.New("missing typetalk.fallback_topic_id (or MR_TYPETALK_FALLBACK_TOPIC_ID)")
	}
	if c.Relay.AddressParser == "mailgun" && c.Mailgun.ValidationKey == "" {
		return errors.New("relay.address_parser=mailgun requires mailgun.validation_key")
	}
	return nil
}

// ViewMessageURL is the endpoint the truncation link points at.
func (c Config) ViewMessageURL() string {
	if c.Relay.ViewMessageURL != "" {
		return c.Relay.ViewMessageURL
	}
	if c.HTTP.PublicBaseURL != "" {
		return strings.TrimSuffix(c.HTTP.PublicBaseURL, "/") + "/view_message"
	}
	return ""
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("MR_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("MR_PUBLIC_BASE_URL"); v != "" {
		cfg.HTTP.PublicBaseURL = v
	}
	if v := os.Getenv("MR_MAILGUN_API_KEY"); v != "" {
		cfg.Mailgun.APIKey = v
	}
	if v := os.Getenv("MR_MAILGUN_VALIDATION_KEY"); v != "" {
		cfg.Mailgun.ValidationKey = v
	}
	if v := os.Getenv("MR_MAILGUN_API_BASE_URL"); v != "" {
		cfg.Mailgun.APIBaseURL = v
	}
	if v := os.Getenv("MR_MAILGUN_WEBHOOK_SIGNING_KEY"); v != "" {
		cfg.Mailgun.WebhookSigningKey = v
	}
	if v := os.Getenv("MR_MAILGUN_SENDER_HEADERS"); v != "" {
		cfg.Mailgun.SenderHeaders = splitCSV(v)
	}
	if v := os.Getenv("MR_MAILGUN_OWN_DOMAIN"); v != "" {
		cfg.Mailgun.OwnDomain = v
	}
	if v := os.Getenv("MR_TYPETALK_CLIENT_ID"); v != "" {
		cfg.Typetalk.ClientID = v
	}
	if v := os.Getenv("MR_TYPETALK_CLIENT_SECRET"); v != "" {
		cfg.Typetalk.ClientSecret = v
	}
	if v := os.Getenv("MR_TYPETALK_API_BASE_URL"); v != "" {
		cfg.Typetalk.APIBaseURL = v
	}
	if v := os.Getenv("MR_TYPETALK_SCOPE"); v != "" {
		cfg.Typetalk.Scope = v
	}
	if v := os.Getenv("MR_TYPETALK_FALLBACK_TOPIC_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Typetalk.FallbackTopicID = id
		}
	}
	if v := os.Getenv("MR_TYPETALK_BOT_POST_URL"); v != "" {
		cfg.Typetalk.BotPostURL = v
	}
	if v := os.Getenv("MR_VIEW_MESSAGE_URL"); v != "" {
		cfg.Relay.ViewMessageURL = v
	}
	if v := os.Getenv("MR_TOPIC_PREFIX"); v != "" {
		cfg.Relay.TopicPrefix = v
	}
	if v := os.Getenv("MR_MAX_BODY_CHARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Relay.MaxBodyChars = n
		}
	}
	if v := os.Getenv("MR_TALK_NAME_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Relay.TalkNameMax = n
		}
	}
	if v := os.Getenv("MR_LOCALE"); v != "" {
		cfg.Relay.Locale = v
	}
	if v := os.Getenv("MR_ADDRESS_PARSER"); v != "" {
		cfg.Relay.AddressParser = v
	}
	if v := os.Getenv("MR_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("MR_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("MR_REDIS_URL"); v != "" {
		cfg.Store.RedisURL = v
	}
	if v := os.Getenv("MR_STORE_KEY_PREFIX"); v != "" {
		cfg.Store.KeyPrefix = v
	}
	if v := os.Getenv("MR_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("MR_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func splitCSV(input string) []string {
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		val := strings.TrimSpace(part)
		if val == "" {
			continue
		}
		out = append(out, val)
	}
	return out
}
