package provenance

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Redis keeps each record in a hash at <prefix><message id>.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(url string, prefix string) (*Redis, error) {
	if url == "" {
		return nil, errors.New("missing redis url")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &Redis{client: redis.NewClient(opt), prefix: prefix}, nil
}

func (r *Redis) Put(ctx context.Context, rec Record) error {
	return r.client.HSet(ctx, r.prefix+rec.MessageID,
		"message_url", rec.MessageURL,
		"posted_post_id", strconv.FormatInt(rec.PostedPostID, 10),
	).Err()
}

func (r *Redis) Get(ctx context.Context, messageID string) (Record, bool, error) {
	fields, err := r.client.HGetAll(ctx, r.prefix+messageID).Result()
	if err != nil {
		return Record{}, false, err
	}
	if len(fields) == 0 {
		return Record{}, false, nil
	}
	postID, err := strconv.ParseInt(fields["posted_post_id"], 10, 64)
	if err != nil {
		return Record{}, false, fmt.Errorf("corrupt provenance record %q: %w", messageID, err)
	}
	return Record{MessageID: messageID, MessageURL: fields["message_url"], PostedPostID: postID}, true, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
