package typetalk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
)

type TopicDetail struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Talk struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Post struct {
	ID      int64  `json:"id"`
	TopicID int64  `json:"topicId"`
	Message string `json:"message"`
}

// PostRequest is one message submission. Zero ReplyTo means no reply link.
type PostRequest struct {
	Message      string
	FileKeys     []string
	TalkIDs      []int64
	ReplyTo      int64
	HideLinkMeta bool
}

type PostResult struct {
	Topic TopicDetail `json:"topic"`
	Post  Post        `json:"post"`
}

// Topic is an authenticated handle on one topic. The talk list is cached for
// the handle's lifetime and dropped after a talk is created.
type Topic struct {
	client *Client
	token  string
	id     int64
	talks  []Talk
	cached bool
}

func (t *Topic) ID() int64 { return t.id }

func (t *Topic) path(suffix string) string {
	return "/api/v1/topics/" + strconv.FormatInt(t.id, 10) + suffix
}

// Detail returns nil when the topic does not exist.
func (t *Topic) Detail(ctx context.Context) (*TopicDetail, error) {
	body, err := t.client.request(ctx, t.token, "GET", t.path("/details"), nil, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var resp struct {
		Topic TopicDetail `json:"topic"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode topic detail: %v", ErrChatAPI, err)
	}
	return &resp.Topic, nil
}

// EnsureExists switches the handle to fallbackID when the topic is gone and
// reports whether it did.
func (t *Topic) EnsureExists(ctx context.Context, fallbackID int64) (bool, error) {
	detail, err := t.Detail(ctx)
	if err != nil {
		return false, err
	}
	if detail != nil {
		return false, nil
	}
	t.client.Logger.Warn("topic not found, using fallback", "topic_id", t.id, "fallback_topic_id", fallbackID)
	t.id = fallbackID
	t.talks, t.cached = nil, false
	return true, nil
}

func (t *Topic) Talks(ctx context.Context) ([]Talk, error) {
	if t.cached {
		return t.talks, nil
	}
	body, err := t.client.request(ctx, t.token, "GET", t.path("/talks"), nil, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Talks []Talk `json:"talks"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode talks: %v", ErrChatAPI, err)
	}
	t.talks, t.cached = resp.Talks, true
	return t.talks, nil
}

// FindTalk looks name up by exact, case-sensitive match.
func (t *Topic) FindTalk(ctx context.Context, name string) (int64, bool, error) {
	talks, err := t.Talks(ctx)
	if err != nil {
		return 0, false, err
	}
	for _, talk := range talks {
		if talk.Name == name {
			return talk.ID, true, nil
		}
	}
	return 0, false, nil
}

func (t *Topic) GetOrCreateTalk(ctx context.Context, name string) (int64, error) {
	id, ok, err := t.FindTalk(ctx, name)
	if err != nil {
		return 0, err
	}
	if ok {
		return id, nil
	}

	t.client.Logger.Info("creating talk", "topic_id", t.id, "talk_name", name)
	body, err := t.client.request(ctx, t.token, "POST", t.path("/talks"), nil, url.Values{"talkName": {name}})
	if err != nil {
		return 0, err
	}
	t.talks, t.cached = nil, false
	var resp struct {
		Talk Talk `json:"talk"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("%w: decode created talk: %v", ErrChatAPI, err)
	}
	return resp.Talk.ID, nil
}

// LatestPostInTalk returns the newest post id in a talk, if any.
func (t *Topic) LatestPostInTalk(ctx context.Context, talkID int64) (int64, bool, error) {
	query := url.Values{"count": {"1"}, "direction": {"backward"}}
	body, err := t.client.request(ctx, t.token, "GET", t.path("/talks/"+strconv.FormatInt(talkID, 10)+"/posts"), query, nil)
	if err != nil {
		if isNotFound(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	var resp struct {
		Posts []Post `json:"posts"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, false, fmt.Errorf("%w: decode talk posts: %v", ErrChatAPI, err)
	}
	if len(resp.Posts) == 0 {
		return 0, false, nil
	}
	return resp.Posts[len(resp.Posts)-1].ID, true, nil
}

// UploadAttachment returns ok=false when the topic rejects the upload with
// 404; callers skip such files.
func (t *Topic) UploadAttachment(ctx context.Context, name string, content []byte, contentType string) (string, bool, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	// filename is written raw (UTF-8) rather than RFC 2231 encoded; the
	// attachment API only understands the plain form.
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(name)))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return "", false, err
	}
	if _, err := part.Write(content); err != nil {
		return "", false, err
	}
	if err := mw.Close(); err != nil {
		return "", false, err
	}

	body, err := t.client.upload(ctx, t.token, t.path("/attachments"), &buf, mw.FormDataContentType())
	if err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	var resp struct {
		FileKey string `json:"fileKey"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", false, fmt.Errorf("%w: decode attachment: %v", ErrChatAPI, err)
	}
	return resp.FileKey, resp.FileKey != "", nil
}

func (t *Topic) Post(ctx context.Context, req PostRequest) (*PostResult, error) {
	form := url.Values{"message": {req.Message}}
	for i, key := range req.FileKeys {
		form.Set(fmt.Sprintf("fileKeys[%d]", i), key)
	}
	for i, id := range req.TalkIDs {
		form.Set(fmt.Sprintf("talkIds[%d]", i), strconv.FormatInt(id, 10))
	}
	if req.ReplyTo != 0 {
		form.Set("replyTo", strconv.FormatInt(req.ReplyTo, 10))
	}
	if req.HideLinkMeta {
		form.Set("showLinkMeta", "false")
	}

	body, err := t.client.request(ctx, t.token, "POST", t.path(""), nil, form)
	if err != nil {
		return nil, err
	}
	var result PostResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: decode post: %v", ErrChatAPI, err)
	}
	return &result, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
