package typetalk_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"mailrelay/internal/config"
	"mailrelay/internal/typetalk"
	"mailrelay/internal/typetalk/typetalktest"
)

func newClient(srv *typetalktest.Server) *typetalk.Client {
	cfg := config.Default()
	cfg.Typetalk.APIBaseURL = srv.URL
	cfg.Typetalk.ClientID = srv.ClientID
	cfg.Typetalk.ClientSecret = srv.ClientSecret
	return typetalk.NewClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestOpenAcquiresCredential(t *testing.T) {
	srv := typetalktest.NewServer(t)
	client := newClient(srv)

	if _, err := client.Open(context.Background(), 1); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := client.Open(context.Background(), 1); err != nil {
		t.Fatalf("open: %v", err)
	}
	if srv.TokenCalls() != 2 {
		t.Fatalf("expected one token exchange per handle, got %d", srv.TokenCalls())
	}

	client.OAuth.ClientSecret = "wrong"
	if _, err := client.Open(context.Background(), 1); !errors.Is(err, typetalk.ErrCredential) {
		t.Fatalf("expected ErrCredential, got %v", err)
	}
}

func TestTopicDetailAndFallback(t *testing.T) {
	srv := typetalktest.NewServer(t)
	srv.AddTopic(97119, "fallback")
	srv.AddTopic(5, "live")
	ctx := context.Background()

	topic, err := newClient(srv).Open(ctx, 5)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	detail, err := topic.Detail(ctx)
	if err != nil || detail == nil || detail.Name != "live" {
		t.Fatalf("unexpected detail %+v (%v)", detail, err)
	}
	switched, err := topic.EnsureExists(ctx, 97119)
	if err != nil || switched || topic.ID() != 5 {
		t.Fatalf("expected live topic kept, switched=%v id=%d err=%v", switched, topic.ID(), err)
	}

	stale, err := newClient(srv).Open(ctx, 404404)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	detail, err = stale.Detail(ctx)
	if err != nil || detail != nil {
		t.Fatalf("expected nil detail for missing topic, got %+v (%v)", detail, err)
	}
	switched, err = stale.EnsureExists(ctx, 97119)
	if err != nil || !switched || stale.ID() != 97119 {
		t.Fatalf("expected switch to fallback, switched=%v id=%d err=%v", switched, stale.ID(), err)
	}

	srv.Fail(http.MethodGet, "/api/v1/topics/5/details", http.StatusInternalServerError)
	_, err = topic.Detail(ctx)
	var apiErr *typetalk.APIError
	if !errors.Is(err, typetalk.ErrChatAPI) || !errors.As(err, &apiErr) || apiErr.Status != http.StatusInternalServerError {
		t.Fatalf("expected ChatAPI error with status, got %v", err)
	}
}

func TestGetOrCreateTalkIsIdempotent(t *testing.T) {
	srv := typetalktest.NewServer(t)
	srv.AddTopic(7, "t")
	existing := srv.AddTalk(7, "alice@example.com")
	ctx := context.Background()

	topic, err := newClient(srv).Open(ctx, 7)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	id, err := topic.GetOrCreateTalk(ctx, "alice@example.com")
	if err != nil || id != existing {
		t.Fatalf("expected existing talk %d, got %d (%v)", existing, id, err)
	}

	first, err := topic.GetOrCreateTalk(ctx, "m1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := topic.GetOrCreateTalk(ctx, "m1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if first != second {
		t.Fatalf("expected same id twice, got %d and %d", first, second)
	}
	if srv.TalkCreates() != 1 {
		t.Fatalf("expected exactly one create call, got %d", srv.TalkCreates())
	}

	other, err := topic.GetOrCreateTalk(ctx, "Alice@example.com")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if other == existing {
		t.Fatalf("talk names must compare case-sensitively")
	}
}

func TestLatestPostInTalk(t *testing.T) {
	srv := typetalktest.NewServer(t)
	srv.AddTopic(7, "t")
	empty := srv.AddTalk(7, "empty")
	busy := srv.AddTalk(7, "busy")
	srv.AddPost(7, "older", busy)
	latest := srv.AddPost(7, "newer", busy)
	ctx := context.Background()

	topic, err := newClient(srv).Open(ctx, 7)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok, err := topic.LatestPostInTalk(ctx, empty); err != nil || ok {
		t.Fatalf("expected no post in empty talk, ok=%v err=%v", ok, err)
	}
	id, ok, err := topic.LatestPostInTalk(ctx, busy)
	if err != nil || !ok || id != latest {
		t.Fatalf("expected latest post %d, got %d ok=%v err=%v", latest, id, ok, err)
	}
}

func TestUploadAndPost(t *testing.T) {
	srv := typetalktest.NewServer(t)
	srv.AddTopic(7, "t")
	ctx := context.Background()

	topic, err := newClient(srv).Open(ctx, 7)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	key, ok, err := topic.UploadAttachment(ctx, "見積書 \"v2\".pdf", []byte("pdf"), "application/pdf")
	if err != nil || !ok || key == "" {
		t.Fatalf("upload: key=%q ok=%v err=%v", key, ok, err)
	}
	uploads := srv.Uploads()
	if len(uploads) != 1 || uploads[0].Filename != "見積書 \"v2\".pdf" || string(uploads[0].Content) != "pdf" {
		t.Fatalf("unexpected upload %+v", uploads)
	}

	srv.Fail(http.MethodPost, "/api/v1/topics/7/attachments", http.StatusNotFound)
	if _, ok, err := topic.UploadAttachment(ctx, "x.bin", []byte("x"), ""); err != nil || ok {
		t.Fatalf("expected silent skip on 404, ok=%v err=%v", ok, err)
	}
	srv.Fail(http.MethodPost, "/api/v1/topics/7/attachments", http.StatusRequestEntityTooLarge)
	if _, _, err := topic.UploadAttachment(ctx, "x.bin", []byte("x"), ""); !errors.Is(err, typetalk.ErrChatAPI) {
		t.Fatalf("expected error on 413, got %v", err)
	}

	res, err := topic.Post(ctx, typetalk.PostRequest{
		Message:      "hello",
		FileKeys:     []string{key},
		TalkIDs:      []int64{11, 12},
		ReplyTo:      99,
		HideLinkMeta: true,
	})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	posts := srv.Posts(7)
	if len(posts) != 1 || posts[0].ID != res.Post.ID {
		t.Fatalf("unexpected posts %+v / %+v", posts, res)
	}
	p := posts[0]
	if p.Message != "hello" || p.ReplyTo != 99 || p.ShowLinkMeta != "false" || len(p.TalkIDs) != 2 || p.FileKeys[0] != key {
		t.Fatalf("unexpected post payload %+v", p)
	}

	srv.Fail(http.MethodPost, "/api/v1/topics/7", http.StatusBadRequest)
	_, err = topic.Post(ctx, typetalk.PostRequest{Message: "x"})
	var apiErr *typetalk.APIError
	if !errors.As(err, &apiErr) || apiErr.Body == "" {
		t.Fatalf("expected api error carrying body, got %v", err)
	}
}
