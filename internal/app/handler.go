package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"mailrelay/internal/config"
	"mailrelay/internal/mailgun"
	"mailrelay/internal/provenance"
	"mailrelay/internal/relay"
)

const signatureMaxAge = 15 * time.Minute

type Handler struct {
	Config config.Config
	Relay  *relay.Service
	Store  provenance.Store
	Logger *slog.Logger
	Now    func() time.Time
}

func NewHandler(cfg config.Config, svc *relay.Service, st provenance.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Config: cfg, Relay: svc, Store: st, Logger: logger, Now: time.Now}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := h.Store.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	mux.HandleFunc("/recv_email", h.handleReceive)
	mux.HandleFunc("/view_message", h.handleView)
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := parseForm(r); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	if key := h.Config.Mailgun.WebhookSigningKey; key != "" {
		err := mailgun.VerifySignature(key, r.FormValue("timestamp"), r.FormValue("token"), r.FormValue("signature"), h.Now(), signatureMaxAge)
		if err != nil {
			h.Logger.Warn("rejected webhook", "error", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	messageID := r.FormValue("Message-Id")
	messageURL := r.FormValue("message-url")

	// Deliveries run to completion even if the webhook caller goes away.
	ctx := context.WithoutCancel(r.Context())
	if _, err := h.Relay.Deliver(ctx, messageID, messageURL); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) handleView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	key := strings.TrimSpace(r.URL.Query().Get("message_id"))
	if key == "" {
		http.Error(w, "missing message_id", http.StatusBadRequest)
		return
	}
	body, err := h.Relay.View(r.Context(), key)
	if err != nil {
		if errors.Is(err, relay.ErrMessageNotFound) {
			http.Error(w, "message not found", http.StatusNotFound)
			return
		}
		h.Logger.Error("view message failed", "message_id", key, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(body))
}

func parseForm(r *http.Request) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		return r.ParseMultipartForm(32 << 20)
	}
	return r.ParseForm()
}
