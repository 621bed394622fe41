// Package mailguntest runs an in-process stand-in for the Mailgun stored
// message, attachment and address validation endpoints.
package mailguntest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type Server struct {
	*httptest.Server
	APIKey        string
	ValidationKey string

	mu       sync.Mutex
	messages map[string]map[string]any
	files    map[string][]byte
	failures map[string]int
	hits     map[string]int
}

func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		APIKey:        "key-test",
		ValidationKey: "pubkey-test",
		messages:      map[string]map[string]any{},
		files:         map[string][]byte{},
		failures:      map[string]int{},
		hits:          map[string]int{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Payload builds a stored-message body shaped like Mailgun's.
func Payload(messageID, recipients, from, subject, body string) map[string]any {
	return map[string]any{
		"Message-Id":  messageID,
		"recipients":  recipients,
		"From":        from,
		"To":          recipients,
		"subject":     subject,
		"body-plain":  body,
		"attachments": []any{},
	}
}

// AddMessage stores payload under key and returns its message URL.
func (s *Server) AddMessage(key string, payload map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := "/v3/domains/mx.example.com/messages/" + key
	s.messages[path] = payload
	return s.URL + path
}

// AddAttachment stores content and returns its download URL.
func (s *Server) AddAttachment(key string, content []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := "/v3/domains/mx.example.com/attachments/" + key
	s.files[path] = content
	return s.URL + path
}

// Fail makes every request to rawURL answer with status.
func (s *Server) Fail(rawURL string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[strings.TrimPrefix(rawURL, s.URL)] = status
}

// Hits reports how many requests reached rawURL.
func (s *Server) Hits(rawURL string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[strings.TrimPrefix(rawURL, s.URL)]
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits[r.URL.Path]++

	user, pass, ok := r.BasicAuth()
	wantKey := s.APIKey
	if r.URL.Path == "/v3/address/validate" {
		wantKey = s.ValidationKey
	}
	if !ok || user != "api" || pass != wantKey {
		http.Error(w, "Forbidden", http.StatusUnauthorized)
		return
	}
	if status, ok := s.failures[r.URL.Path]; ok {
		http.Error(w, fmt.Sprintf("forced failure %d", status), status)
		return
	}

	if r.URL.Path == "/v3/address/validate" {
		writeJSON(w, validate(r.URL.Query().Get("address")))
		return
	}
	if payload, ok := s.messages[r.URL.Path]; ok {
		writeJSON(w, payload)
		return
	}
	if content, ok := s.files[r.URL.Path]; ok {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(content)
		return
	}
	http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
}

func validate(address string) map[string]any {
	addr := strings.TrimSpace(address)
	display := ""
	if i := strings.LastIndex(addr, "<"); i >= 0 {
		display = strings.TrimSpace(addr[:i])
		addr = strings.TrimSuffix(addr[i+1:], ">")
	}
	parts := map[string]any{"display_name": nil, "local_part": nil, "domain": nil}
	if display != "" {
		parts["display_name"] = display
	}
	valid := false
	if at := strings.LastIndex(addr, "@"); at > 0 {
		parts["local_part"] = addr[:at]
		parts["domain"] = addr[at+1:]
		valid = true
	}
	return map[string]any{"address": address, "is_valid": valid, "parts": parts}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
