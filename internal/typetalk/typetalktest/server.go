// Package typetalktest runs an in-process stand-in for the Typetalk token,
// topic, talk, attachment and post endpoints.
package typetalktest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
)

type Post struct {
	ID           int64
	TopicID      int64
	Message      string
	FileKeys     []string
	TalkIDs      []int64
	ReplyTo      int64
	ShowLinkMeta string
}

type Upload struct {
	TopicID     int64
	Filename    string
	ContentType string
	Content     []byte
}

type topic struct {
	name  string
	talks []talk
}

type talk struct {
	id   int64
	name string
}

type Server struct {
	*httptest.Server
	ClientID     string
	ClientSecret string
	Token        string

	mu          sync.Mutex
	nextID      int64
	topics      map[int64]*topic
	posts       []Post
	uploads     []Upload
	botPosts    []string
	tokenCalls  int
	talkCreates int
	failures    map[string]int
}

func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		ClientID:     "client-test",
		ClientSecret: "secret-test",
		Token:        "access-token-test",
		nextID:       1000,
		topics:       map[int64]*topic{},
		failures:     map[string]int{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth2/access_token", s.handleToken)
	mux.HandleFunc("GET /api/v1/topics/{topic}/details", s.auth(s.handleDetails))
	mux.HandleFunc("GET /api/v1/topics/{topic}/talks", s.auth(s.handleListTalks))
	mux.HandleFunc("POST /api/v1/topics/{topic}/talks", s.auth(s.handleCreateTalk))
	mux.HandleFunc("GET /api/v1/topics/{topic}/talks/{talk}/posts", s.auth(s.handleTalkPosts))
	mux.HandleFunc("POST /api/v1/topics/{topic}/attachments", s.auth(s.handleUpload))
	mux.HandleFunc("POST /api/v1/topics/{topic}", s.auth(s.handlePost))
	mux.HandleFunc("POST /bot/{topic}", s.handleBot)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// AddTopic registers a topic the API will report as existing.
func (s *Server) AddTopic(id int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics[id] = &topic{name: name}
}

// AddTalk seeds a talk and returns its id.
func (s *Server) AddTalk(topicID int64, name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addTalkLocked(s.topics[topicID], name)
}

// AddPost seeds a post tagged with talkIDs and returns its id.
func (s *Server) AddPost(topicID int64, message string, talkIDs ...int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.posts = append(s.posts, Post{ID: s.nextID, TopicID: topicID, Message: message, TalkIDs: talkIDs})
	return s.nextID
}

// Fail makes requests whose "METHOD path" equals key answer with status.
func (s *Server) Fail(method, path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method+" "+path] = status
}

func (s *Server) Posts(topicID int64) []Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Post
	for _, p := range s.posts {
		if p.TopicID == topicID {
			out = append(out, p)
		}
	}
	return out
}

// TalkNames lists a topic's talk names sorted.
func (s *Server) TalkNames(topicID int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	if tp := s.topics[topicID]; tp != nil {
		for _, tk := range tp.talks {
			out = append(out, tk.name)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Server) TalkID(topicID int64, name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tp := s.topics[topicID]; tp != nil {
		for _, tk := range tp.talks {
			if tk.name == name {
				return tk.id
			}
		}
	}
	return 0
}

func (s *Server) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Upload(nil), s.uploads...)
}

func (s *Server) BotPosts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.botPosts...)
}

func (s *Server) TokenCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenCalls
}

func (s *Server) TalkCreates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.talkCreates
}

func (s *Server) addTalkLocked(tp *topic, name string) int64 {
	s.nextID++
	tp.talks = append(tp.talks, talk{id: s.nextID, name: name})
	return s.nextID
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenCalls++
	if status, ok := s.failures["POST /oauth2/access_token"]; ok {
		writeError(w, status)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("grant_type") != "client_credentials" ||
		r.PostForm.Get("client_id") != s.ClientID ||
		r.PostForm.Get("client_secret") != s.ClientSecret {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"invalid_client"}`)
		return
	}
	writeJSON(w, map[string]any{
		"access_token": s.Token,
		"token_type":   "Bearer",
		"expires_in":   3600,
		"scope":        r.PostForm.Get("scope"),
	})
}

type topicHandler func(w http.ResponseWriter, r *http.Request, topicID int64, tp *topic)

// auth checks the bearer token and resolves the topic, holding the lock for
// the whole request.
func (s *Server) auth(next topicHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer "+s.Token {
			writeError(w, http.StatusUnauthorized)
			return
		}
		if status, ok := s.failures[r.Method+" "+r.URL.Path]; ok {
			writeError(w, status)
			return
		}
		topicID, err := strconv.ParseInt(r.PathValue("topic"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest)
			return
		}
		tp, ok := s.topics[topicID]
		if !ok {
			writeError(w, http.StatusNotFound)
			return
		}
		next(w, r, topicID, tp)
	}
}

func (s *Server) handleDetails(w http.ResponseWriter, _ *http.Request, topicID int64, tp *topic) {
	writeJSON(w, map[string]any{"topic": map[string]any{"id": topicID, "name": tp.name}})
}

func (s *Server) handleListTalks(w http.ResponseWriter, _ *http.Request, _ int64, tp *topic) {
	talks := make([]map[string]any, 0, len(tp.talks))
	for _, tk := range tp.talks {
		talks = append(talks, map[string]any{"id": tk.id, "name": tk.name})
	}
	writeJSON(w, map[string]any{"talks": talks})
}

func (s *Server) handleCreateTalk(w http.ResponseWriter, r *http.Request, _ int64, tp *topic) {
	name := r.FormValue("talkName")
	if name == "" {
		writeError(w, http.StatusBadRequest)
		return
	}
	s.talkCreates++
	id := s.addTalkLocked(tp, name)
	writeJSON(w, map[string]any{"talk": map[string]any{"id": id, "name": name}})
}

func (s *Server) handleTalkPosts(w http.ResponseWriter, r *http.Request, topicID int64, _ *topic) {
	talkID, err := strconv.ParseInt(r.PathValue("talk"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest)
		return
	}
	var matched []map[string]any
	for i := len(s.posts) - 1; i >= 0; i-- {
		p := s.posts[i]
		if p.TopicID != topicID || !containsID(p.TalkIDs, talkID) {
			continue
		}
		matched = append(matched, map[string]any{"id": p.ID, "topicId": p.TopicID, "message": p.Message})
		if r.URL.Query().Get("count") == "1" {
			break
		}
	}
	if matched == nil {
		matched = []map[string]any{}
	}
	writeJSON(w, map[string]any{"posts": matched})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, topicID int64, _ *topic) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest)
		return
	}
	defer file.Close()
	content, _ := io.ReadAll(file)
	s.uploads = append(s.uploads, Upload{
		TopicID:     topicID,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Content:     content,
	})
	writeJSON(w, map[string]any{"fileKey": fmt.Sprintf("filekey-%d", len(s.uploads)), "fileName": header.Filename})
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request, topicID int64, tp *topic) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest)
		return
	}
	s.nextID++
	p := Post{
		ID:           s.nextID,
		TopicID:      topicID,
		Message:      r.PostForm.Get("message"),
		ShowLinkMeta: r.PostForm.Get("showLinkMeta"),
	}
	for i := 0; ; i++ {
		key := r.PostForm.Get(fmt.Sprintf("fileKeys[%d]", i))
		if key == "" {
			break
		}
		p.FileKeys = append(p.FileKeys, key)
	}
	for i := 0; ; i++ {
		raw := r.PostForm.Get(fmt.Sprintf("talkIds[%d]", i))
		if raw == "" {
			break
		}
		id, _ := strconv.ParseInt(raw, 10, 64)
		p.TalkIDs = append(p.TalkIDs, id)
	}
	if raw := r.PostForm.Get("replyTo"); raw != "" {
		p.ReplyTo, _ = strconv.ParseInt(raw, 10, 64)
	}
	s.posts = append(s.posts, p)
	writeJSON(w, map[string]any{
		"topic": map[string]any{"id": topicID, "name": tp.name},
		"post":  map[string]any{"id": p.ID, "topicId": topicID, "message": p.Message},
	})
}

func (s *Server) handleBot(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.URL.Query().Get("typetalkToken") == "" {
		writeError(w, http.StatusUnauthorized)
		return
	}
	s.botPosts = append(s.botPosts, r.FormValue("message"))
	writeJSON(w, map[string]any{"post": map[string]any{"id": len(s.botPosts)}})
}

// BotURL returns a bot post URL for topicID.
func (s *Server) BotURL(topicID int64) string {
	return s.URL + "/bot/" + strconv.FormatInt(topicID, 10) + "?typetalkToken=bot-token"
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, fmt.Sprintf(`{"error":%q}`, strings.ToLower(http.StatusText(status))))
}
