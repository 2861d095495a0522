// Package testutil provides testing utilities for the Discord bulk reactor.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// MockResponse is a scripted response returned instead of the default
// behavior.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
}

// RecordedRequest is one request the mock received.
type RecordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
}

// Reaction is one PUT to the own-reaction route.
type Reaction struct {
	ChannelID string
	MessageID string
	Emoji     string
}

// MockDiscord is a configurable fake of the two Discord routes the reactor
// uses. Messages are held newest first per channel.
type MockDiscord struct {
	server *httptest.Server

	mu        sync.Mutex
	messages  map[string][]uint64
	queue     []MockResponse
	responses map[string]MockResponse
	requests  []RecordedRequest
	reactions []Reaction
}

// NewMockDiscord creates a new mock Discord server.
func NewMockDiscord() *MockDiscord {
	mock := &MockDiscord{
		messages:  make(map[string][]uint64),
		responses: make(map[string]MockResponse),
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server URL, usable as the client base URL.
func (m *MockDiscord) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockDiscord) Close() {
	m.server.Close()
}

// SetMessages replaces a channel's history. ids may be given in any order.
func (m *MockDiscord) SetMessages(channelID string, ids ...uint64) {
	sorted := append([]uint64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })

	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[channelID] = sorted
}

// QueueResponse makes the next unscripted request, on any route, receive
// resp. Queued responses are consumed in order.
func (m *MockDiscord) QueueResponse(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, resp)
}

// QueueRateLimit queues a 429 carrying retry_after seconds.
func (m *MockDiscord) QueueRateLimit(retryAfter float64, global bool) {
	body, _ := json.Marshal(map[string]any{
		"message":     "You are being rate limited.",
		"retry_after": retryAfter,
		"global":      global,
	})
	m.QueueResponse(MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       string(body),
		Headers: map[string]string{
			"Content-Type":            "application/json",
			"X-RateLimit-Remaining":   "0",
			"X-RateLimit-Reset-After": strconv.FormatFloat(retryAfter, 'f', 3, 64),
		},
	})
}

// SetResponse makes every request whose path has the given prefix receive
// resp.
func (m *MockDiscord) SetResponse(pathPrefix string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[pathPrefix] = resp
}

// Requests returns a copy of every request received.
func (m *MockDiscord) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// RequestCount returns the number of requests received.
func (m *MockDiscord) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// ListRequests returns the message list requests in order.
func (m *MockDiscord) ListRequests() []RecordedRequest {
	var out []RecordedRequest
	for _, r := range m.Requests() {
		if r.Method == http.MethodGet && strings.HasSuffix(r.Path, "/messages") {
			out = append(out, r)
		}
	}
	return out
}

// Reactions returns the successfully applied reactions in order.
func (m *MockDiscord) Reactions() []Reaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Reaction(nil), m.reactions...)
}

// ReactedMessageIDs returns the message ids of applied reactions in order.
func (m *MockDiscord) ReactedMessageIDs() []string {
	var ids []string
	for _, r := range m.Reactions() {
		ids = append(ids, r.MessageID)
	}
	return ids
}

func (m *MockDiscord) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
	})

	if len(m.queue) > 0 {
		resp := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		writeResponse(w, resp)
		return
	}

	for prefix, resp := range m.responses {
		if strings.HasPrefix(r.URL.Path, prefix) {
			m.mu.Unlock()
			writeResponse(w, resp)
			return
		}
	}
	m.mu.Unlock()

	if r.Header.Get("Authorization") == "" {
		writeError(w, http.StatusUnauthorized, "401: Unauthorized", 0)
		return
	}

	// /channels/{channel}/messages[/{message}/reactions/{emoji}/@me]
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.Method == http.MethodGet && len(parts) == 3 && parts[0] == "channels" && parts[2] == "messages":
		m.listMessages(w, r, parts[1])
	case r.Method == http.MethodPut && len(parts) == 7 && parts[0] == "channels" &&
		parts[2] == "messages" && parts[4] == "reactions" && parts[6] == "@me":
		m.addReaction(w, parts[1], parts[3], parts[5])
	default:
		writeError(w, http.StatusNotFound, "404: Not Found", 0)
	}
}

func (m *MockDiscord) listMessages(w http.ResponseWriter, r *http.Request, channelID string) {
	m.mu.Lock()
	history, ok := m.messages[channelID]
	m.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown Channel", 10003)
		return
	}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusBadRequest, "Invalid Form Body", 50035)
			return
		}
		limit = n
	}

	var before uint64
	if s := r.URL.Query().Get("before"); s != "" {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid Form Body", 50035)
			return
		}
		before = n
	}

	page := make([]map[string]string, 0, limit)
	for _, id := range history {
		if before != 0 && id >= before {
			continue
		}
		page = append(page, map[string]string{"id": strconv.FormatUint(id, 10)})
		if len(page) == limit {
			break
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-RateLimit-Limit", "5")
	w.Header().Set("X-RateLimit-Remaining", "4")
	w.Header().Set("X-RateLimit-Reset-After", "1.000")
	w.Header().Set("X-RateLimit-Bucket", "messages-list")
	json.NewEncoder(w).Encode(page)
}

func (m *MockDiscord) addReaction(w http.ResponseWriter, channelID, messageID, emoji string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reactions = append(m.reactions, Reaction{
		ChannelID: channelID,
		MessageID: messageID,
		Emoji:     emoji,
	})
	w.Header().Set("X-RateLimit-Limit", "1")
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.Header().Set("X-RateLimit-Reset-After", "0.250")
	w.Header().Set("X-RateLimit-Bucket", "reactions")
	w.WriteHeader(http.StatusNoContent)
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

func writeError(w http.ResponseWriter, status int, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"message": %q, "code": %d}`, message, code)
}
