// Package testutil provides testing utilities for the comment ingestion engine.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockComment is a canned comment served by the mock API.
type MockComment struct {
	ID          string
	Text        string
	PostedDate  string
	ModifyDate  string
	DocumentID  string
	Attachments []MockAttachment
}

// MockAttachment is canned attachment metadata for a mock comment.
type MockAttachment struct {
	ID         string
	DocOrder   int
	Title      string
	ModifyDate string
	FileFormat string
	FileURL    string
	Size       int64
}

// MockRegsGov is a configurable mock regulations.gov v4 server. It serves a
// docket of comments through the list and detail endpoints, honoring
// page[size], page[number] and the lastModifiedDate filter.
type MockRegsGov struct {
	server *httptest.Server

	mu         sync.RWMutex
	comments   []MockComment
	failDetail map[string]int // comment ID -> forced status code
	listStatus int            // forced list status, 0 means 200
	remaining  int            // X-RateLimit-Remaining header value

	// Tracking
	RequestCount  int
	ListCount     int
	DetailCount   int
	LastListQuery url.Values
}

// NewMockRegsGov creates a new mock server with an empty docket.
func NewMockRegsGov() *MockRegsGov {
	mock := &MockRegsGov{
		failDetail: make(map[string]int),
		remaining:  950,
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))

	return mock
}

// URL returns the mock server URL (use as the client's BaseURL).
func (m *MockRegsGov) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockRegsGov) Close() {
	m.server.Close()
}

// SetComments replaces the docket content. List order is the served order.
func (m *MockRegsGov) SetComments(comments []MockComment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.comments = comments
}

// FailDetail forces the detail endpoint for one comment to return status.
func (m *MockRegsGov) FailDetail(commentID string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failDetail[commentID] = status
}

// SetListStatus forces the list endpoint to return status (0 restores 200).
func (m *MockRegsGov) SetListStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listStatus = status
}

// SetRemaining sets the X-RateLimit-Remaining header value.
func (m *MockRegsGov) SetRemaining(remaining int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remaining = remaining
}

// Reset clears tracking counters and forced failures.
func (m *MockRegsGov) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.ListCount = 0
	m.DetailCount = 0
	m.LastListQuery = nil
	m.failDetail = make(map[string]int)
	m.listStatus = 0
}

func (m *MockRegsGov) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.RequestCount++
	m.mu.Unlock()

	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(m.currentRemaining()))
	w.Header().Set("X-RateLimit-Limit", "1000")
	w.Header().Set("Content-Type", "application/vnd.api+json")

	switch {
	case r.URL.Path == "/comments":
		m.handleList(w, r)
	case strings.HasPrefix(r.URL.Path, "/comments/"):
		m.handleDetail(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"errors":[{"status":"404"}]}`))
	}
}

func (m *MockRegsGov) currentRemaining() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.remaining
}

func (m *MockRegsGov) handleList(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.ListCount++
	m.LastListQuery = r.URL.Query()
	forced := m.listStatus
	docket := make([]MockComment, len(m.comments))
	copy(docket, m.comments)
	m.mu.Unlock()

	if forced != 0 {
		w.WriteHeader(forced)
		w.Write([]byte(`{"errors":[{"status":"` + strconv.Itoa(forced) + `"}]}`))
		return
	}

	query := r.URL.Query()
	pageSize := queryInt(query, "page[size]", 250)
	pageNumber := queryInt(query, "page[number]", 1)

	// Honor the lastModifiedDate filter the way the real API does: records at
	// or after the marker, in stable (lastModifiedDate, id) order.
	if since := query.Get("filter[lastModifiedDate][ge]"); since != "" {
		if t, err := time.Parse("2006-01-02 15:04:05", since); err == nil {
			iso := t.Format("2006-01-02T15:04:05Z")
			filtered := docket[:0]
			for _, c := range docket {
				if c.ModifyDate >= iso {
					filtered = append(filtered, c)
				}
			}
			docket = filtered
		}
	}

	start := (pageNumber - 1) * pageSize
	if start > len(docket) {
		start = len(docket)
	}
	end := start + pageSize
	if end > len(docket) {
		end = len(docket)
	}
	pageComments := docket[start:end]

	data := make([]map[string]any, 0, len(pageComments))
	for _, c := range pageComments {
		data = append(data, map[string]any{
			"id":   c.ID,
			"type": "comments",
			"attributes": map[string]any{
				"lastModifiedDate": c.ModifyDate,
				"postedDate":       c.PostedDate,
			},
		})
	}

	resp := map[string]any{
		"data": data,
		"meta": map[string]any{"totalElements": len(docket)},
	}
	json.NewEncoder(w).Encode(resp)
}

func (m *MockRegsGov) handleDetail(w http.ResponseWriter, r *http.Request) {
	commentID := strings.TrimPrefix(r.URL.Path, "/comments/")

	m.mu.Lock()
	m.DetailCount++
	forced := m.failDetail[commentID]
	var found *MockComment
	for i := range m.comments {
		if m.comments[i].ID == commentID {
			found = &m.comments[i]
			break
		}
	}
	m.mu.Unlock()

	if forced != 0 {
		w.WriteHeader(forced)
		w.Write([]byte(`{"errors":[{"status":"` + strconv.Itoa(forced) + `"}]}`))
		return
	}

	if found == nil {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"errors":[{"status":"404"}]}`))
		return
	}

	included := make([]map[string]any, 0, len(found.Attachments))
	for _, att := range found.Attachments {
		included = append(included, map[string]any{
			"id":   att.ID,
			"type": "attachments",
			"attributes": map[string]any{
				"docOrder":   att.DocOrder,
				"title":      att.Title,
				"modifyDate": att.ModifyDate,
				"fileFormats": []map[string]any{
					{"format": att.FileFormat, "fileUrl": att.FileURL, "size": att.Size},
				},
			},
		})
	}

	resp := map[string]any{
		"data": map[string]any{
			"id":   found.ID,
			"type": "comments",
			"attributes": map[string]any{
				"comment":             found.Text,
				"postedDate":          found.PostedDate,
				"modifyDate":          found.ModifyDate,
				"commentOnDocumentId": found.DocumentID,
			},
		},
		"included": included,
	}
	json.NewEncoder(w).Encode(resp)
}

func queryInt(query url.Values, key string, fallback int) int {
	if v := query.Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// Docket builds n sequential mock comments with deterministic IDs and
// modification timestamps one minute apart.
func Docket(n int, documentID string) []MockComment {
	comments := make([]MockComment, 0, n)
	base := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		ts := base.Add(time.Duration(i) * time.Minute).Format("2006-01-02T15:04:05Z")
		comments = append(comments, MockComment{
			ID:         "CMT-" + strconv.Itoa(i+1),
			Text:       "comment body " + strconv.Itoa(i+1),
			PostedDate: ts,
			ModifyDate: ts,
			DocumentID: documentID,
		})
	}
	return comments
}
