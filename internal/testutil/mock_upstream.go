// Package testutil provides testing utilities for the paged data source.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// Style selects the response shape served by MockUpstream.
type Style int

const (
	// StyleEnvelope serves `?page=N` with `{"results": [...], "info": {...}}`.
	StyleEnvelope Style = iota
	// StyleFlat serves the whole collection as a JSON array.
	StyleFlat
)

// MockUpstream is a configurable mock of a public collection API.
type MockUpstream struct {
	server   *httptest.Server
	style    Style
	count    int
	pageSize int

	mu           sync.Mutex
	requests     int
	pageRequests map[int]int
	failures     map[int]int
	rawBody      string
	delay        time.Duration
	gates        map[int]*gate
	lastHeader   http.Header
}

type gate struct {
	arrived chan struct{}
	release chan struct{}
	once    sync.Once
}

// NewMockUpstream creates a paginated upstream serving count items in pages
// of pageSize.
func NewMockUpstream(count, pageSize int) *MockUpstream {
	return newMock(StyleEnvelope, count, pageSize)
}

// NewFlatMockUpstream creates an upstream serving count items as one array.
func NewFlatMockUpstream(count int) *MockUpstream {
	return newMock(StyleFlat, count, count)
}

func newMock(style Style, count, pageSize int) *MockUpstream {
	m := &MockUpstream{
		style:        style,
		count:        count,
		pageSize:     pageSize,
		pageRequests: make(map[int]int),
		failures:     make(map[int]int),
		gates:        make(map[int]*gate),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the collection endpoint.
func (m *MockUpstream) URL() string {
	return m.server.URL + "/api/items"
}

// Close shuts down the mock server and releases any held requests.
func (m *MockUpstream) Close() {
	m.mu.Lock()
	for _, g := range m.gates {
		g.open()
	}
	m.mu.Unlock()
	m.server.Close()
}

// Pages returns the number of upstream pages.
func (m *MockUpstream) Pages() int {
	if m.pageSize <= 0 {
		return 0
	}
	return (m.count + m.pageSize - 1) / m.pageSize
}

// RequestCount returns the number of requests served.
func (m *MockUpstream) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

// PageRequestCount returns the number of requests for one upstream page.
func (m *MockUpstream) PageRequestCount(page int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pageRequests[page]
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockUpstream) LastRequestHeader() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeader
}

// FailPage makes every request for page answer with status until cleared.
func (m *MockUpstream) FailPage(page, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[page] = status
}

// ClearFailures removes all injected failures.
func (m *MockUpstream) ClearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = make(map[int]int)
}

// SetRawBody makes every successful request answer with body verbatim.
func (m *MockUpstream) SetRawBody(body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rawBody = body
}

// SetDelay delays every response.
func (m *MockUpstream) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Hold blocks requests for page until release is called. arrived receives a
// value each time a held request reaches the server.
func (m *MockUpstream) Hold(page int) (arrived <-chan struct{}, release func()) {
	g := &gate{
		arrived: make(chan struct{}, 64),
		release: make(chan struct{}),
	}
	m.mu.Lock()
	m.gates[page] = g
	m.mu.Unlock()
	return g.arrived, g.open
}

func (g *gate) open() {
	g.once.Do(func() { close(g.release) })
}

// ItemName is the name field of the mock item with the given id.
func ItemName(id int) string {
	return fmt.Sprintf("Item %d", id)
}

type mockItem struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

func (m *MockUpstream) handle(w http.ResponseWriter, r *http.Request) {
	page := 1
	if m.style == StyleEnvelope {
		if p := r.URL.Query().Get("page"); p != "" {
			n, err := strconv.Atoi(p)
			if err != nil {
				http.Error(w, `{"error":"invalid page"}`, http.StatusBadRequest)
				return
			}
			page = n
		}
	}

	m.mu.Lock()
	m.requests++
	m.pageRequests[page]++
	m.lastHeader = r.Header.Clone()
	failStatus := m.failures[page]
	raw := m.rawBody
	delay := m.delay
	g := m.gates[page]
	m.mu.Unlock()

	if g != nil {
		select {
		case g.arrived <- struct{}{}:
		default:
		}
		<-g.release
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	if failStatus != 0 {
		w.WriteHeader(failStatus)
		w.Write([]byte(`{"error":"injected failure"}`))
		return
	}
	if raw != "" {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(raw))
		return
	}

	if m.style == StyleFlat {
		json.NewEncoder(w).Encode(m.items(1, m.count))
		return
	}

	if page < 1 || page > m.Pages() {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"There is nothing here"}`))
		return
	}

	first := (page-1)*m.pageSize + 1
	last := first + m.pageSize - 1
	if last > m.count {
		last = m.count
	}

	resp := map[string]any{
		"info": map[string]any{
			"count": m.count,
			"pages": m.Pages(),
			"next":  m.link(page + 1),
			"prev":  m.link(page - 1),
		},
		"results": m.items(first, last),
	}
	json.NewEncoder(w).Encode(resp)
}

func (m *MockUpstream) items(first, last int) []mockItem {
	items := make([]mockItem, 0, last-first+1)
	for id := first; id <= last; id++ {
		items = append(items, mockItem{ID: id, Name: ItemName(id), Status: "Alive"})
	}
	return items
}

func (m *MockUpstream) link(page int) any {
	if page < 1 || page > m.Pages() {
		return nil
	}
	return fmt.Sprintf("%s?page=%d", m.URL(), page)
}
