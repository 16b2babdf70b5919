package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/pagedsource/internal/testutil"
	"github.com/Sternrassler/pagedsource/pkg/cache"
	"github.com/Sternrassler/pagedsource/pkg/client"
	"github.com/Sternrassler/pagedsource/pkg/config"
	"github.com/Sternrassler/pagedsource/pkg/datasource"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type pageResponse struct {
	Page       int               `json:"page"`
	TotalPages int               `json:"total_pages"`
	TotalItems int               `json:"total_items"`
	Items      []json.RawMessage `json:"items"`
	Window     []any             `json:"window"`
	Controls   struct {
		Prev     bool `json:"prev"`
		Next     bool `json:"next"`
		LastPage int  `json:"last_page"`
	} `json:"controls"`
}

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Redis container unavailable: %v", err)
	}

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		redisC.Terminate(ctx)
	}

	return redisClient, cleanup
}

func newTestServer(t *testing.T, mock *testutil.MockUpstream, ready readyFunc) (*httptest.Server, *datasource.DataSource) {
	t.Helper()

	upstream, err := client.New(client.DefaultConfig(mock.URL()))
	if err != nil {
		t.Fatalf("Failed to create upstream client: %v", err)
	}
	ds, err := datasource.New(upstream, nil, datasource.DefaultConfig(mock.URL()), zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create data source: %v", err)
	}

	srv := httptest.NewServer(newServer(ds, ready, 5*time.Second).routes())
	t.Cleanup(srv.Close)
	return srv, ds
}

func getPage(t *testing.T, url string) (int, pageResponse, string) {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	var page pageResponse
	if resp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(body, &page); err != nil {
			t.Fatalf("decode page response: %v", err)
		}
	}
	return resp.StatusCode, page, string(body)
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestReadyEndpoint(t *testing.T) {
	mock := testutil.NewMockUpstream(826, 20)
	defer mock.Close()

	t.Run("memory_backend", func(t *testing.T) {
		srv, _ := newTestServer(t, mock, nil)

		resp, err := http.Get(srv.URL + "/ready")
		if err != nil {
			t.Fatalf("GET /ready: %v", err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("Expected status 200, got %d", resp.StatusCode)
		}
	})

	t.Run("dependency_down", func(t *testing.T) {
		srv, _ := newTestServer(t, mock, func(context.Context) error {
			return context.DeadlineExceeded
		})

		resp, err := http.Get(srv.URL + "/ready")
		if err != nil {
			t.Fatalf("GET /ready: %v", err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("Expected status 503, got %d", resp.StatusCode)
		}
	})
}

func TestReadyEndpoint_Redis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	redisClient, cleanup := setupTestRedis(t)
	defer cleanup()

	mock := testutil.NewMockUpstream(40, 20)
	defer mock.Close()

	srv, _ := newTestServer(t, mock, func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})

	t.Run("ready", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/ready")
		if err != nil {
			t.Fatalf("GET /ready: %v", err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("Expected status 200, got %d", resp.StatusCode)
		}
	})

	t.Run("not_ready_redis_down", func(t *testing.T) {
		redisClient.Close()

		resp, err := http.Get(srv.URL + "/ready")
		if err != nil {
			t.Fatalf("GET /ready: %v", err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("Expected status 503, got %d", resp.StatusCode)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	mock := testutil.NewMockUpstream(826, 20)
	defer mock.Close()
	srv, _ := newTestServer(t, mock, nil)

	// record at least one fetch
	if status, _, body := getPage(t, srv.URL+"/pages/1"); status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	bodyStr := string(body)
	if !strings.Contains(bodyStr, "# HELP") || !strings.Contains(bodyStr, "# TYPE") {
		t.Error("Expected Prometheus format metrics output")
	}
	for _, name := range []string{"pager_upstream_fetches_total", "pager_display_pages_served_total", "pager_upstream_requests_total"} {
		if !strings.Contains(bodyStr, name) {
			t.Errorf("Expected metrics output to contain %s", name)
		}
	}
}

func TestPageEndpoint(t *testing.T) {
	mock := testutil.NewMockUpstream(826, 20)
	defer mock.Close()
	srv, _ := newTestServer(t, mock, nil)

	status, page, body := getPage(t, srv.URL+"/pages/2")
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}

	if page.Page != 2 || page.TotalPages != 83 || page.TotalItems != 826 {
		t.Errorf("Unexpected page header: %+v", page)
	}
	if len(page.Items) != 10 {
		t.Fatalf("Expected 10 items, got %d", len(page.Items))
	}
	if !strings.Contains(string(page.Items[0]), testutil.ItemName(11)) {
		t.Errorf("Expected first item to be %s, got %s", testutil.ItemName(11), page.Items[0])
	}
	if !page.Controls.Prev || !page.Controls.Next || page.Controls.LastPage != 83 {
		t.Errorf("Unexpected controls: %+v", page.Controls)
	}
	if last := page.Window[len(page.Window)-1]; last != float64(83) {
		t.Errorf("Expected window to end on page 83, got %v", last)
	}

	// page 1 shares upstream page 1 with page 2
	if status, _, body := getPage(t, srv.URL+"/pages/1"); status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}
	if got := mock.RequestCount(); got != 1 {
		t.Errorf("Expected 1 upstream request, got %d", got)
	}

	status, page, _ = getPage(t, srv.URL+"/pages/83")
	if status != http.StatusOK || len(page.Items) != 6 {
		t.Errorf("Expected 6 items on the last page, got status %d with %d items", status, len(page.Items))
	}
}

func TestPageEndpoint_WindowOverrides(t *testing.T) {
	mock := testutil.NewMockUpstream(826, 20)
	defer mock.Close()
	srv, _ := newTestServer(t, mock, nil)

	status, page, body := getPage(t, srv.URL+"/pages/40?window=5&radius=1")
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}

	want := []any{float64(1), "...", float64(38), float64(39), float64(40), float64(41), float64(42), "...", float64(83)}
	if len(page.Window) != len(want) {
		t.Fatalf("Expected window %v, got %v", want, page.Window)
	}
	for i := range want {
		if page.Window[i] != want[i] {
			t.Errorf("window[%d] = %v, want %v", i, page.Window[i], want[i])
		}
	}

	for _, query := range []string{"window=0", "window=abc", "radius=-1"} {
		status, _, _ := getPage(t, srv.URL+"/pages/1?"+query)
		if status != http.StatusBadRequest {
			t.Errorf("?%s: expected status 400, got %d", query, status)
		}
	}
}

func TestPageEndpoint_Errors(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(mock *testutil.MockUpstream)
		path       string
		wantStatus int
	}{
		{
			name:       "page_zero",
			path:       "/pages/0",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "not_a_number",
			path:       "/pages/abc",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "huge_page_before_metadata",
			path:       "/pages/1844674407370955162",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "upstream_server_error",
			setup:      func(mock *testutil.MockUpstream) { mock.FailPage(1, http.StatusInternalServerError) },
			path:       "/pages/1",
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "upstream_missing_page",
			path:       "/pages/500",
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockUpstream(826, 20)
			defer mock.Close()
			if tt.setup != nil {
				tt.setup(mock)
			}
			srv, _ := newTestServer(t, mock, nil)

			status, _, body := getPage(t, srv.URL+tt.path)
			if status != tt.wantStatus {
				t.Errorf("Expected status %d, got %d: %s", tt.wantStatus, status, body)
			}
		})
	}
}

func TestPageEndpoint_OutOfRangeAfterMetadata(t *testing.T) {
	mock := testutil.NewMockUpstream(826, 20)
	defer mock.Close()
	srv, _ := newTestServer(t, mock, nil)

	if status, _, body := getPage(t, srv.URL+"/pages/1"); status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}

	status, _, body := getPage(t, srv.URL+"/pages/84")
	if status != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d: %s", status, body)
	}
	if !strings.Contains(body, "out of range") {
		t.Errorf("Expected out of range error, got %s", body)
	}
	if got := mock.RequestCount(); got != 1 {
		t.Errorf("Expected no upstream request for page 84, got %d requests", got)
	}
}

func TestOpenStore_Memory(t *testing.T) {
	cfg := config.Load()
	cfg.CacheBackend = config.BackendMemory

	store, ready, closeStore, err := openStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer closeStore()

	mem, ok := store.(*cache.MemoryStore)
	if !ok {
		t.Fatalf("Expected *cache.MemoryStore, got %T", store)
	}
	if mem.Namespace() != cfg.CacheNamespace {
		t.Errorf("Namespace() = %q, want %q", mem.Namespace(), cfg.CacheNamespace)
	}
	if ready != nil {
		t.Error("Expected no readiness check for the memory backend")
	}
}

func TestOpenStore_RedisUnreachable(t *testing.T) {
	cfg := config.Load()
	cfg.CacheBackend = config.BackendRedis
	cfg.RedisURL = "redis://127.0.0.1:1/0"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, _, _, err := openStore(ctx, cfg); err == nil {
		t.Error("Expected an error for an unreachable Redis")
	}
}
