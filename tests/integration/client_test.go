//go:build integration

package integration

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/pagedsource/internal/testutil"
	"github.com/Sternrassler/pagedsource/pkg/cache"
	"github.com/Sternrassler/pagedsource/pkg/client"
	"github.com/Sternrassler/pagedsource/pkg/datasource"
	"github.com/Sternrassler/pagedsource/pkg/navigator"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const publicURL = "https://rickandmortyapi.com/api/character"

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

// testTransport redirects requests for the public API to the mock server.
type testTransport struct {
	mock *testutil.MockUpstream
}

func (t *testTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	target, err := url.Parse(t.mock.URL())
	if err != nil {
		return nil, err
	}
	req.URL.Scheme = target.Scheme
	req.URL.Host = target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func newSource(t *testing.T, mock *testutil.MockUpstream, store cache.Store, flat bool) *datasource.DataSource {
	t.Helper()

	cfg := client.DefaultConfig(publicURL)
	if flat {
		cfg.Format = client.FormatFlat
	}
	c, err := client.New(cfg)
	require.NoError(t, err)
	c.SetHTTPClient(&http.Client{Transport: &testTransport{mock: mock}, Timeout: 5 * time.Second})

	dsCfg := datasource.DefaultConfig(publicURL)
	dsCfg.Flat = flat
	ds, err := datasource.New(c, store, dsCfg, zerolog.Nop())
	require.NoError(t, err)
	return ds
}

// TestFullFlow tests Display Page → Redis Cache → Upstream → Cache Update.
func TestFullFlow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockUpstream(826, 20)
	defer mock.Close()

	ctx := context.Background()
	store := cache.NewRedisStore(redisClient, "full-flow")
	ds := newSource(t, mock, store, false)

	page1, err := ds.GetDisplayPage(ctx, 1)
	require.NoError(t, err)
	require.Len(t, page1, 10)
	assert.Equal(t, 1, page1[0].ID)

	page2, err := ds.GetDisplayPage(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 11, page2[0].ID)
	assert.Equal(t, 1, mock.RequestCount(), "pages 1 and 2 share one upstream page")

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	all, err := ds.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 826)
	assert.Equal(t, 42, mock.RequestCount())

	n, err = store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	last, err := ds.GetDisplayPage(ctx, 83)
	require.NoError(t, err)
	assert.Len(t, last, 6)
	assert.Equal(t, 826, last[5].ID)
}

// TestSharedCache verifies a second data source on the same namespace is
// served from Redis, including the collection metadata.
func TestSharedCache(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockUpstream(826, 20)
	defer mock.Close()

	ctx := context.Background()
	first := newSource(t, mock, cache.NewRedisStore(redisClient, "shared"), false)
	_, err := first.GetDisplayPage(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, 1, mock.RequestCount())

	second := newSource(t, mock, cache.NewRedisStore(redisClient, "shared"), false)
	items, err := second.GetDisplayPage(ctx, 6)
	require.NoError(t, err)

	assert.Equal(t, 51, items[0].ID)
	assert.Equal(t, 1, mock.RequestCount())
	assert.Equal(t, int64(0), second.FetchCount())
	assert.Equal(t, 83, second.TotalDisplayPages())
}

// TestClose verifies Close discards only its own namespace.
func TestClose(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockUpstream(100, 20)
	defer mock.Close()

	ctx := context.Background()
	storeA := cache.NewRedisStore(redisClient, "session-a")
	storeB := cache.NewRedisStore(redisClient, "session-b")
	a := newSource(t, mock, storeA, false)
	b := newSource(t, mock, storeB, false)

	_, err := a.LoadAll(ctx)
	require.NoError(t, err)
	_, err = b.LoadAll(ctx)
	require.NoError(t, err)

	require.NoError(t, a.Close(ctx))

	n, err := storeA.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = storeB.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, known := a.Metadata()
	assert.False(t, known)
}

// TestFlatUpstream verifies an unpaginated collection costs one request.
func TestFlatUpstream(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewFlatMockUpstream(200)
	defer mock.Close()

	ctx := context.Background()
	ds := newSource(t, mock, cache.NewRedisStore(redisClient, "todos"), true)
	nav := navigator.New(ds, navigator.DefaultConfig())

	view, err := nav.Last(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, view.Page)
	assert.Len(t, view.Items, 10)

	for p := 1; p <= 20; p++ {
		_, err := nav.GoTo(ctx, p)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, mock.RequestCount())
}

// TestConcurrentMisses verifies concurrent loads share one HTTP request.
func TestConcurrentMisses(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockUpstream(826, 20)
	defer mock.Close()

	ds := newSource(t, mock, cache.NewRedisStore(redisClient, "coalesce"), false)
	arrived, release := mock.Hold(3)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// display pages 5 and 6 both live on upstream page 3
			_, err := ds.GetDisplayPage(context.Background(), 5+i%2)
			errs <- err
		}()
	}

	select {
	case <-arrived:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream request never arrived")
	}
	time.Sleep(100 * time.Millisecond)
	release()
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, mock.PageRequestCount(3))
}
