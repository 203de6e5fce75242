package server

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isPermissionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{"permission denied", "operation not permitted", "not permitted"} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// startLoopback binds IPv4 loopback explicitly and skips when the sandbox
// refuses to open sockets.
func startLoopback(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()

	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping loopback server: %v", err)
		}
		require.NoError(t, err)
	}

	ts := &httptest.Server{
		Listener: listener,
		Config:   &http.Server{Handler: handler},
	}
	ts.Start()
	t.Cleanup(ts.Close)
	return ts
}

func TestServerConcurrentRequestsOverLoopback(t *testing.T) {
	srv, collector, _ := newTestServer(t)
	ts := startLoopback(t, srv.Handler())
	client := ts.Client()

	const numRequests = 40
	const numWorkers = 8

	paths := []string{"/health/live", "/apis", "/missing"}
	jobs := make(chan int, numRequests)
	for i := 0; i < numRequests; i++ {
		jobs <- i
	}
	close(jobs)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[int]int{}
	)
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				resp, err := client.Get(ts.URL + paths[i%len(paths)])
				if err != nil {
					t.Errorf("request %d: %v", i, err)
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				_ = resp.Body.Close()

				mu.Lock()
				statuses[resp.StatusCode]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 27, statuses[http.StatusOK])
	assert.Equal(t, 13, statuses[http.StatusNotFound])

	live := testutil.ToFloat64(collector.HTTPRequests.WithLabelValues(http.MethodGet, "/health/live", "200"))
	assert.Equal(t, float64(14), live)
	missing := testutil.ToFloat64(collector.HTTPRequests.WithLabelValues(http.MethodGet, "/unknown", "404"))
	assert.Equal(t, float64(13), missing)
}
