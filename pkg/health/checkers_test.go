package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPCheckerStatusRange(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		wantHealthy bool
	}{
		{"200 is healthy", http.StatusOK, true},
		{"302 is healthy", http.StatusFound, true},
		{"500 is unhealthy", http.StatusInternalServerError, false},
		{"404 is unhealthy", http.StatusNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			result := NewHTTPChecker(srv.URL).Check(context.Background())
			assert.Equal(t, tt.wantHealthy, result.Healthy, result.Message)
		})
	}
}

func TestHTTPCheckerSendsConfiguredHeader(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("x-api-key")
	}))
	defer srv.Close()

	checker := NewHTTPChecker(srv.URL).WithMethod(http.MethodHead).WithHeader("x-api-key", "test-key")
	result := checker.Check(context.Background())

	require.True(t, result.Healthy)
	assert.Equal(t, "test-key", got)
}

func TestHTTPCheckerUnreachableHost(t *testing.T) {
	checker := NewHTTPChecker("http://127.0.0.1:1/never").WithTimeout(200 * time.Millisecond)
	result := checker.Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "request failed")
}

func TestTCPChecker(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	addr := srv.Listener.Addr().String()
	result := NewTCPChecker(addr).Check(context.Background())
	assert.True(t, result.Healthy)

	result = NewTCPChecker("127.0.0.1:1").WithTimeout(200 * time.Millisecond).Check(context.Background())
	assert.False(t, result.Healthy)
}

func TestFileChecker(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "ROADMAP.md")
	require.NoError(t, os.WriteFile(file, []byte("### PRIORITY 1"), 0o644))

	assert.True(t, NewFileChecker(file).Check(context.Background()).Healthy)
	assert.True(t, NewFileChecker(dir).AsDir().Check(context.Background()).Healthy)
	assert.False(t, NewFileChecker(file).AsDir().Check(context.Background()).Healthy)
	assert.False(t, NewFileChecker(filepath.Join(dir, "missing")).Check(context.Background()).Healthy)
}

func TestExecCheckerExitCode(t *testing.T) {
	ok := NewExecChecker([]string{"true"}).Check(context.Background())
	assert.True(t, ok.Healthy)

	bad := NewExecChecker([]string{"false"}).Check(context.Background())
	assert.False(t, bad.Healthy)

	none := NewExecChecker(nil).Check(context.Background())
	assert.False(t, none.Healthy)
}

func TestStatusUpdateRetryThreshold(t *testing.T) {
	cfg := Config{Retries: 3}
	st := NewStatus()

	for i := 0; i < 2; i++ {
		st.Update(Result{Healthy: false, CheckedAt: time.Now()}, cfg)
		assert.True(t, st.Healthy, "should stay healthy below retry threshold")
	}

	st.Update(Result{Healthy: false, CheckedAt: time.Now()}, cfg)
	assert.False(t, st.Healthy)
	assert.Equal(t, 3, st.ConsecutiveFailures)

	st.Update(Result{Healthy: true, CheckedAt: time.Now()}, cfg)
	assert.True(t, st.Healthy)
	assert.Equal(t, 0, st.ConsecutiveFailures)
}
