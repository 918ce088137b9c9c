package cli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harun/seqbot/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_Stopped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seqbot.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"data_dir":"`+dir+`"}`), 0600))
	t.Cleanup(func() { cfgFile = "" })

	out, err := execute(t, "status", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "Status: stopped\n", out)
}

func TestHealthURL(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"0.0.0.0", "http://127.0.0.1:8080/healthz"},
		{"", "http://127.0.0.1:8080/healthz"},
		{"10.0.0.5", "http://10.0.0.5:8080/healthz"},
		{"::1", "http://[::1]:8080/healthz"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, healthURL(config.HealthConfig{Host: tt.host, Port: 8080}), tt.host)
	}
}

func TestPrintHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte(`{"status":"ok","telegram":"connected","active_sessions":2,"channels":1}`))
		case "/degraded":
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"degraded","telegram":"disconnected"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	t.Run("ok", func(t *testing.T) {
		var out bytes.Buffer
		printHealth(&out, srv.URL+"/ok")
		assert.Equal(t, "Health: ok\nTelegram: connected\nActive sessions: 2\nChannels: 1\n", out.String())
	})

	t.Run("degraded body is still shown", func(t *testing.T) {
		var out bytes.Buffer
		printHealth(&out, srv.URL+"/degraded")
		assert.Contains(t, out.String(), "Health: degraded")
	})

	t.Run("unexpected status", func(t *testing.T) {
		var out bytes.Buffer
		printHealth(&out, srv.URL+"/missing")
		assert.Contains(t, out.String(), "Health: unreachable (unexpected status 404")
	})
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{"seconds only", 45 * time.Second, "45s"},
		{"minutes and seconds", 2*time.Minute + 30*time.Second, "2m30s"},
		{"hours minutes seconds", 3*time.Hour + 15*time.Minute + 20*time.Second, "3h15m20s"},
		{"rounds to the second", 1500 * time.Millisecond, "2s"},
		{"zero", 0, "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatDuration(tt.duration))
		})
	}
}
