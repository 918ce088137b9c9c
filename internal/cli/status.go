package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/harun/seqbot/internal/config"
	"github.com/harun/seqbot/internal/daemon"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long:  `Show the current status of the seqbot daemon, including its health endpoint when enabled.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	pidFile := daemon.PIDFilePath(cfg.DataDir)

	if !isRunning(pidFile) {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}

	pid, err := daemon.ReadPID(pidFile)
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	fmt.Fprintf(out, "Status: running\n")
	fmt.Fprintf(out, "PID: %d\n", pid)

	// PID file modification time approximates the start time
	if fileInfo, err := os.Stat(pidFile); err == nil {
		fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Since(fileInfo.ModTime())))
	}

	if cfg.Health.Enabled {
		printHealth(out, healthURL(cfg.Health))
	}

	return nil
}

func printHealth(out io.Writer, url string) {
	hs, err := fetchHealth(url)
	if err != nil {
		fmt.Fprintf(out, "Health: unreachable (%v)\n", err)
		return
	}
	fmt.Fprintf(out, "Health: %s\n", hs.Status)
	fmt.Fprintf(out, "Telegram: %s\n", hs.Telegram)
	fmt.Fprintf(out, "Active sessions: %d\n", hs.ActiveSessions)
	fmt.Fprintf(out, "Channels: %d\n", hs.Channels)
}

// healthURL maps a wildcard listen host to loopback.
func healthURL(h config.HealthConfig) string {
	host := h.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(h.Port)) + "/healthz"
}

// fetchHealth decodes /healthz. A 503 still carries a status body and is
// not an error.
func fetchHealth(url string) (*daemon.HealthStatus, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var hs daemon.HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&hs); err != nil {
		return nil, fmt.Errorf("decode health response: %w", err)
	}
	return &hs, nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
