package cli

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/harun/seqbot/internal/daemon"
	"github.com/spf13/cobra"
)

var (
	stopTimeout int
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the seqbot daemon",
	Long: `Stop the seqbot daemon gracefully.
Sends SIGTERM to the daemon and waits for it to shut down. Replays in
progress get a short grace period before they are cancelled.`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().IntVar(&stopTimeout, "timeout", 30, "timeout in seconds to wait for daemon to stop")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	pidFile := daemon.PIDFilePath(cfg.DataDir)

	pid, err := stopDaemon(pidFile)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(time.Duration(stopTimeout) * time.Second)
	for time.Now().Before(deadline) {
		if !daemon.ProcessAlive(pid) {
			fmt.Fprintln(out, "Daemon stopped successfully")
			_ = os.Remove(pidFile)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	fmt.Fprintln(out, "Timeout reached, sending SIGKILL...")

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}
	if err := process.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to send SIGKILL: %w", err)
	}

	_ = os.Remove(pidFile)
	fmt.Fprintln(out, "Daemon killed")
	return nil
}

// stopDaemon sends SIGTERM to the process in pidFile and returns its PID
func stopDaemon(pidFile string) (int, error) {
	pid, err := daemon.ReadPID(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("daemon is not running")
		}
		return 0, err
	}

	if !daemon.ProcessAlive(pid) {
		_ = os.Remove(pidFile)
		return 0, fmt.Errorf("daemon is not running (removed stale PID file)")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("failed to find process: %w", err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return 0, fmt.Errorf("failed to send SIGTERM: %w", err)
	}
	return pid, nil
}
