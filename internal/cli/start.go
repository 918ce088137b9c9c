package cli

import (
	"fmt"
	"os"

	"github.com/harun/seqbot/internal/daemon"
	"github.com/harun/seqbot/internal/logger"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the seqbot daemon",
	Long: `Start the seqbot daemon in the foreground.
The daemon polls Telegram for updates and runs until it receives SIGINT or
SIGTERM.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pidFile := daemon.PIDFilePath(cfg.DataDir)
	if isRunning(pidFile) {
		return fmt.Errorf("daemon is already running (PID file: %s)", pidFile)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.FromConfig(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}

	if err := d.Start(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "seqbot started (PID %d)\n", os.Getpid())
	d.Wait()

	return nil
}

func isRunning(pidFile string) bool {
	pid, err := daemon.ReadPID(pidFile)
	if err != nil {
		return false
	}
	return daemon.ProcessAlive(pid)
}
