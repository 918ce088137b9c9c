package cli

import (
	"fmt"
	"os"

	"github.com/harun/seqbot/internal/config"
	"github.com/spf13/cobra"
)

var (
	initToken string
	initOwner int64
	initForce bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a configuration file with default values.
The bot token and owner id can be given as flags or set later through
SEQBOT_TELEGRAM_BOT_TOKEN and SEQBOT_TELEGRAM_OWNER_ID.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initToken, "token", "", "Telegram bot token")
	initCmd.Flags().Int64Var(&initOwner, "owner", 0, "Telegram user id of the bot owner")
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	configPath := loader.GetConfigPath()

	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("config file %s already exists (use --force to overwrite)", configPath)
	}

	cfg := config.DefaultConfig()
	if initToken != "" {
		if err := config.NewValidator().ValidateTelegramToken(initToken); err != nil {
			return err
		}
		cfg.Telegram.BotToken = initToken
	}
	cfg.Telegram.OwnerID = initOwner

	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to: %s\n", configPath)
	fmt.Fprintln(cmd.OutOrStdout(), "You can now start the bot with: seqbot start")

	return nil
}
