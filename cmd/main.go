package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/markjakearzadon/payentry-bot/internal/config"
	"github.com/markjakearzadon/payentry-bot/internal/logging"
)

var (
	mode   string
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "paybot",
	Short: "Telegram bot for entering customer payments",
	Long: `paybot walks vetted operators through a short dialog to record a
customer payment: product, customer link, screenshot, date, amount and
method. Confirmed payments are appended to the payments spreadsheet and
saved to the database.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config.LoadDotEnv()
		lc := config.LoggingFromEnv()
		var err error
		logger, err = logging.New(lc.Level, lc.Format)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bot",
	Long: `Starts the bot and its HTTP server (health check, webhook and proof
downloads). In poll mode updates are fetched with long polling; in webhook
mode Telegram posts them to WEBHOOK_URL.`,
	RunE: runBot,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create database tables or indexes",
	RunE:  runMigrate,
}

func init() {
	runCmd.Flags().StringVar(&mode, "mode", "", "update mode: poll or webhook (overrides BOT_MODE)")
	rootCmd.AddCommand(runCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
