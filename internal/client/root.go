package client

import (
	"chatify/internal/config"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	stateDB   string
	cfg       *config.ClientConfig
)

var rootCmd = &cobra.Command{
	Use:           "chatify",
	Short:         "Terminal client for the chatify relay",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "relay websocket URL (overrides CHATIFY_SERVER_URL)")
	rootCmd.PersistentFlags().StringVar(&stateDB, "db", "", "local state file (overrides CHATIFY_STATE_DB)")
}

func initConfig() error {
	var err error
	cfg, err = config.LoadClient()
	if err != nil {
		return err
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if stateDB != "" {
		cfg.StateDB = stateDB
	}
	return config.SetupLogger(cfg.LogLevel)
}

func GetRootCmd() *cobra.Command {
	return rootCmd
}
