package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"relaybot/internal/config"
)

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "relaybot",
		Short:         "Relay chat messages to a language-model completion API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (env LOG_LEVEL).")
	cmd.PersistentFlags().String("log-format", "", "Log format: text or json (env LOG_FORMAT).")
	_ = v.BindPFlag(config.KeyLogLevel, cmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag(config.KeyLogFormat, cmd.PersistentFlags().Lookup("log-format"))

	cmd.AddCommand(newServeCmd(v))
	cmd.AddCommand(newLambdaCmd(v))

	return cmd
}
