package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"relaybot/internal/config"
	"relaybot/internal/integrations/discord"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to the Discord gateway and relay messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx, v, config.ModeGateway)
			if err != nil {
				return err
			}

			bot, err := discord.New(a.relay,
				discord.WithLogger(a.logger),
				discord.WithEventTimeout(a.cfg.OpenAITimeout+10*time.Second),
			)
			if err != nil {
				return err
			}

			err = bot.Run(ctx, a.cfg.DiscordToken)
			a.logStats()
			return err
		},
	}
}
