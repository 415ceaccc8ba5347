package main

import (
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"relaybot/handler"
	"relaybot/internal/config"
)

func newLambdaCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "lambda",
		Short: "Serve the webhook API as an AWS Lambda function",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context(), v, config.ModeWebhook)
			if err != nil {
				return err
			}

			h, err := handler.NewHandler(a.relay, a.cfg.WebhookSecret, a.logger)
			if err != nil {
				return err
			}

			lambda.Start(h.Handle)
			return nil
		},
	}
}
