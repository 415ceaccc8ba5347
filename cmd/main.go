package main

import (
	"context"
	"log/slog"
	"os"
)

func main() {
	root := newRootCmd()

	// The Lambda runtime starts the binary without arguments.
	if len(os.Args) == 1 && os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		root.SetArgs([]string{"lambda"})
	}

	if err := root.ExecuteContext(context.Background()); err != nil {
		slog.Error("relaybot exited with error", "err", err)
		os.Exit(1)
	}
}
