package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()

	for _, name := range []string{"serve", "lambda"} {
		sub, _, err := root.Find([]string{name})
		require.NoError(t, err)
		require.Equal(t, name, sub.Name())
	}

	require.NotNil(t, root.PersistentFlags().Lookup("log-level"))
	require.NotNil(t, root.PersistentFlags().Lookup("log-format"))
}
