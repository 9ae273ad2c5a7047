package main

import (
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"
)

func TestConfigureLogging(t *testing.T) {
	t.Cleanup(func() {
		log.SetLevel(log.InfoLevel)
		log.SetFormatter(log.TextFormatter)
	})

	require.NoError(t, configureLogging("debug", "json"))
	require.Equal(t, log.DebugLevel, log.GetLevel())

	require.Error(t, configureLogging("loud", "text"))
	require.Error(t, configureLogging("info", "xml"))
}

func TestAppRegistersCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range app().Commands {
		names[c.Name] = true
	}
	require.True(t, names["serve"])
	require.True(t, names["migrate"])
}
