package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"ingest", "tokens", "fetch", "batch", "runs", "serve"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "certstate-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.True(t, rootCmd.SilenceUsage)
}

func TestIngestCommand_Flags(t *testing.T) {
	pages := ingestCmd.Flags().Lookup("pages")
	require.NotNil(t, pages)
	assert.Equal(t, []string{"true"}, pages.Annotations["cobra_annotation_bash_completion_one_required_flag"])

	scheme := ingestCmd.Flags().Lookup("scheme")
	require.NotNil(t, scheme)
	assert.Equal(t, "default", scheme.DefValue)

	for _, name := range []string{"state", "resume", "out", "report", "envelope", "prefer-overwrite", "context-tokens", "reserve-tokens", "max-retries"} {
		assert.NotNil(t, ingestCmd.Flags().Lookup(name), "ingest should have --%s", name)
	}
}

func TestTokensCommand_Flags(t *testing.T) {
	for _, name := range []string{"pages", "state", "json", "context-tokens", "reserve-tokens"} {
		assert.NotNil(t, tokensCmd.Flags().Lookup(name), "tokens should have --%s", name)
	}
}

func TestBatchCommand_Flags(t *testing.T) {
	flag := batchCmd.Flags().Lookup("manifest")
	require.NotNil(t, flag)
	assert.Equal(t, "batch.yaml", flag.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag)
	assert.Equal(t, "8080", flag.DefValue)
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "show", "stats"} {
		assert.True(t, names[name], "runs should have subcommand %q", name)
	}

	limit := runsListCmd.Flags().Lookup("limit")
	require.NotNil(t, limit)
	assert.Equal(t, "50", limit.DefValue)

	since := runsStatsCmd.Flags().Lookup("since")
	require.NotNil(t, since)
	assert.Equal(t, "24h0m0s", since.DefValue)
}
