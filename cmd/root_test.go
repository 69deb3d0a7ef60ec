package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	// Collect subcommand names.
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	// Verify expected subcommands are registered.
	expected := []string{"ingest", "billing", "masterdata", "artifacts", "ingest-log", "migrate", "template"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "billing-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestIngestCommand_Flags(t *testing.T) {
	for _, name := range []string{"dir", "period", "profile", "concurrency", "no-archive", "summary", "json"} {
		assert.NotNil(t, ingestCmd.Flags().Lookup(name), "ingest command should have --%s flag", name)
	}
	flag := ingestCmd.Flags().Lookup("no-archive")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
}

func TestBillingCommand_RequiredFlags(t *testing.T) {
	flag := billingCmd.Flags().Lookup("month")
	require.NotNil(t, flag, "billing command should have --month flag")
	assert.Equal(t, []string{"true"}, flag.Annotations["cobra_annotation_bash_completion_one_required_flag"])

	require.NotNil(t, billingCmd.Flags().Lookup("out"))
	require.NotNil(t, billingCmd.Flags().Lookup("dry-run"))
}

func TestMasterdataCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range masterdataCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["import"])
	assert.True(t, names["list"])

	flag := masterdataListCmd.Flags().Lookup("kind")
	require.NotNil(t, flag)
	assert.Equal(t, "", flag.DefValue)
}

func TestArtifactsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range artifactsCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["list"])
	assert.True(t, names["show"])

	flag := artifactsListCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "50", flag.DefValue)
}

func TestIngestLogCommand_Flags(t *testing.T) {
	flag := ingestLogCmd.Flags().Lookup("limit")
	require.NotNil(t, flag, "ingest-log command should have --limit flag")
	assert.Equal(t, "50", flag.DefValue)
	assert.NotNil(t, ingestLogCmd.Flags().Lookup("status"))
	assert.NotNil(t, ingestLogCmd.Flags().Lookup("artifact"))
}

func TestTemplateCommand_Flags(t *testing.T) {
	flag := templateCmd.Flags().Lookup("month")
	require.NotNil(t, flag)
	assert.Equal(t, []string{"true"}, flag.Annotations["cobra_annotation_bash_completion_one_required_flag"])
	assert.NotNil(t, templateCmd.Flags().Lookup("force"))
	assert.NotNil(t, templateCmd.Flags().Lookup("all"))
	assert.NotNil(t, templateCmd.Flags().Lookup("out"))
	assert.Nil(t, templateCmd.Flags().Lookup("payer"))
}
