package main

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"draftfiles/backend/internal/sweeper"
)

func TestPrintReport(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	printReport(&buf, sweeper.Report{Job: "orphans", Scanned: 3, Removed: 2, Failed: 1})
	assert.Equal(t, "! orphans  scanned=3 removed=2 failed=1\n", buf.String())

	buf.Reset()
	printReport(&buf, sweeper.Report{Job: "drafts"})
	assert.Equal(t, "✓ drafts  scanned=0 removed=0 failed=0\n", buf.String())
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, []string{"a"}))
	assert.Equal(t, "[\n  \"a\"\n]\n", buf.String())
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()

	names := make([]string, 0)
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	assert.Subset(t, names, []string{"migrate", "sweep", "list", "begin", "discard"})

	sweep, _, err := root.Find([]string{"sweep", "orphans"})
	require.NoError(t, err)
	assert.NotNil(t, sweep.Flags().Lookup("grace"))
}
