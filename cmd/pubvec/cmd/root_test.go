package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pubvec/pubvec/internal/ingest"
)

func TestRootCmd_ShowsHelp(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--help"})

	err := cmd.Execute()

	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "pubvec", "Help should mention program name")
	assert.Contains(t, output, "Usage:", "Help should show usage")
}

func TestRootCmd_ShowsVersion(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--version"})

	err := cmd.Execute()

	require.NoError(t, err)
	output := buf.String()
	hasVersion := strings.Contains(output, "0.") || strings.Contains(output, "dev")
	assert.True(t, hasVersion, "Version output should contain a version number or 'dev'")
	assert.Contains(t, output, "pubvec")
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	cmd := NewRootCmd()

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}

	for _, want := range []string{"ingest", "scale", "bulk", "monitor", "check-env", "logs", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestIngestCmd_RequiresTopics(t *testing.T) {
	_, err := resolveTopics(nil, "", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no topics")
}

func TestResolveTopics_DropsDuplicates(t *testing.T) {
	topics, err := resolveTopics([]string{"sepsis", "stroke", "sepsis"}, "", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"sepsis", "stroke"}, topics)
}

func TestResolveTopics_Recommended(t *testing.T) {
	topics, err := resolveTopics(nil, "", true)
	require.NoError(t, err)
	assert.Greater(t, len(topics), 10)
}

func TestCollectXMLFiles(t *testing.T) {
	t.Run("file and dir are mutually exclusive", func(t *testing.T) {
		_, err := collectXMLFiles("a.xml", "dir")
		require.Error(t, err)
	})

	t.Run("neither given", func(t *testing.T) {
		_, err := collectXMLFiles("", "")
		require.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := collectXMLFiles("/does/not/exist.xml", "")
		require.Error(t, err)
	})
}

func TestPrintJobSummaries_IncludesLevelTally(t *testing.T) {
	job := ingest.NewTopicJob("sepsis", 10)
	job.Status = ingest.StatusCompleted
	job.ArticlesProcessed = 3
	job.ChunksCreated = 5
	job.LevelCounts = map[string]int{"1": 1, "2": 2}

	buf := new(bytes.Buffer)
	printJobSummaries(buf, []*ingest.Job{job})

	assert.Contains(t, buf.String(), "sepsis: 3 articles, 5 chunks, 0 errors [L1=1 L2=2]")
}

func TestIngestCmd_ShowsHelp(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"ingest", "--help"})

	err := cmd.Execute()

	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "--topic")
	assert.Contains(t, output, "--dry-run")
}

func TestScaleCmd_ShowsHelp(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"scale", "--help"})

	err := cmd.Execute()

	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "--resume")
	assert.Contains(t, output, "--max-per-topic")
}
