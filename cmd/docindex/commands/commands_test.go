package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/docindex/internal/models"
)

func setupEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("VECTOR_BACKEND", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "cli.db"))
	t.Setenv("EMBED_PROVIDER", "mock")
	t.Setenv("EMBED_DIM", "32")
	t.Setenv("EMBED_BATCH_DELAY", "0s")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("BUCKET_NAME", "")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestIngestSearchStatus(t *testing.T) {
	setupEnv(t)

	dir := t.TempDir()
	file := filepath.Join(dir, "expenses.txt")
	require.NoError(t, os.WriteFile(file, []byte("Expense reports are due on the fifth business day of each month."), 0o600))

	out, err := run(t, "ingest", file, "--category", "finance")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	fields := strings.Fields(lines[1])
	require.GreaterOrEqual(t, len(fields), 4)
	id := fields[0]
	assert.Equal(t, "expenses.txt", fields[1])
	assert.Equal(t, "ready", fields[2])

	out, err = run(t, "search", "expense", "reports", "due", "--json", "--threshold", "0.1")
	require.NoError(t, err)
	var results []models.SearchResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.NotEmpty(t, results)
	assert.Equal(t, id, results[0].DocumentID)
	assert.Equal(t, "expenses", results[0].DocumentTitle)
	assert.Equal(t, "finance", results[0].Category)

	out, err = run(t, "search", "expense", "--category", "legal")
	require.NoError(t, err)
	assert.Equal(t, "no results\n", out)

	out, err = run(t, "status", id)
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "ready"`)
	assert.Contains(t, out, `"progressPercent": 100`)
}

func TestIngestRejectsTitleForManyFiles(t *testing.T) {
	setupEnv(t)
	_, err := run(t, "ingest", "a.txt", "b.txt", "--title", "x")
	assert.ErrorContains(t, err, "--title")
}

func TestIngestMissingFile(t *testing.T) {
	setupEnv(t)
	_, err := run(t, "ingest", filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "text/markdown", contentType("README.md"))
	assert.Equal(t, "text/plain", contentType("notes.TXT"))
	assert.Equal(t, "text/plain", contentType("Makefile"))
	assert.Equal(t, "application/pdf", contentType("report.pdf"))
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "a b c", snippet("a\n b\t c"))
	long := strings.Repeat("x", 200)
	assert.Len(t, []rune(snippet(long)), snippetLen)
}
