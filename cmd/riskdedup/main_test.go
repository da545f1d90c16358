package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/riskdedup/core"
	"github.com/poiesic/riskdedup/similarity"
)

const sampleRecords = `records:
  - title: Laptop theft
    threat: opportunistic thief
    description: unattended laptops in cars
    asset:
      id: 4
      name: Laptops
  - kind: risk
    title: Phishing of finance staff
    threat: criminal group
  - kind: control
    title: Full disk encryption
    objective: protect data at rest
`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &bytes.Buffer{}
	err := app.Run(append([]string{"riskdedup", "--log-level", "error"}, args...))
	return out.String(), err
}

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func importSample(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "db")
	out, err := run(t, "--db", dbPath, "import", "--file", writeFile(t, "records.yaml", sampleRecords))
	require.NoError(t, err)
	assert.Contains(t, out, "imported 3 records")
	return dbPath
}

func TestImportAndStats(t *testing.T) {
	dbPath := importSample(t)

	out, err := run(t, "--db", dbPath, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "risk     total=2 pending=2")
	assert.Contains(t, out, "control  total=1 pending=1")
}

func TestBackfillDryRun(t *testing.T) {
	dbPath := importSample(t)

	out, err := run(t, "--db", dbPath, "backfill", "--dry-run", "--kind", "control")
	require.NoError(t, err)
	assert.Contains(t, out, "processed=1 succeeded=1 failed=0")

	out, err = run(t, "--db", dbPath, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "control  total=1 pending=1")
}

func TestBackfillRejectsBadKind(t *testing.T) {
	dbPath := importSample(t)

	_, err := run(t, "--db", dbPath, "backfill", "--kind", "asset")
	assert.ErrorIs(t, err, core.ErrInvalidRecordKind)
}

func TestCheckExactTitle(t *testing.T) {
	dbPath := importSample(t)

	out, err := run(t, "--db", dbPath, "check", "--title", "  LAPTOP theft ")
	require.NoError(t, err)

	var matches []similarity.Match
	require.NoError(t, json.Unmarshal([]byte(out), &matches))
	require.Len(t, matches, 1)
	assert.Equal(t, "Laptop theft", matches[0].Title)
	assert.Equal(t, 95, matches[0].Score)
	require.NotNil(t, matches[0].Asset)
	assert.Equal(t, "Laptops", matches[0].Asset.Name)
}

func TestCheckShortTitle(t *testing.T) {
	dbPath := importSample(t)

	out, err := run(t, "--db", dbPath, "check", "--title", "ab")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)
}

func TestSimilarUnknownID(t *testing.T) {
	dbPath := importSample(t)

	out, err := run(t, "--db", dbPath, "similar", "--id", "9999")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)
}

func TestCommandFlags(t *testing.T) {
	t.Run("title is required", func(t *testing.T) {
		_, err := run(t, "--db", t.TempDir(), "check")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "title")
	})

	t.Run("database is required", func(t *testing.T) {
		_, err := run(t, "stats")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database path is required")
	})

	t.Run("invalid log level", func(t *testing.T) {
		app := newApp()
		app.Writer = &bytes.Buffer{}
		err := app.Run([]string{"riskdedup", "--log-level", "loud", "stats"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
	})
}

func TestConfigFile(t *testing.T) {
	dbPath := importSample(t)
	t.Setenv("RISKDEDUP_TEST_DB", dbPath)
	cfgPath := writeFile(t, "config.yaml", `database:
  path: ${RISKDEDUP_TEST_DB}
logging:
  level: warn
`)

	out, err := run(t, "--config", cfgPath, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "risk     total=2")
}
