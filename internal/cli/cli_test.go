package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shotam27/souchiJohoKanri/internal/core"
)

const devicesCSV = `service_name,category,entity_name,address,account_name,secret,port
Alpha,Gateway,gw-dev1,10.0.0.1,admin,pw,22
Alpha,Gateway,gw-dev2,10.0.0.2,admin,pw,22
`

type testEnv struct {
	dir string
	dsn string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	return &testEnv{dir: dir, dsn: filepath.Join(dir, "inventory.db")}
}

func (e *testEnv) writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// run executes devicectl against the env's SQLite file with an empty environment.
func (e *testEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd(func(string) string { return "" })
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--dsn", e.dsn, "--log-level", "error"}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func (e *testEnv) runJSON(t *testing.T, v any, args ...string) {
	t.Helper()
	out, _, err := e.run(t, append(args, "--output", "json")...)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), v), "output: %s", out)
}

func TestIngestAndQuery(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeFile(t, "devices.csv", devicesCSV)

	out, _, err := env.run(t, "ingest", path)
	require.NoError(t, err)
	assert.Contains(t, out, "committed")
	assert.Contains(t, out, "Alpha_Gateway")

	var services []string
	env.runJSON(t, &services, "services")
	assert.Equal(t, []string{"Alpha"}, services)

	var categories []string
	env.runJSON(t, &categories, "categories", "--service", "Alpha")
	assert.Equal(t, []string{"Gateway"}, categories)

	var stats core.Statistics
	env.runJSON(t, &stats, "stats")
	assert.EqualValues(t, 2, stats.TotalCanonicalRows)
	assert.EqualValues(t, 1, stats.ActiveRelations)

	var search core.SearchResult
	env.runJSON(t, &search, "search", "--name", "DEV1")
	require.Len(t, search.Rows, 1)
	assert.Equal(t, "Alpha_Gateway_gw-dev1_admin", search.Rows[0].PrimaryKey)

	out, _, err = env.run(t, "tables")
	require.NoError(t, err)
	assert.Contains(t, out, "Alpha_Gateway")

	var desc core.TableDescription
	env.runJSON(t, &desc, "describe", "Alpha_Gateway")
	assert.Equal(t, []string{"primary_key", "port", "created_at", "updated_at"}, desc.Columns)
	assert.EqualValues(t, 2, desc.RowCount)
}

func TestRelationsLifecycle(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.run(t, "ingest", env.writeFile(t, "devices.csv", devicesCSV))
	require.NoError(t, err)

	out, _, err := env.run(t, "deactivate", "Alpha", "Gateway")
	require.NoError(t, err)
	assert.Contains(t, out, "deactivated Alpha/Gateway")

	var relations []core.Relation
	env.runJSON(t, &relations, "relations")
	require.Len(t, relations, 1)
	assert.False(t, relations[0].IsActive)

	var rec core.ReconcileResult
	env.runJSON(t, &rec, "reconcile")
	assert.Equal(t, 1, rec.Processed)
	assert.Zero(t, rec.Failed)

	env.runJSON(t, &relations, "relations")
	require.Len(t, relations, 1)
	assert.True(t, relations[0].IsActive)
}

func TestIngest_PartialFailure(t *testing.T) {
	env := newTestEnv(t)
	good := env.writeFile(t, "good.csv", devicesCSV)
	bad := env.writeFile(t, "bad.csv", "service_name,category\nAlpha,Gateway\n")

	out, _, err := env.run(t, "ingest", good, bad, "--output", "json")
	require.Error(t, err)
	assert.Equal(t, "1 of 2 batches failed", err.Error())

	var outcomes []batchOutcome
	require.NoError(t, json.Unmarshal([]byte(out), &outcomes))
	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].Result.Committed)
	assert.Empty(t, outcomes[0].Code)
	assert.NotEmpty(t, outcomes[1].Code)
	assert.False(t, outcomes[1].Result.Committed)
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t)
	good := env.writeFile(t, "good.csv", devicesCSV)
	bad := env.writeFile(t, "bad.csv", "service_name,category\nAlpha,Gateway\n")
	_, _, err := env.run(t, "ingest", good, bad)
	require.Error(t, err)

	var entries []core.HistoryEntry
	env.runJSON(t, &entries, "history")
	require.Len(t, entries, 2)
	assert.Equal(t, "bad.csv", entries[0].Name)
	assert.Equal(t, core.StateRejected, entries[0].State)
	assert.Equal(t, "good.csv", entries[1].Name)
	assert.Equal(t, core.StateCommitted, entries[1].State)

	out, _, err := env.run(t, "history", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "bad.csv")
	assert.NotContains(t, out, "good.csv")
}

func TestIngest_DryRun(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeFile(t, "devices.csv", devicesCSV)

	var previews []previewOutcome
	env.runJSON(t, &previews, "ingest", "--dry-run", path)
	require.Len(t, previews, 1)
	require.NotNil(t, previews[0].Preview)
	assert.Equal(t, 2, previews[0].Preview.NewRows)
	assert.Equal(t, []string{"Alpha_Gateway"}, previews[0].Preview.TablesToCreate)

	var stats core.Statistics
	env.runJSON(t, &stats, "stats")
	assert.Zero(t, stats.TotalCanonicalRows)
}

func TestIngest_MissingFile(t *testing.T) {
	env := newTestEnv(t)
	out, _, err := env.run(t, "ingest", filepath.Join(env.dir, "nope.csv"))
	require.Error(t, err)
	assert.Contains(t, out, "nope.csv")
}

func TestExport(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.run(t, "ingest", env.writeFile(t, "devices.csv", devicesCSV))
	require.NoError(t, err)

	target := filepath.Join(env.dir, "export.csv")
	_, stderr, err := env.run(t, "export", "--service", "Alpha", "--category", "Gateway", "-o", target)
	require.NoError(t, err)
	assert.Contains(t, stderr, "wrote 2 rows")

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.HasPrefix(text, "\uFEFF"), "export should start with a BOM")
	assert.Contains(t, text, "service_name,category,entity_name,address,account_name,port")
	assert.Contains(t, text, "Alpha,Gateway,gw-dev1,10.0.0.1,admin,22")
	assert.NotContains(t, text, ",pw")

	// The export loads again unchanged.
	_, _, err = env.run(t, "ingest", target)
	require.NoError(t, err)
	var stats core.Statistics
	env.runJSON(t, &stats, "stats")
	assert.EqualValues(t, 2, stats.TotalCanonicalRows)
}

func TestExport_RequiresFlags(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.run(t, "export", "--service", "Alpha")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "category")
}

func TestInvalidOutputFormat(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.run(t, "services", "--output", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--output")
}

func TestEmptyStore(t *testing.T) {
	env := newTestEnv(t)
	out, _, err := env.run(t, "services")
	require.NoError(t, err)
	assert.Contains(t, out, "(0 rows)")
}

func TestFlagLookup(t *testing.T) {
	environ := map[string]string{"LOG_LEVEL": "warn", "DB_URL": "alt.db"}
	env := func(k string) string { return environ[k] }

	tests := []struct {
		name  string
		flags globalFlags
		key   string
		want  string
	}{
		{"flag wins", globalFlags{logLevel: "debug"}, "LOG_LEVEL", "debug"},
		{"env next", globalFlags{}, "LOG_LEVEL", "warn"},
		{"cli default", globalFlags{}, "DB_KIND", "sqlite"},
		{"alternate name beats default", globalFlags{}, "DATABASE_URL", ""},
		{"dsn flag", globalFlags{dsn: "x.db"}, "DATABASE_URL", "x.db"},
		{"unset", globalFlags{}, "SERVER_PORT", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, flagLookup(tt.flags, env)(tt.key))
		})
	}
}
