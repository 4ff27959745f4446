package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/invoicegate/internal/config"
	gateerrors "github.com/randalmurphal/invoicegate/internal/errors"
	"github.com/randalmurphal/invoicegate/internal/state"
)

// cliEnv is an isolated store and scratch directory for CLI tests.
type cliEnv struct {
	dir string
	db  string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	for k := range config.EnvVarMapping {
		t.Setenv(k, "")
	}
	for k := range config.LegacyEnvVars {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	return &cliEnv{dir: dir, db: filepath.Join(dir, "store.db")}
}

// run executes a fresh root command and returns its stdout.
func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{
		"--db", e.db,
		"--workflow", filepath.Join(e.dir, "no-workflow.json"),
		"--tools", filepath.Join(e.dir, "no-tools.yaml"),
		"--app-url", "http://review.test",
	}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (e *cliEnv) writeInvoice(t *testing.T, name string, payload map[string]any) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func invoice(id string, amount, poAmount float64) map[string]any {
	return map[string]any{
		"invoice_id":   id,
		"vendor_name":  "initech",
		"invoice_date": "2026-07-14",
		"amount":       amount,
		"po_amount":    poAmount,
		"currency":     "USD",
	}
}

func TestCLI_PauseDecideHistory(t *testing.T) {
	env := newCLIEnv(t)
	file := env.writeInvoice(t, "inv.json", invoice("INV-77", 100, 60))

	out, err := env.run(t, "--json", "run", "--run-id", "run_cli", file)
	require.NoError(t, err)
	var run runSummary
	require.NoError(t, json.Unmarshal([]byte(out), &run))
	assert.Equal(t, state.StatusPaused, run.Status)
	assert.Equal(t, "run_cli", run.RunID)
	require.NotNil(t, run.Checkpoint)
	assert.Equal(t, "http://review.test/human-review/pending", run.Checkpoint.ReviewURL)
	chkID := run.Checkpoint.CheckpointID

	out, err = env.run(t, "--json", "pending")
	require.NoError(t, err)
	var pending struct {
		Items []map[string]any `json:"items"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &pending))
	require.Len(t, pending.Items, 1)
	assert.Equal(t, chkID, pending.Items[0]["checkpoint_id"])

	out, err = env.run(t, "--json", "decide", chkID, "-d", "accept", "-r", "alice", "--notes", "ok")
	require.NoError(t, err)
	var decided map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decided))
	assert.Equal(t, "RECONCILE", decided["next_stage"])
	assert.Equal(t, state.StatusCompleted, decided["workflow_status"])

	_, err = env.run(t, "decide", chkID, "-d", "reject", "-r", "bob")
	assert.True(t, errors.Is(err, gateerrors.ErrAlreadyResolved))

	out, err = env.run(t, "--json", "history", "run_cli")
	require.NoError(t, err)
	var history []historyEntry
	require.NoError(t, json.Unmarshal([]byte(out), &history))
	require.Len(t, history, 12)
	assert.Equal(t, "INTAKE", history[0].Stage)
	assert.Equal(t, 1, history[0].Step)
	assert.Equal(t, "COMPLETE", history[11].Stage)
	assert.Equal(t, 12, history[11].Step)
	assert.Equal(t, []string{state.NSFinal}, history[11].Writes)
	for i := 1; i < len(history); i++ {
		assert.Equal(t, history[i-1].CheckpointID, history[i].ParentID)
	}

	out, err = env.run(t, "results")
	require.NoError(t, err)
	assert.Contains(t, out, "run_cli")
	assert.Contains(t, out, "INV-77")
	assert.Contains(t, out, "COMPLETED")
}

func TestCLI_HumanOutput(t *testing.T) {
	env := newCLIEnv(t)
	file := env.writeInvoice(t, "inv.json", invoice("INV-78", 100, 60))

	out, err := env.run(t, "-q", "run", "--run-id", "run_human", file)
	require.NoError(t, err)
	assert.Contains(t, out, "run_human  PAUSED")
	assert.Contains(t, out, "invoicegate decide chk_")

	out, err = env.run(t, "pending")
	require.NoError(t, err)
	assert.Contains(t, out, "CHECKPOINT")
	assert.Contains(t, out, "INV-78")
	assert.Contains(t, out, "100.00")
}

func TestCLI_ResumeAndPurge(t *testing.T) {
	env := newCLIEnv(t)
	file := env.writeInvoice(t, "inv.json", invoice("INV-9", 250, 10))

	out, err := env.run(t, "--json", "run", "--run-id", "run_purge", file)
	require.NoError(t, err)
	var run runSummary
	require.NoError(t, json.Unmarshal([]byte(out), &run))
	chkID := run.Checkpoint.CheckpointID

	out, err = env.run(t, "--json", "resume", chkID)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &run))
	assert.Equal(t, state.StatusWaitingHuman, run.Status)

	_, err = env.run(t, "--json", "decide", chkID, "-d", "REJECT", "-r", "bob", "--no-resume")
	require.NoError(t, err)

	out, err = env.run(t, "--json", "resume", chkID)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &run))
	assert.Equal(t, state.StatusRequiresManualHandling, run.Status)

	_, err = env.run(t, "resume", chkID)
	assert.True(t, errors.Is(err, gateerrors.ErrAlreadyResolved))

	_, err = env.run(t, "purge", "run_purge")
	assert.ErrorContains(t, err, "--force")

	out, err = env.run(t, "purge", "--force", "run_purge")
	require.NoError(t, err)
	assert.Contains(t, out, "Purged")

	_, err = env.run(t, "history", "run_purge")
	assert.True(t, errors.Is(err, gateerrors.ErrNotFound))
	_, err = env.run(t, "purge", "-f", "run_purge")
	assert.True(t, errors.Is(err, gateerrors.ErrNotFound))
}

func TestCLI_RunRejectsBadInvoice(t *testing.T) {
	env := newCLIEnv(t)
	bad := invoice("INV-1", 10, 10)
	delete(bad, "currency")
	bad["vendor_name"] = ""
	file := env.writeInvoice(t, "bad.json", bad)

	_, err := env.run(t, "run", file)
	require.True(t, errors.Is(err, gateerrors.ErrInvalidPayload))
	assert.Contains(t, err.Error(), "Missing required fields: vendor_name, currency")

	_, err = env.run(t, "decide", "chk_x", "-d", "maybe", "-r", "r")
	assert.True(t, errors.Is(err, gateerrors.ErrInvalidDecision))

	_, err = env.run(t, "decide", "chk_x", "-d", "accept")
	assert.ErrorContains(t, err, "reviewer")
}

func TestCLI_Batch(t *testing.T) {
	env := newCLIEnv(t)
	env.writeInvoice(t, "inbox/a/one.json", invoice("INV-A", 100, 100))
	env.writeInvoice(t, "inbox/b/two.json", invoice("INV-B", 100, 60))
	bad := invoice("INV-C", 5, 5)
	delete(bad, "currency")
	env.writeInvoice(t, "inbox/b/three.json", bad)
	env.writeInvoice(t, "inbox/notes.txt", map[string]any{})

	out, err := env.run(t, "--json", "batch", "-c", "2", filepath.Join(env.dir, "inbox", "**", "*.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 3 invoices failed")

	var results []batchResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 3)

	byFile := map[string]batchResult{}
	for _, r := range results {
		byFile[filepath.Base(r.File)] = r
	}
	assert.Equal(t, state.StatusCompleted, byFile["one.json"].Status)
	assert.Equal(t, state.StatusPaused, byFile["two.json"].Status)
	assert.NotEmpty(t, byFile["two.json"].CheckpointID)
	assert.Contains(t, byFile["three.json"].Error, "currency")
	assert.Empty(t, byFile["three.json"].RunID)

	_, err = env.run(t, "batch", filepath.Join(env.dir, "nothing", "*.json"))
	assert.ErrorContains(t, err, "no files match")
}

func TestExpandGlobs(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []string{"x/1.json", "x/y/2.json", "z.json", "x/skip.txt"} {
		p := filepath.Join(dir, f)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte("{}"), 0644))
	}

	files, err := expandGlobs([]string{
		filepath.Join(dir, "**", "*.json"),
		filepath.Join(dir, "z.json"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "x", "1.json"),
		filepath.Join(dir, "x", "y", "2.json"),
		filepath.Join(dir, "z.json"),
	}, files)

	_, err = expandGlobs([]string{"[unterminated"})
	assert.Error(t, err)
}

func TestCLI_ConfigShow(t *testing.T) {
	env := newCLIEnv(t)
	t.Setenv("INVOICEGATE_PORT", "9100")

	out, err := env.run(t, "config", "show", "--source")
	require.NoError(t, err)
	assert.Contains(t, out, "app_url = http://review.test (flag)")
	assert.Contains(t, out, "server.port = 9100 (env)")
	assert.Contains(t, out, "events.prefix = invoicegate:events (default)")

	out, err = env.run(t, "config", "get", "database.path")
	require.NoError(t, err)
	assert.Equal(t, env.db+"\n", out)

	_, err = env.run(t, "config", "get", "bogus")
	assert.Error(t, err)

	path := filepath.Join(env.dir, "cfg", "config.yaml")
	_, err = env.run(t, "config", "init", path)
	require.NoError(t, err)
	_, err = env.run(t, "config", "init", path)
	assert.ErrorContains(t, err, "already exists")

	out, err = env.run(t, "--config", path, "config", "get", "tools_path", "--source")
	require.NoError(t, err)
	assert.Contains(t, out, "(flag)")
}

func TestCLI_Version(t *testing.T) {
	env := newCLIEnv(t)
	out, err := env.run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "invoicegate version "+Version+"\n", out)
}
