package main

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/notestatus/pkg/notestatus/archive"
)

func repoRoot(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("unable to determine caller")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
}

// sampleDir copies testdata/sample into a temp dir so runs can write next to it.
func sampleDir(t *testing.T) string {
	t.Helper()
	src := filepath.Join(repoRoot(t), "testdata", "sample")
	dst := t.TempDir()
	err := filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(src, path)
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
	require.NoError(t, err)
	return dst
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env", "production", "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestRunCommand(t *testing.T) {
	dir := sampleDir(t)
	runPath := filepath.Join(dir, "run.yaml")
	metricsPath := filepath.Join(dir, "metrics.prom")

	out, err := execute(t, "run", "--config", runPath, "--metrics-out", metricsPath)
	require.NoError(t, err)
	assert.Contains(t, out, "3 notes, 3 segments")
	assert.Contains(t, out, "recovered failures: 1 adapter, 0 malformed")

	obesity, err := os.ReadFile(filepath.Join(dir, "results", "fe_feature_table_obesity.csv"))
	require.NoError(t, err)
	assert.Equal(t, "PatID,EncounterID,FeatureID,Feature_dt,Feature,FE_CodeType,ProviderID,Confidence,Feature_Status\n"+
		"P1,E1,1004,2020-01-01,C0028754,UC,D1,N,A\n"+
		"P2,E7,1004,2020-03-03,C0028754,UC,D3,N,U\n", string(obesity))

	substance, err := os.ReadFile(filepath.Join(dir, "results", "fe_feature_table_substance_abuse.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(substance), "P1,E1,1005,2020-01-01,C0740858,UC,D1,N,N\n")

	detail, err := os.ReadFile(filepath.Join(dir, "results", "fe_feature_detail_table_obesity.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(detail), "P1,E1,N2,1004,2020-01-01,C0028754,UC,D2,N,X\n")

	metrics, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `notestatus_recovered_failures_total{kind="adapter",lane="0"} 1`)

	runID := strings.Fields(strings.TrimPrefix(out, "run "))[0]
	runID = strings.TrimSuffix(runID, ":")
	lane0, err := archive.List(filepath.Join(dir, "archive", runID, archive.FileName(0)))
	require.NoError(t, err)
	assert.Equal(t, []string{"P1_E1_N1_2020-01-02_D1_1.txt.xmi"}, lane0, "P2's segment had no annotation to archive")

	// a second run with skipping only retries P2, whose segment failed
	out, err = execute(t, "run", "--config", runPath, "--skip-processed")
	require.NoError(t, err)
	assert.Contains(t, out, "1 notes, 1 segments")
	assert.Contains(t, out, "skipped 2 notes")
	assert.Contains(t, out, "recovered failures: 1 adapter, 0 malformed")

	out, err = execute(t, "runs", "--config", runPath)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(out, "\n"), "header plus two runs")

	exportDir := filepath.Join(dir, "exported")
	out, err = execute(t, "export", "--config", runPath, "--out", exportDir)
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(exportDir, "fe_feature_table_obesity.csv"))
	exported, err := os.ReadFile(filepath.Join(exportDir, "fe_feature_table_obesity.csv"))
	require.NoError(t, err)
	assert.Equal(t, string(obesity), string(exported))
}

func TestRunCommandBadConfig(t *testing.T) {
	dir := t.TempDir()
	runPath := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(runPath, []byte("lanes: 0\nchunk_size_bytes: -5\n"), 0o644))

	_, err := execute(t, "run", "--config", runPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestChunkCommand(t *testing.T) {
	dir := t.TempDir()
	note := filepath.Join(dir, "P1_E1_N1_2020-01-01_D1.txt")
	line := strings.Repeat("x", 99) + "\n"
	require.NoError(t, os.WriteFile(note, []byte(strings.Repeat(line, 120)), 0o644))
	spool := filepath.Join(dir, "spool")

	out, err := execute(t, "chunk", note, "--limit", "8192", "--spool", spool)
	require.NoError(t, err)
	assert.Contains(t, out, "P1_E1_N1_2020-01-01_D1_1")
	assert.Contains(t, out, "8100")
	assert.Contains(t, out, "3900")

	first, err := os.ReadFile(filepath.Join(spool, "P1_E1_N1_2020-01-01_D1_1.txt"))
	require.NoError(t, err)
	assert.Len(t, first, 8100)

	_, err = execute(t, "chunk", note, "--limit", "0")
	assert.Error(t, err)
}
