package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"property-sync/services"
)

const datasetCSV = "ProjectTitle,ApartmentNo,Price,PropertyStatus,Location\n" +
	"A100 - Villa,601,285000,Available,Limassol\n" +
	"B7 Tower,12,150000,Sold,Paphos\n"

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "base.csv")
	require.NoError(t, os.WriteFile(path, []byte(datasetCSV), 0o644))

	t.Setenv("DATASET_SOURCES", path)
	t.Setenv("REDIS_URL", "")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("CSV_OUTPUT_PATH", filepath.Join(dir, "out", "properties.csv"))

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestResolveCommandJSON(t *testing.T) {
	out, err := runCLI(t, "resolve", "--ids", "B7_12,a100_601", "--json")
	require.NoError(t, err)

	var res services.Resolution
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, services.OutcomeResolved, res.Outcome)
	require.Len(t, res.Properties, 2)
	assert.Equal(t, "B7_12", res.Properties[0].ID)
	assert.Equal(t, "A100_601", res.Properties[1].ID)
}

func TestResolveCommandNotFound(t *testing.T) {
	out, err := runCLI(t, "resolve", "--ids", "nope")
	require.Error(t, err)
	assert.Contains(t, out, "Outcome: not_found")
}

func TestResolveCommandNeedsOneInput(t *testing.T) {
	_, err := runCLI(t, "resolve")
	assert.EqualError(t, err, "pass exactly one of --ids or --token")
}

func TestSyncCommandExports(t *testing.T) {
	out, err := runCLI(t, "sync", "--export")
	require.NoError(t, err)
	assert.Contains(t, out, "Done. 2 properties")

	b, err := os.ReadFile(os.Getenv("CSV_OUTPUT_PATH"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "A100_601")
	assert.Contains(t, string(b), "B7_12")
}

func TestSyncCommandUploadNeedsExport(t *testing.T) {
	_, err := runCLI(t, "sync", "--upload")
	assert.EqualError(t, err, "--upload needs --export")
}
