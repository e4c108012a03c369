package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/cargowhy/internal/buildrun"
)

// fakeBuild is a cargo stand-in that compiles both units of newProject.
const fakeBuild = `echo "   Compiling util v0.1.0" >&2
echo '     Running ` + "`" + `rustc --crate-name util --edition=2021 util/src/lib.rs --crate-type lib` + "`" + `' >&2
echo "   Compiling demo v0.1.0" >&2
echo '     Running ` + "`" + `rustc --crate-name demo --edition=2021 src/main.rs --crate-type bin` + "`" + `' >&2`

func TestDiagnoseCommandStructure(t *testing.T) {
	assert.NotNil(t, diagnoseCmd)
	assert.Equal(t, "diagnose", diagnoseCmd.Name())
	assert.NotEmpty(t, diagnoseCmd.Short)
	assert.NotEmpty(t, diagnoseCmd.Long)
	assert.NotNil(t, diagnoseCmd.RunE)

	for _, c := range []string{"show-build-output", "no-suggestions"} {
		assert.NotNil(t, diagnoseCmd.Flags().Lookup(c), c)
		assert.NotNil(t, rootCmd.Flags().Lookup(c), c)
	}
}

func TestRunDiagnose_FirstBuildJSON(t *testing.T) {
	resetFlags(t)
	root, file := newProject(t)
	writeConfig(t, "build:\n  command: "+fakeCargo(t, fakeBuild)+"\n")
	projectPath = root
	unitGraphFile = file
	outputFormat = "json"

	var buf bytes.Buffer
	setOutputWriter(&buf)

	require.NoError(t, runDiagnose(diagnoseCmd, nil))

	var rep struct {
		RunID        string `json:"run_id"`
		Command      []string
		RootCount    int `json:"root_count"`
		TotalRebuilt int `json:"total_rebuilt"`
		Roots        []struct {
			Label   string `json:"label"`
			Reasons []struct {
				Kind   string `json:"kind"`
				Detail string `json:"detail"`
			} `json:"reasons"`
		} `json:"roots"`
		Summary struct {
			Unknown int `json:"unknown"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rep))

	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, 2, rep.TotalRebuilt)
	assert.Equal(t, 2, rep.RootCount)
	require.Len(t, rep.Roots, 2)
	assert.Equal(t, "util v0.1.0 (lib, debug)", rep.Roots[0].Label)
	assert.Equal(t, "demo v0.1.0 (bin, debug)", rep.Roots[1].Label)
	require.Len(t, rep.Roots[0].Reasons, 1)
	assert.Equal(t, "ForcedOrUnknown", rep.Roots[0].Reasons[0].Kind)
	assert.Equal(t, "no previous fingerprint record", rep.Roots[0].Reasons[0].Detail)
	assert.Equal(t, 2, rep.Summary.Unknown)
}

func TestRunDiagnose_TextReport(t *testing.T) {
	resetFlags(t)
	root, file := newProject(t)
	writeConfig(t, "build:\n  command: "+fakeCargo(t, fakeBuild)+"\n")
	projectPath = root
	unitGraphFile = file
	colorMode = "never"
	noSuggestions = true

	var buf bytes.Buffer
	setOutputWriter(&buf)

	require.NoError(t, runDiagnose(rootCmd, []string{"check"}))

	out := buf.String()
	assert.Contains(t, out, "2 units rebuilt, 2 root causes")
	assert.Contains(t, out, "util v0.1.0 (lib, debug)")
	assert.NotContains(t, out, "->")
}

func TestRunDiagnose_PassesCargoArguments(t *testing.T) {
	resetFlags(t)
	root, file := newProject(t)
	argsFile := filepath.Join(t.TempDir(), "args")
	writeConfig(t, "build:\n  command: "+fakeCargo(t, `echo "$*" > `+argsFile)+"\n")
	projectPath = root
	unitGraphFile = file
	profile = "release"
	outputFormat = "yaml"

	var buf bytes.Buffer
	setOutputWriter(&buf)

	require.NoError(t, runDiagnose(diagnoseCmd, []string{"build", "--workspace"}))

	got, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Equal(t, "build --workspace --profile release -v\n", string(got))
	assert.Contains(t, buf.String(), "total_rebuilt: 0")
}

func TestRunDiagnose_PreflightFailure(t *testing.T) {
	resetFlags(t)
	root, file := newProject(t)
	require.NoError(t, os.Remove(filepath.Join(root, "Cargo.toml")))
	writeConfig(t, "build:\n  command: "+fakeCargo(t, "exit 0")+"\n")
	projectPath = root
	unitGraphFile = file

	err := runDiagnose(diagnoseCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "preflight checks failed")
}

func TestRunDiagnose_BuildTimeout(t *testing.T) {
	resetFlags(t)
	root, file := newProject(t)
	writeConfig(t, "build:\n  command: "+fakeCargo(t, "exec sleep 5")+"\n  timeout: 50ms\n")
	projectPath = root
	unitGraphFile = file

	err := runDiagnose(diagnoseCmd, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, buildrun.ErrBuildInvocationTimedOut)
}
