package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/planflow/config"
)

const loopPlan = `
id: main
root:
  id: root
  type: sequence
  children:
    - id: loop
      type: for
      attributes:
        end: 2
        threads: 1
      children:
        - id: say
          type: echo
          attributes:
            message:
              expression: '"iteration " + string(counter) + " " + env'
`

const failingPlan = `
id: failing
root:
  id: root
  type: sequence
  children:
    - id: nope
      type: check
      attributes:
        expression:
          expression: "1 > 2"
`

const callerPlan = `
id: caller
root:
  id: root
  type: sequence
  children:
    - id: call
      type: callPlan
      selector:
        id: lib
`

const libPlan = `
id: lib
root:
  id: lib-root
  type: echo
  attributes:
    message: from lib
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// quietConfig keeps test output free of engine logs.
func quietConfig(t *testing.T, dir string) string {
	t.Helper()
	return writeFile(t, dir, "planflow.yaml", "log:\n  level: error\n  format: json\n  output_paths: [\"stderr\"]\n")
}

func TestParamFlag(t *testing.T) {
	p := paramFlag{}
	require.NoError(t, p.Set("env=qa"))
	require.NoError(t, p.Set("empty="))
	assert.Equal(t, "empty=,env=qa", p.String())
	assert.Error(t, p.Set("novalue"))
	assert.Error(t, p.Set("=x"))
}

func TestRunPlan_Passes(t *testing.T) {
	dir := t.TempDir()
	planPath := writeFile(t, dir, "main.yaml", loopPlan)
	metricsPath := filepath.Join(dir, "metrics.prom")

	var out bytes.Buffer
	code, err := runPlan(context.Background(), []string{
		"--config", quietConfig(t, dir),
		"--plan", planPath,
		"--plan-dir", dir,
		"--param", "env=qa",
		"--metrics-out", metricsPath,
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "of plan main: passed")
	assert.Contains(t, out.String(), "iteration 1 qa")
	assert.Contains(t, out.String(), "iteration 2 qa")

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "planflow_executions_total")
}

func TestRunPlan_FailingPlanExitsNonZero(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	code, err := runPlan(context.Background(), []string{
		"--config", quietConfig(t, dir),
		"--plan", writeFile(t, dir, "failing.yaml", failingPlan),
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "failed")
}

func TestRunPlan_RequiresPlan(t *testing.T) {
	_, err := runPlan(context.Background(), nil, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = runPlan(context.Background(), []string{"--plan", filepath.Join(t.TempDir(), "missing.yaml")}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestResolvePlan_FollowsCallPlan(t *testing.T) {
	dir := t.TempDir()
	plans := filepath.Join(dir, "plans")
	require.NoError(t, os.Mkdir(plans, 0o755))
	writeFile(t, plans, "lib.yaml", libPlan)
	caller := writeFile(t, dir, "caller.yaml", callerPlan)

	var out bytes.Buffer
	err := resolvePlan(context.Background(), []string{
		"--config", quietConfig(t, dir),
		"--plan", caller,
		"--plan-dir", plans,
	}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "resolved plan caller: 3 nodes")
	assert.Contains(t, out.String(), "callPlan call (main#0)")
	assert.Contains(t, out.String(), "echo lib-root (sub_plan#0)")
}

func TestResolvePlan_BadPlanDir(t *testing.T) {
	dir := t.TempDir()
	err := resolvePlan(context.Background(), []string{
		"--plan", writeFile(t, dir, "caller.yaml", callerPlan),
		"--plan-dir", filepath.Join(dir, "nope"),
	}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestPrintVersion(t *testing.T) {
	var out bytes.Buffer
	printVersion(&out)
	assert.Contains(t, out.String(), "PlanFlow dev")
}

func TestInitLogger(t *testing.T) {
	for _, cfg := range []config.LogConfig{
		{Level: "debug", Format: "console"},
		{Level: "warn", Format: "json", OutputPaths: []string{"stderr"}, EnableCaller: true},
		{Level: "bogus"},
	} {
		logger := initLogger(cfg)
		require.NotNil(t, logger)
		_ = logger.Sync()
	}
}
