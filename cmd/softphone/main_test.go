package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath = ""
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "softphone dev\n", out)
}

func TestCallRequiresNumber(t *testing.T) {
	_, err := run(t, "call")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestMissingConfigFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yaml")
	for _, cmd := range []string{"call", "serve"} {
		t.Run(cmd, func(t *testing.T) {
			args := []string{"--config", missing, cmd}
			if cmd == "call" {
				args = append(args, "+15550100")
			}
			_, err := run(t, args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "read config file")
		})
	}
}
