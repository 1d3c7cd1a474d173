package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/beam-cloud/mailsync/pkg/common"
	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	var buf bytes.Buffer
	prev := out
	out = &buf
	t.Cleanup(func() {
		out = prev
		jsonOutput = false
		configPath = ""
	})

	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func localSQLite(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "mailsync.db")
	t.Setenv(common.ConfigPathEnv, "")
	t.Setenv(common.ConfigJSONEnv, `{"mode":"local","prettyLogs":false,"database":{"sqlite":{"path":"`+path+`"}}}`)
	return path
}

func TestCommands_Registered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "refresh-once", "migrate"} {
		assert.True(t, names[want], want)
	}
}

func TestMigrate_LocalMode(t *testing.T) {
	path := localSQLite(t)

	output, err := runCLI(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, output, "Migrations applied")

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestRefreshOnce_JSON(t *testing.T) {
	localSQLite(t)

	output, err := runCLI(t, "refresh-once", "--json")
	require.NoError(t, err)

	var result types.RefreshTickResult
	require.NoError(t, json.Unmarshal([]byte(output), &result))
	assert.Equal(t, types.RefreshTickResult{}, result)
}
