package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "defacto "+Version+"\n", out)
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	t.Setenv("DEFACTO_PROTOCOL_ADMIN_TOKEN", "s3cret-token")
	t.Setenv("DEFACTO_LEDGER_BACKEND", "memory")

	out, err := run(t, "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "s3cret-token")
	assert.Contains(t, out, "********")
	assert.Contains(t, out, "backend: memory")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"defaults", nil, ""},
		{"unknown ledger", map[string]string{"DEFACTO_LEDGER_BACKEND": "tape"}, "unknown ledger.backend"},
		{"postgres without url", map[string]string{"DEFACTO_LEDGER_BACKEND": "postgres"}, "requires database_url"},
		{"bad params", map[string]string{"DEFACTO_PROTOCOL_PARAMS_MIN_STAKE": "0"}, "minStake"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			out, err := run(t, "config", "validate")
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Contains(t, out, "configuration OK")
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestReplayRejectsMemoryLedger(t *testing.T) {
	t.Setenv("DEFACTO_LEDGER_BACKEND", "memory")
	_, err := run(t, "replay")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no journal")
}

func TestReplayEmptyJournal(t *testing.T) {
	t.Setenv("DEFACTO_LEDGER_BACKEND", "badger")
	t.Setenv("DEFACTO_LEDGER_BADGER_PATH", t.TempDir())
	t.Setenv("DEFACTO_LEDGER_SYNC_WRITES", "false")

	out, err := run(t, "replay")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Replayed 0 operations"), out)
	assert.Contains(t, out, "diverged:      0")
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "", redact(""))
	assert.Equal(t, "********", redact("x"))
}
