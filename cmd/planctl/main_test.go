package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kuitang/plansite/internal/e2e"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTermsCmd_ListsInDisplayOrder(t *testing.T) {
	out, err := execute(t, "terms")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	require.True(t, strings.HasPrefix(lines[0], "TAG"))
	require.Contains(t, lines[1], "TERM_MONTHLY")
	require.Contains(t, lines[1], "$10.00")
	require.Contains(t, lines[2], "TERM_ANNUALLY")
	require.Contains(t, lines[2], "365")
	require.Contains(t, lines[3], "TERM_BIENNIALLY")
	require.Contains(t, lines[3], "730")
}

func TestProrateCmd(t *testing.T) {
	out, err := execute(t, "prorate", "--term", "annual", "--days-used", "100")
	require.NoError(t, err)
	require.Contains(t, out, "price_cents: 9600\n")
	require.Contains(t, out, "credit_cents: 6969\n")

	out, err = execute(t, "prorate", "--term", "TERM_MONTHLY", "--price-cents", "3100", "--days-used", "40")
	require.NoError(t, err)
	require.Contains(t, out, "credit_cents: 0\n")
}

func TestProrateCmd_Rejects(t *testing.T) {
	_, err := execute(t, "prorate")
	require.Error(t, err)

	_, err = execute(t, "prorate", "--term", "weekly")
	require.ErrorContains(t, err, "invalid term")

	_, err = execute(t, "prorate", "--term", "annual", "--days-used", "-1")
	require.Error(t, err)
}

func TestE2EConfigCmd_PrintsResolvedConfig(t *testing.T) {
	t.Setenv(e2e.ConfigPathEnv, "")
	t.Setenv("E2E_SCREEN_SIZE", "tablet")
	t.Setenv("E2E_TIMEOUT_MS", "7000")

	out, err := execute(t, "e2e-config")
	require.NoError(t, err)

	var cfg e2e.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	require.Equal(t, e2e.ScreenTablet, cfg.ScreenSize)
	require.Equal(t, 7000, cfg.TimeoutMS)
}

func TestE2EConfigCmd_InvalidEnvFails(t *testing.T) {
	t.Setenv(e2e.ConfigPathEnv, "")
	t.Setenv("E2E_BROWSER", "lynx")
	_, err := execute(t, "e2e-config")
	require.Error(t, err)
}
