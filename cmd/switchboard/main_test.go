// ABOUTME: Tests for CLI helpers: config path resolution, init output and log handlers
// ABOUTME: The generated config is loaded back through config.Load

package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/switchboard/internal/config"
)

func TestGetConfigPath(t *testing.T) {
	t.Setenv("SWITCHBOARD_CONFIG", "/etc/switchboard.yaml")
	assert.Equal(t, "/etc/switchboard.yaml", getConfigPath())

	t.Setenv("SWITCHBOARD_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	assert.Equal(t, filepath.Join("/tmp/xdg", "switchboard", "config.yaml"), getConfigPath())
}

func TestGetDataPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/tmp/data")
	assert.Equal(t, filepath.Join("/tmp/data", "switchboard"), getDataPath())
}

func TestRenderConfig_LoadsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	out := renderConfig(initAnswers{
		HTTPAddr:      "127.0.0.1:8080",
		PhoneNumberID: "1234",
		AccessToken:   "token",
		VerifyToken:   "verify",
		APIToken:      "api",
		Backend:       config.BackendSQLite,
		SQLitePath:    filepath.Join(t.TempDir(), "switchboard.db"),
		LogLevel:      "info",
		LogFormat:     "text",
	})
	require.NoError(t, os.WriteFile(path, []byte(out), 0600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "1234", cfg.WhatsApp.PhoneNumberID)
	assert.Equal(t, "verify", cfg.Webhook.VerifyToken)
	assert.Equal(t, "api", cfg.API.Token)
	assert.Equal(t, map[int][]string{1: {"PARTS"}, 2: {"HELPDESK"}}, cfg.Routes)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestRunInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	t.Setenv("SWITCHBOARD_CONFIG", path)

	input := strings.Join([]string{
		"",          // config path
		"",          // http address
		"5550001",   // phone number id
		"meta-tok",  // access token
		"",          // verify token
		"memory",    // backend
		"fixed-api", // api token
		"debug",     // log level
		"",          // log format
	}, "\n") + "\n"

	require.NoError(t, runInit(strings.NewReader(input)))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "5550001", cfg.WhatsApp.PhoneNumberID)
	assert.Equal(t, "meta-tok", cfg.WhatsApp.AccessToken)
	assert.Equal(t, config.BackendMemory, cfg.Store.Backend)
	assert.Equal(t, "fixed-api", cfg.API.Token)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.NotEmpty(t, cfg.Webhook.VerifyToken, "a random verify token is offered by default")
}

func TestRandomToken(t *testing.T) {
	a, err := randomToken()
	require.NoError(t, err)
	b, err := randomToken()
	require.NoError(t, err)
	assert.Len(t, a, 43)
	assert.NotEqual(t, a, b)
}

func TestColorHandler(t *testing.T) {
	var buf bytes.Buffer
	h := &colorHandler{out: &buf, mu: &sync.Mutex{}, level: slog.LevelInfo}
	logger := slog.New(h).With("component", "relay")

	logger.Debug("hidden")
	logger.WithGroup("req").Info("processed", "user", "5491100000000")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "processed")
	assert.Contains(t, out, "component=")
	assert.Contains(t, out, "req.user=")
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestSetupLogger_Levels(t *testing.T) {
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "json"})
	assert.False(t, logger.Enabled(t.Context(), slog.LevelInfo))
	assert.True(t, logger.Enabled(t.Context(), slog.LevelWarn))

	logger = setupLogger(config.LoggingConfig{Level: "bogus"})
	assert.True(t, logger.Enabled(t.Context(), slog.LevelInfo))
	assert.False(t, logger.Enabled(t.Context(), slog.LevelDebug))
}
