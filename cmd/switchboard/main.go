// ABOUTME: Entry point for the switchboard WhatsApp relay server
// ABOUTME: Commands: serve, init (interactive config), health

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/switchboard/internal/config"
	"github.com/2389/switchboard/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
               _ _       _     _                         _
 _____      __(_) |_ ___| |__ | |__   ___   __ _ _ __ __| |
/ __\ \ /\ / /| | __/ __| '_ \| '_ \ / _ \ / _' | '__/ _' |
\__ \\ V  V / | | || (__| | | | |_) | (_) | (_| | | | (_| |
|___/ \_/\_/  |_|\__\___|_| |_|_.__/ \___/ \__,_|_|  \__,_|
`

// getConfigPath returns the path to the switchboard config file.
// Priority: SWITCHBOARD_CONFIG env var > XDG_CONFIG_HOME/switchboard/config.yaml > ~/.config/switchboard/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("SWITCHBOARD_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "switchboard", "config.yaml")
}

// getDataPath returns the path to the switchboard data directory.
// Priority: XDG_DATA_HOME/switchboard > ~/.local/share/switchboard
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "switchboard")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: switchboard <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the relay server")
		fmt.Println("  init     Create a new config file interactively")
		fmt.Println("  health   Check server health")
		os.Exit(1)
	}

	// A missing .env is fine; anything else is worth reporting.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: loading .env: %v\n", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin)
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Store:     %s", cfg.Store.Backend)
	if cfg.Store.Backend == config.BackendMemory {
		yellow.Print(" [not persistent]")
	}
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("Routes:    %d options\n", len(cfg.Routes))
	if cfg.API.Token == "" {
		green.Print("    ▶ ")
		fmt.Print("API:       ")
		yellow.Println("disabled (no api.token)")
	}

	fmt.Println()

	logger.Info("starting switchboard",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"store", cfg.Store.Backend,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			out:   os.Stdout,
			mu:    &sync.Mutex{},
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
// Handlers derived with WithAttrs or WithGroup share the parent's lock.
type colorHandler struct {
	out    io.Writer
	mu     *sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}

	// Handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + prefix + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, buf.String())
	return err
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	for _, a := range attrs {
		newAttrs = append(newAttrs, slog.Attr{Key: prefix + a.Key, Value: a.Value})
	}
	return &colorHandler{
		out:    h.out,
		mu:     h.mu,
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		out:    h.out,
		mu:     h.mu,
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(string(body))
	return nil
}

// initAnswers holds the values collected by runInit.
type initAnswers struct {
	HTTPAddr      string
	PhoneNumberID string
	AccessToken   string
	VerifyToken   string
	APIToken      string
	Backend       string
	SQLitePath    string
	RedisURL      string
	LogLevel      string
	LogFormat     string
}

func runInit(in io.Reader) error {
	reader := bufio.NewReader(in)

	fmt.Println("switchboard configuration setup")
	fmt.Println("===============================")
	fmt.Println()

	defaultDbPath := filepath.Join(getDataPath(), "switchboard.db")

	outputFile := prompt(reader, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	verifyToken, err := randomToken()
	if err != nil {
		return err
	}
	apiToken, err := randomToken()
	if err != nil {
		return err
	}

	var a initAnswers

	fmt.Println("\n--- Server Configuration ---")
	a.HTTPAddr = prompt(reader, "HTTP address", "localhost:8080")

	fmt.Println("\n--- WhatsApp Cloud API ---")
	a.PhoneNumberID = prompt(reader, "Phone number id", "")
	a.AccessToken = prompt(reader, "Access token (or ${VAR})", "${META_TOKEN}")
	a.VerifyToken = prompt(reader, "Webhook verify token", verifyToken)

	fmt.Println("\n--- Store Configuration ---")
	a.Backend = prompt(reader, "Backend (sqlite/redis/memory)", config.BackendSQLite)
	switch a.Backend {
	case config.BackendSQLite:
		a.SQLitePath = prompt(reader, "SQLite database path", defaultDbPath)
	case config.BackendRedis:
		a.RedisURL = prompt(reader, "Redis URL", "redis://localhost:6379/0")
	}

	fmt.Println("\n--- API Configuration ---")
	a.APIToken = prompt(reader, "API bearer token", apiToken)

	fmt.Println("\n--- Logging Configuration ---")
	a.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	a.LogFormat = prompt(reader, "Log format (text/json)", "text")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(renderConfig(a)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if a.SQLitePath != "" {
		if err := os.MkdirAll(filepath.Dir(a.SQLitePath), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  switchboard serve\n")

	return nil
}

// renderConfig produces the YAML written by init.
func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# switchboard configuration\n")
	cfg.WriteString("# Generated by switchboard init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", a.HTTPAddr))
	cfg.WriteString("\n")

	cfg.WriteString("webhook:\n")
	cfg.WriteString(fmt.Sprintf("  verify_token: %q\n", a.VerifyToken))
	cfg.WriteString("  dedupe_ttl: \"10m\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("whatsapp:\n")
	cfg.WriteString(fmt.Sprintf("  phone_number_id: %q\n", a.PhoneNumberID))
	cfg.WriteString(fmt.Sprintf("  access_token: %q\n", a.AccessToken))
	cfg.WriteString("  timeout: \"10s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("store:\n")
	cfg.WriteString(fmt.Sprintf("  backend: %q\n", a.Backend))
	if a.SQLitePath != "" {
		cfg.WriteString("  sqlite:\n")
		cfg.WriteString(fmt.Sprintf("    path: %q\n", a.SQLitePath))
	}
	if a.RedisURL != "" {
		cfg.WriteString("  redis:\n")
		cfg.WriteString(fmt.Sprintf("    url: %q\n", a.RedisURL))
	}
	cfg.WriteString("\n")

	cfg.WriteString("session:\n")
	cfg.WriteString("  expiry: \"6h\"\n")
	cfg.WriteString("  system_id: \"01\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("routes:\n")
	cfg.WriteString("  1: [\"PARTS\"]\n")
	cfg.WriteString("  2: [\"HELPDESK\"]\n")
	cfg.WriteString("\n")

	cfg.WriteString("api:\n")
	cfg.WriteString(fmt.Sprintf("  token: %q\n", a.APIToken))
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", a.LogLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", a.LogFormat))
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: true\n")
	cfg.WriteString("  path: \"/metrics\"\n")

	return cfg.String()
}

// randomToken returns 32 random bytes, base64url encoded.
func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
