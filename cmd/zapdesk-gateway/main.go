// ABOUTME: Entry point for the zapdesk-gateway routing server
// ABOUTME: Routes inbound WhatsApp traffic between bot tiers and human agents

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/zapdesk/zapdesk-gateway/internal/auth"
	"github.com/zapdesk/zapdesk-gateway/internal/config"
	"github.com/zapdesk/zapdesk-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 ______ _ _ __  _____  ____  ___  ___ _  __
|_  /  | '_ \ |  _  |/  _ \/ _ \/ __| |/ /
 / / _ | |_) ||  |_| |  |_|  __/\__ \   <
/___\__| .__/ |_____|\____/\___||___/_|\_\
       |_|         gateway
`

// getConfigPath returns the path to the gateway config file.
// Priority: ZAPDESK_CONFIG env var > XDG_CONFIG_HOME/zapdesk/gateway.yaml > ~/.config/zapdesk/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("ZAPDESK_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "zapdesk", "gateway.yaml")
}

// getDataPath returns the path to the zapdesk data directory.
// Priority: XDG_DATA_HOME/zapdesk > ~/.local/share/zapdesk
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "zapdesk")
}

func main() {
	// A .env file is optional; environment wins over file values either way.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Println("Usage: zapdesk-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                 Start the gateway server")
		fmt.Println("  init                  Create a new config file interactively")
		fmt.Println("  token --agent NAME    Generate an agent JWT")
		fmt.Println("  health                Check gateway health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "token":
		err = runToken()
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

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)

	if cfg.Providers.Evolution.Enabled {
		green.Print("    ▶ ")
		fmt.Print("Provider:  ")
		cyan.Println("evolution")
	} else if cfg.Providers.WAHA.Enabled {
		green.Print("    ▶ ")
		fmt.Print("Provider:  ")
		cyan.Println("waha")
	}

	fmt.Println()

	logger.Info("starting zapdesk-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	// Create and run gateway
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
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
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

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
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

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// runToken generates a JWT for an agent to use with the dashboard and API.
// Supports both "--agent value" and "--agent=value" formats.
func runToken() error {
	var agentID string
	ttl := 30 * 24 * time.Hour

	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--agent" || arg == "-a":
			if i+1 >= len(args) {
				return fmt.Errorf("--agent requires a value")
			}
			agentID = args[i+1]
			i++
		case strings.HasPrefix(arg, "--agent="):
			agentID = strings.TrimPrefix(arg, "--agent=")
		case arg == "--ttl":
			if i+1 >= len(args) {
				return fmt.Errorf("--ttl requires a value")
			}
			parsed, err := time.ParseDuration(args[i+1])
			if err != nil {
				return fmt.Errorf("parsing --ttl: %w", err)
			}
			ttl = parsed
			i++
		case strings.HasPrefix(arg, "--ttl="):
			parsed, err := time.ParseDuration(strings.TrimPrefix(arg, "--ttl="))
			if err != nil {
				return fmt.Errorf("parsing --ttl: %w", err)
			}
			ttl = parsed
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return fmt.Errorf("--agent flag is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt_secret not configured")
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	token, err := verifier.Generate(agentID, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Token for agent %q (expires %s)\n\n", agentID, time.Now().Add(ttl).Format("Jan 02, 2006"))
	fmt.Println(token)
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("zapdesk-gateway configuration setup")
	fmt.Println("===================================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "gateway.db")

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Server configuration
	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")

	// Database
	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	// Auth
	fmt.Println("\n--- Agent Authentication ---")
	jwtSecret := prompt(reader, "JWT secret (leave empty to generate)", "")
	if jwtSecret == "" {
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return fmt.Errorf("generating JWT secret: %w", err)
		}
		jwtSecret = base64.StdEncoding.EncodeToString(secretBytes)
		fmt.Println("Generated a random JWT secret.")
	}

	// Outbound provider
	fmt.Println("\n--- Messaging Provider ---")
	providerChoice := prompt(reader, "Outbound provider (evolution/waha/none)", "none")

	var evolutionURL, evolutionInstance, wahaURL, wahaSession string
	switch strings.ToLower(providerChoice) {
	case "evolution":
		evolutionURL = prompt(reader, "Evolution API URL", "http://localhost:8081")
		evolutionInstance = prompt(reader, "Evolution instance name", "main")
	case "waha":
		wahaURL = prompt(reader, "WAHA API URL", "http://localhost:3000")
		wahaSession = prompt(reader, "WAHA session name", "default")
	}

	// Bot tiers
	fmt.Println("\n--- Responder Tiers ---")
	llmEnabled := yesNo(prompt(reader, "Enable LLM tier?", "no"))
	var llmModel string
	if llmEnabled {
		llmModel = prompt(reader, "LLM model", "gpt-4o-mini")
	}
	nluEnabled := yesNo(prompt(reader, "Enable NLU tier (Rasa)?", "no"))
	var nluURL string
	if nluEnabled {
		nluURL = prompt(reader, "NLU webhook URL", "http://localhost:5005/webhooks/rest/webhook")
	}

	// Gate
	fmt.Println("\n--- Outbound Gate ---")
	timezone := prompt(reader, "Business timezone", "America/Sao_Paulo")

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# zapdesk-gateway configuration\n")
	cfg.WriteString("# Generated by zapdesk-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: %q\n", jwtSecret))
	cfg.WriteString("\n")

	cfg.WriteString("bot:\n")
	cfg.WriteString("  max_turns: 4\n")
	cfg.WriteString("  context_ttl: \"2h\"\n")
	cfg.WriteString("  sweep_interval: \"10m\"\n")
	cfg.WriteString("  llm:\n")
	cfg.WriteString(fmt.Sprintf("    enabled: %t\n", llmEnabled))
	if llmEnabled {
		cfg.WriteString(fmt.Sprintf("    model: %q\n", llmModel))
		cfg.WriteString("    api_key: \"${OPENAI_API_KEY}\"\n")
		cfg.WriteString("    timeout: \"5s\"\n")
	}
	cfg.WriteString("  nlu:\n")
	cfg.WriteString(fmt.Sprintf("    enabled: %t\n", nluEnabled))
	if nluEnabled {
		cfg.WriteString(fmt.Sprintf("    url: %q\n", nluURL))
		cfg.WriteString("    timeout: \"5s\"\n")
	}
	cfg.WriteString("\n")

	cfg.WriteString("gate:\n")
	cfg.WriteString(fmt.Sprintf("  timezone: %q\n", timezone))
	cfg.WriteString("  max_per_day: 5\n")
	cfg.WriteString("  max_per_window: 3\n")
	cfg.WriteString("  min_delay: \"3s\"\n")
	cfg.WriteString("  max_delay: \"8s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("providers:\n")
	cfg.WriteString("  evolution:\n")
	cfg.WriteString(fmt.Sprintf("    enabled: %t\n", evolutionURL != ""))
	if evolutionURL != "" {
		cfg.WriteString(fmt.Sprintf("    api_url: %q\n", evolutionURL))
		cfg.WriteString(fmt.Sprintf("    instance: %q\n", evolutionInstance))
		cfg.WriteString("    api_key: \"${EVOLUTION_API_KEY}\"\n")
	}
	cfg.WriteString("  waha:\n")
	cfg.WriteString(fmt.Sprintf("    enabled: %t\n", wahaURL != ""))
	if wahaURL != "" {
		cfg.WriteString(fmt.Sprintf("    api_url: %q\n", wahaURL))
		cfg.WriteString(fmt.Sprintf("    session: %q\n", wahaSession))
		cfg.WriteString("    api_key: \"${WAHA_API_KEY}\"\n")
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Ensure data directory exists
	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  zapdesk-gateway serve\n")

	return nil
}

func yesNo(answer string) bool {
	lower := strings.ToLower(answer)
	return lower == "yes" || lower == "y"
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
