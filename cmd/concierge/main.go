package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/illoraretreats/concierge/internal/config"
	"github.com/illoraretreats/concierge/internal/engine"
	"github.com/illoraretreats/concierge/internal/gateway"
	"github.com/illoraretreats/concierge/internal/persona"
)

// ChatOptions carries injectable dependencies for the chat command.
type ChatOptions struct {
	GatewayOptions gateway.Options
	Stdin          io.Reader
	Stdout         io.Writer
	Stderr         io.Writer
}

var (
	configFlag    string
	workspaceFlag string
	messageFlag   string
	emailFlag     string
)

var rootCmd = &cobra.Command{
	Use:   "concierge",
	Short: "concierge - hotel guest assistant over Sheets, LLM and chat channels",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway (channels + cron) until signal",
	RunE:  runServe,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the concierge engine locally (REPL or -m single-shot)",
	RunE:  runChat,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write default config and workspace scaffold",
	RunE:  runInit,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show concierge configuration status",
	RunE:  runStatus,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to config file (default ~/.concierge/config.json)")
	rootCmd.PersistentFlags().StringVar(&workspaceFlag, "workspace", "", "Override the workspace directory")
	chatCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to send")
	chatCmd.Flags().StringVar(&emailFlag, "email", "", "Identify as this guest email")
	rootCmd.AddCommand(serveCmd, chatCmd, initCmd, statusCmd)
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configFlag != "" {
		cfg, err = config.LoadConfigFrom(configFlag)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if workspaceFlag != "" {
		cfg.Agent.Workspace = workspaceFlag
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("API key not set. Run 'concierge init' and edit the config, or set CONCIERGE_API_KEY / ANTHROPIC_API_KEY")
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	return gw.Run(context.Background())
}

func runChat(cmd *cobra.Command, args []string) error {
	return runChatWithOptions(ChatOptions{})
}

// runChatWithOptions runs the chat command with injectable dependencies
// for testing.
func runChatWithOptions(opts ChatOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// The local REPL is just the engine; channels stay off.
	cfg.Channels.WebUI.Enabled = false
	cfg.Channels.Telegram.Enabled = false
	cfg.Channels.WhatsApp.Enabled = false

	gw, err := gateway.NewWithOptions(cfg, opts.GatewayOptions)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	defer gw.Shutdown()

	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	eng := gw.Engine()
	ctx := context.Background()

	ask := func(message, session string) engine.TurnResult {
		return eng.HandleTurn(ctx, engine.TurnRequest{
			Message:    message,
			IsGuest:    emailFlag != "",
			Identifier: emailFlag,
			Source:     "cli",
			SessionID:  session,
		})
	}

	if messageFlag != "" {
		res := ask(messageFlag, "cli")
		fmt.Fprintln(stdout, res.Reply)
		return nil
	}

	fmt.Fprintln(stdout, "concierge chat (type 'exit' to quit)")
	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		res := ask(input, "cli-repl")
		if res.Reply == engine.Apology {
			fmt.Fprintln(stderr, res.Reply)
			continue
		}
		fmt.Fprintln(stdout, res.Reply)
	}
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()
	if configFlag != "" {
		cfgPath = configFlag
		cfgDir = filepath.Dir(configFlag)
	}

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		data, _ := json.MarshalIndent(cfg, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ws := cfg.Agent.Workspace
	if err := os.MkdirAll(filepath.Join(ws, "personas"), 0755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(cfgDir, "data"), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	writeIfNotExists(filepath.Join(ws, "personas", "front-desk.md"), persona.DefaultCardContent)

	fmt.Printf("Workspace ready: %s\n", ws)
	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your API key and sheet URL\n", cfgPath)
	fmt.Println("  2. Or set CONCIERGE_API_KEY and CONCIERGE_SHEETS_URL")
	fmt.Println("  3. Run 'concierge chat -m \"Do you have a pool?\"' to test")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	cfgPath := config.ConfigPath()
	if configFlag != "" {
		cfgPath = configFlag
	}

	fmt.Printf("Config: %s\n", cfgPath)
	fmt.Printf("Workspace: %s\n", cfg.Agent.Workspace)
	fmt.Printf("Model: %s\n", cfg.Agent.Model)
	fmt.Printf("Persona: %s\n", cfg.Agent.Persona)
	fmt.Printf("API Key: %s\n", maskKey(cfg.Provider.APIKey))
	fmt.Printf("Sheets: %s\n", sheetStatus(cfg.Sheets.WebAppURL))
	fmt.Printf("History: %s\n", cfg.History.Store)
	fmt.Printf("WebUI: enabled=%v listen=%s\n", cfg.Channels.WebUI.Enabled, cfg.Channels.WebUI.Listen)
	fmt.Printf("Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
	fmt.Printf("WhatsApp: enabled=%v\n", cfg.Channels.WhatsApp.Enabled)

	if _, err := os.Stat(cfg.Agent.Workspace); err != nil {
		fmt.Println("Workspace: not found (run 'concierge init')")
	}
	return nil
}

func maskKey(key string) string {
	if key == "" {
		return "not set"
	}
	if len(key) <= 8 {
		return "set"
	}
	return key[:4] + "…" + key[len(key)-4:]
}

// sheetStatus probes the Apps Script URL so the operator can tell a
// config typo from a network problem before starting the gateway.
func sheetStatus(url string) string {
	if url == "" {
		return "not configured"
	}
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Sprintf("%s (unreachable: %v)", url, err)
	}
	defer resp.Body.Close()
	return fmt.Sprintf("%s (HTTP %d)", url, resp.StatusCode)
}

func writeIfNotExists(path, content string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_ = os.WriteFile(path, []byte(content), 0644)
		fmt.Printf("  Created: %s\n", path)
	}
}
