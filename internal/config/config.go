package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultModel             = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens         = 4096
	DefaultAgentName         = "Ilora"
	DefaultPersona           = "front-desk"
	DefaultRefreshSeconds    = 300
	DefaultRetrieverK        = 5
	DefaultRetrieverFetchK   = 20
	DefaultHistoryCap        = 50
	DefaultCheckpointSeconds = 900
	DefaultDigestSpec        = "0 0 8 * * *"
	DefaultWebUIListen       = ":8080"
	DefaultLogLevel          = "info"

	DefaultQnASheet      = "QnA_Manager"
	DefaultRulesSheet    = "Dos and Donts"
	DefaultCampaignSheet = "Campaigns_Manager"
	DefaultMenuSheet     = "menu_manager"
	DefaultClientSheet   = "Client_workflow"
	DefaultTicketSheet   = "Tickets"
	DefaultLogSheet      = "Guest_Log"
)

type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Provider  ProviderConfig  `json:"provider"`
	Sheets    SheetsConfig    `json:"sheets"`
	Retrieval RetrievalConfig `json:"retrieval"`
	History   HistoryConfig   `json:"history"`
	Payments  PaymentsConfig  `json:"payments"`
	Rooms     RoomsConfig     `json:"rooms"`
	Channels  ChannelsConfig  `json:"channels"`
	Cron      CronConfig      `json:"cron"`
	LogLevel  string          `json:"logLevel,omitempty"`
}

type AgentConfig struct {
	Name      string `json:"name"`
	Persona   string `json:"persona"`
	Workspace string `json:"workspace"`
	Model     string `json:"model"`
	MaxTokens int    `json:"maxTokens"`
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "anthropic" (default) or "openai"
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type SheetsConfig struct {
	WebAppURL      string `json:"webappUrl"`
	RefreshSeconds int    `json:"refreshSeconds"`
	QnASheet       string `json:"qnaSheet"`
	RulesSheet     string `json:"rulesSheet"`
	CampaignSheet  string `json:"campaignSheet"`
	MenuSheet      string `json:"menuSheet"`
	ClientSheet    string `json:"clientSheet"`
	TicketSheet    string `json:"ticketSheet"`
	LogSheet       string `json:"logSheet"`
}

type RetrievalConfig struct {
	K        int    `json:"k"`
	FetchK   int    `json:"fetchK"`
	IndexURL string `json:"indexUrl,omitempty"`
}

type HistoryConfig struct {
	Store             string `json:"store"` // "memory" (default) or "redis"
	Cap               int    `json:"cap"`
	RedisAddr         string `json:"redisAddr,omitempty"`
	RedisDB           int    `json:"redisDb,omitempty"`
	CheckpointPath    string `json:"checkpointPath,omitempty"`
	CheckpointSeconds int    `json:"checkpointSeconds"`
}

type PaymentsConfig struct {
	BaseURL string `json:"baseUrl,omitempty"`
}

type RoomRate struct {
	Name  string `json:"name"`
	Price int    `json:"price"`
}

type RoomsConfig struct {
	Rates []RoomRate `json:"rates"`
}

type ChannelsConfig struct {
	WebUI    WebUIConfig    `json:"webui"`
	Telegram TelegramConfig `json:"telegram"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
}

type WebUIConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen,omitempty"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	Proxy     string   `json:"proxy,omitempty"`
	AllowFrom []string `json:"allowFrom"`
}

type WhatsAppConfig struct {
	Enabled   bool     `json:"enabled"`
	DBPath    string   `json:"dbPath,omitempty"`
	AllowFrom []string `json:"allowFrom"`
}

type CronConfig struct {
	DigestSpec string `json:"digestSpec,omitempty"`
}

func DefaultRoomRates() []RoomRate {
	return []RoomRate{
		{Name: "Standard", Price: 12500},
		{Name: "Deluxe", Price: 17000},
		{Name: "Executive", Price: 23000},
		{Name: "Family", Price: 27500},
		{Name: "Suite", Price: 34000},
	}
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Agent: AgentConfig{
			Name:      DefaultAgentName,
			Persona:   DefaultPersona,
			Workspace: filepath.Join(home, ".concierge", "workspace"),
			Model:     DefaultModel,
			MaxTokens: DefaultMaxTokens,
		},
		Provider: ProviderConfig{},
		Sheets: SheetsConfig{
			RefreshSeconds: DefaultRefreshSeconds,
			QnASheet:       DefaultQnASheet,
			RulesSheet:     DefaultRulesSheet,
			CampaignSheet:  DefaultCampaignSheet,
			MenuSheet:      DefaultMenuSheet,
			ClientSheet:    DefaultClientSheet,
			TicketSheet:    DefaultTicketSheet,
			LogSheet:       DefaultLogSheet,
		},
		Retrieval: RetrievalConfig{
			K:      DefaultRetrieverK,
			FetchK: DefaultRetrieverFetchK,
		},
		History: HistoryConfig{
			Store:             "memory",
			Cap:               DefaultHistoryCap,
			CheckpointSeconds: DefaultCheckpointSeconds,
		},
		Rooms: RoomsConfig{Rates: DefaultRoomRates()},
		Channels: ChannelsConfig{
			WebUI: WebUIConfig{Enabled: true, Listen: DefaultWebUIListen},
		},
		Cron:     CronConfig{DigestSpec: DefaultDigestSpec},
		LogLevel: DefaultLogLevel,
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".concierge")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	return LoadConfigFrom(ConfigPath())
}

func LoadConfigFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if key := os.Getenv("CONCIERGE_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_AUTH_TOKEN"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		if cfg.Provider.Type == "" {
			cfg.Provider.Type = "openai"
		}
	}
	if url := os.Getenv("CONCIERGE_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if url := os.Getenv("ANTHROPIC_BASE_URL"); url != "" && cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = url
	}
	if model := os.Getenv("CONCIERGE_MODEL"); model != "" {
		cfg.Agent.Model = model
	}
	if url := os.Getenv("CONCIERGE_SHEETS_URL"); url != "" {
		cfg.Sheets.WebAppURL = url
	}
	if url := os.Getenv("CONCIERGE_INDEX_URL"); url != "" {
		cfg.Retrieval.IndexURL = url
	}
	if url := os.Getenv("CONCIERGE_PAYMENTS_URL"); url != "" {
		cfg.Payments.BaseURL = url
	}
	if addr := os.Getenv("CONCIERGE_REDIS_ADDR"); addr != "" {
		cfg.History.RedisAddr = addr
		if cfg.History.Store == "" || cfg.History.Store == "memory" {
			cfg.History.Store = "redis"
		}
	}
	if token := os.Getenv("CONCIERGE_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if listen := os.Getenv("CONCIERGE_LISTEN"); listen != "" {
		cfg.Channels.WebUI.Listen = listen
	}
	if level := os.Getenv("CONCIERGE_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if secs := os.Getenv("CONCIERGE_REFRESH_SECONDS"); secs != "" {
		if parsed, err := strconv.Atoi(secs); err == nil && parsed > 0 {
			cfg.Sheets.RefreshSeconds = parsed
		}
	}

	if cfg.Agent.Workspace == "" {
		cfg.Agent.Workspace = DefaultConfig().Agent.Workspace
	}
	if cfg.Agent.Name == "" {
		cfg.Agent.Name = DefaultAgentName
	}
	if cfg.Agent.Model == "" {
		cfg.Agent.Model = DefaultModel
	}
	if cfg.Agent.MaxTokens <= 0 {
		cfg.Agent.MaxTokens = DefaultMaxTokens
	}
	if cfg.Sheets.RefreshSeconds <= 0 {
		cfg.Sheets.RefreshSeconds = DefaultRefreshSeconds
	}
	if cfg.Sheets.QnASheet == "" {
		cfg.Sheets.QnASheet = DefaultQnASheet
	}
	if cfg.Sheets.RulesSheet == "" {
		cfg.Sheets.RulesSheet = DefaultRulesSheet
	}
	if cfg.Sheets.CampaignSheet == "" {
		cfg.Sheets.CampaignSheet = DefaultCampaignSheet
	}
	if cfg.Sheets.MenuSheet == "" {
		cfg.Sheets.MenuSheet = DefaultMenuSheet
	}
	if cfg.Sheets.ClientSheet == "" {
		cfg.Sheets.ClientSheet = DefaultClientSheet
	}
	if cfg.Sheets.TicketSheet == "" {
		cfg.Sheets.TicketSheet = DefaultTicketSheet
	}
	if cfg.Sheets.LogSheet == "" {
		cfg.Sheets.LogSheet = DefaultLogSheet
	}
	if cfg.Retrieval.K <= 0 {
		cfg.Retrieval.K = DefaultRetrieverK
	}
	if cfg.Retrieval.FetchK < cfg.Retrieval.K {
		cfg.Retrieval.FetchK = DefaultRetrieverFetchK
	}
	if cfg.History.Store == "" {
		cfg.History.Store = "memory"
	}
	if cfg.History.Cap <= 0 {
		cfg.History.Cap = DefaultHistoryCap
	}
	if cfg.History.CheckpointSeconds <= 0 {
		cfg.History.CheckpointSeconds = DefaultCheckpointSeconds
	}
	if len(cfg.Rooms.Rates) == 0 {
		cfg.Rooms.Rates = DefaultRoomRates()
	}
	if cfg.Channels.WebUI.Listen == "" {
		cfg.Channels.WebUI.Listen = DefaultWebUIListen
	}
	if cfg.Cron.DigestSpec == "" {
		cfg.Cron.DigestSpec = DefaultDigestSpec
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
