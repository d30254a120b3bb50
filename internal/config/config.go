package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the directory name for project-level StateNERD config.
	WorkspaceDirName = ".statenerd"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (--no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up (--workspace-dir flag).
	ExplicitDir string
}

// Config captures all tunable settings for the StateNERD MCP server.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Browser  BrowserConfig  `yaml:"browser"`
	State    StateConfig    `yaml:"state"`
	Console  ConsoleConfig  `yaml:"console"`
	Mangle   MangleConfig   `yaml:"mangle"`
	MCP      MCPConfig      `yaml:"mcp"`
	Recorder RecorderConfig `yaml:"recorder"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	LogFile string `yaml:"log_file"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). Required when launch is empty.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command to start Chrome in detached mode (e.g., ["chrome", "--remote-debugging-port=9222"]).
	Launch []string `yaml:"launch"`
	// AutoStart controls whether the MCP server launches/attaches to Chrome at startup.
	AutoStart bool `yaml:"auto_start"`
	// Headless controls whether Chrome runs in headless mode (default: true).
	Headless *bool `yaml:"headless"`
	// Default navigation timeout (e.g., "15s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
	// Default timeout when attaching to an existing target (e.g., "10s").
	DefaultAttachTimeout string `yaml:"default_attach_timeout"`
	// Viewport width for new sessions (default: 1920).
	ViewportWidth int `yaml:"viewport_width"`
	// Viewport height for new sessions (default: 1080).
	ViewportHeight int `yaml:"viewport_height"`
}

// StateConfig tunes snapshot compilation and response shaping.
type StateConfig struct {
	// Cap on the actionable list per response (default: 20).
	MaxActionables int `yaml:"max_actionables"`
	// Query parameters allowed to survive URL sanitization.
	AllowedQueryParams []string `yaml:"allowed_query_params"`
	// Cap on non-sensitive value hints in responses (default: 40).
	ValueTruncateAt int `yaml:"value_truncate_at"`
	// Snapshot compilation timeout (e.g., "5s").
	SnapshotTimeout string `yaml:"snapshot_timeout"`
	// Cap on compiled nodes per snapshot; exceeding it truncates (default: 600).
	MaxSnapshotNodes int `yaml:"max_snapshot_nodes"`
	// Retained-entry cap for the in-page mutation observer (default: 64).
	ObserverBufferLimit int `yaml:"observer_buffer_limit"`
	// Cap on concurrently watched shadow roots (default: 32).
	ObserverShadowLimit int `yaml:"observer_shadow_limit"`
	// Cap on text captured per observed mutation (default: 120).
	ObserverTextLimit int `yaml:"observer_text_limit"`
}

// ConsoleConfig controls console message capture and triage.
type ConsoleConfig struct {
	// Enable console capture (default: true).
	Enabled *bool `yaml:"enabled"`
	// Ring buffer size per session (default: 500).
	BufferLimit int `yaml:"buffer_limit"`
	// Minimum level retained: debug | info | warning | error.
	MinLevel string `yaml:"min_level"`
}

// MangleConfig controls the embedded deductive engine.
type MangleConfig struct {
	Enable          bool   `yaml:"enable"`
	SchemaPath      string `yaml:"schema_path"`
	DisableBuiltin  bool   `yaml:"disable_builtin_rules"`
	FactBufferLimit int    `yaml:"fact_buffer_limit"`
}

type MCPConfig struct {
	// When set, starts an SSE server on this port instead of stdio-only.
	SSEPort int `yaml:"sse_port"`
}

// RecorderConfig controls response trace recording.
type RecorderConfig struct {
	// Enable JSONL trace recording (default: false).
	Enabled bool `yaml:"enabled"`
	// Directory for trace files, resolved against the workspace when relative.
	Dir string `yaml:"dir"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:    "statenerd-mcp",
			Version: "0.1.0",
			LogFile: "statenerd-mcp.log",
		},
		Browser: BrowserConfig{
			AutoStart:                true,
			DefaultNavigationTimeout: "15s",
			DefaultAttachTimeout:     "10s",
			ViewportWidth:            1920,
			ViewportHeight:           1080,
		},
		State: StateConfig{
			MaxActionables:      20,
			AllowedQueryParams:  []string{"page", "tab"},
			ValueTruncateAt:     40,
			SnapshotTimeout:     "5s",
			MaxSnapshotNodes:    600,
			ObserverBufferLimit: 64,
			ObserverShadowLimit: 32,
			ObserverTextLimit:   120,
		},
		Console: ConsoleConfig{
			BufferLimit: 500,
			MinLevel:    "info",
		},
		Mangle: MangleConfig{
			Enable:          true,
			SchemaPath:      "schemas/state.mg",
			FactBufferLimit: 2048,
		},
		MCP: MCPConfig{
			SSEPort: 0,
		},
		Recorder: RecorderConfig{
			Enabled: false,
			Dir:     "data/traces",
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// DiscoverWorkspace walks up from startDir looking for a .statenerd/config.yaml file.
// Returns the workspace root directory (parent of .statenerd/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace implements multi-layer config merge:
//
//	DefaultConfig() <- .statenerd/config.yaml <- explicit --config <- CLI flags
//
// Returns the merged config and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	// Layer 1: Workspace config (if not disabled)
	if !opts.Disable {
		var err error
		if opts.ExplicitDir != "" {
			// Verify the explicit workspace dir has a config
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, cwdErr := os.Getwd()
			if cwdErr != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", cwdErr)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
			raw, err := os.ReadFile(wsConfigPath)
			if err != nil {
				return cfg, "", fmt.Errorf("reading workspace config %s: %w", wsConfigPath, err)
			}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, "", fmt.Errorf("parsing workspace config %s: %w", wsConfigPath, err)
			}
			cfg = resolveWorkspacePaths(cfg, wsDir)
		}
	}

	// Layer 2: Explicit config file (--config flag)
	if explicitConfig != "" {
		raw, err := os.ReadFile(explicitConfig)
		if err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config %s: %w", explicitConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsDir, fmt.Errorf("parsing explicit config %s: %w", explicitConfig, err)
		}
	}

	return cfg, wsDir, cfg.Validate()
}

// InitWorkspace creates a .statenerd/ directory with template files at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	// Check if already exists
	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	// Create directory structure
	dirs := []string{
		wsDir,
		filepath.Join(wsDir, "schemas"),
		filepath.Join(wsDir, "data"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	// Write template config
	templateConfig := `# StateNERD project-level configuration
# Values here override defaults but are overridden by --config and CLI flags.

# browser:
#   headless: false
#   viewport_width: 1280
#   viewport_height: 720

# state:
#   max_actionables: 20
#   allowed_query_params:
#     - page
#     - tab

# console:
#   min_level: "warning"

# mangle:
#   schema_path: ".statenerd/schemas/project.mg"
`
	configPath := filepath.Join(wsDir, WorkspaceConfigFile)
	if err := os.WriteFile(configPath, []byte(templateConfig), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	// Write .gitignore for data directory
	gitignoreContent := "# Runtime data (logs, traces) - do not version control\ndata/\n"
	gitignorePath := filepath.Join(wsDir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte(gitignoreContent), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the workspace directory.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(wsDir, p)
	}

	cfg.Server.LogFile = resolve(cfg.Server.LogFile)
	cfg.Mangle.SchemaPath = resolve(cfg.Mangle.SchemaPath)
	cfg.Recorder.Dir = resolve(cfg.Recorder.Dir)
	return cfg
}

// Validate ensures required fields exist so the server can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Browser.AutoStart {
		if c.Browser.DebuggerURL == "" && len(c.Browser.Launch) == 0 {
			return errors.New("browser.debugger_url or browser.launch must be provided")
		}
	}
	switch c.Console.MinLevel {
	case "", "debug", "info", "warning", "error":
	default:
		return fmt.Errorf("console.min_level %q is not one of debug|info|warning|error", c.Console.MinLevel)
	}
	return nil
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	if b.DefaultNavigationTimeout == "" {
		return 15 * time.Second
	}
	d, err := time.ParseDuration(b.DefaultNavigationTimeout)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// AttachTimeout returns the parsed attach timeout with a sane default.
func (b BrowserConfig) AttachTimeout() time.Duration {
	if b.DefaultAttachTimeout == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(b.DefaultAttachTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// IsHeadless returns whether Chrome should run in headless mode (default: true).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return true // default to headless
	}
	return *b.Headless
}

// GetViewportWidth returns the viewport width with a sane default.
func (b BrowserConfig) GetViewportWidth() int {
	if b.ViewportWidth <= 0 {
		return 1920
	}
	return b.ViewportWidth
}

// GetViewportHeight returns the viewport height with a sane default.
func (b BrowserConfig) GetViewportHeight() int {
	if b.ViewportHeight <= 0 {
		return 1080
	}
	return b.ViewportHeight
}

// SnapshotTimeoutDuration returns the parsed snapshot timeout with a sane default.
func (s StateConfig) SnapshotTimeoutDuration() time.Duration {
	if s.SnapshotTimeout == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(s.SnapshotTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// GetMaxSnapshotNodes returns the compiled-node cap with a sane default.
func (s StateConfig) GetMaxSnapshotNodes() int {
	if s.MaxSnapshotNodes <= 0 {
		return 600
	}
	return s.MaxSnapshotNodes
}

// IsEnabled returns whether console capture is on (default: true).
func (c ConsoleConfig) IsEnabled() bool {
	if c.Enabled == nil {
		return true // default to capturing
	}
	return *c.Enabled
}

// GetBufferLimit returns the console ring buffer size with a sane default.
func (c ConsoleConfig) GetBufferLimit() int {
	if c.BufferLimit <= 0 {
		return 500
	}
	return c.BufferLimit
}

// GetMinLevel returns the minimum retained console level with a sane default.
func (c ConsoleConfig) GetMinLevel() string {
	if c.MinLevel == "" {
		return "info"
	}
	return c.MinLevel
}
