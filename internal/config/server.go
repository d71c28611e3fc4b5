package config

import "time"

// ServerConfig configures the remote executor started by "shipwright serve".
type ServerConfig struct {
	Addr              string         `yaml:"addr"`
	ProjectPath       string         `yaml:"project_path"` // deployed working tree; defaults to the repo root
	LogFile           string         `yaml:"log_file"`
	ComposerPath      string         `yaml:"composer_path"`
	RawStepTimeout    string         `yaml:"step_timeout"`    // pull, install, migrate, seed, optimize
	RawInstallTimeout string         `yaml:"install_timeout"` // npm install
	RawBuildTimeout   string         `yaml:"build_timeout"`   // npm run build
	History           int            `yaml:"history"`         // runs kept in memory for inspection
	Commands          CommandsConfig `yaml:"commands"`
}

// CommandsConfig overrides the argv of each remote step. Empty entries
// fall back to the defaults below.
type CommandsConfig struct {
	Install      []string   `yaml:"install"`
	AssetInstall []string   `yaml:"asset_install"`
	AssetBuild   []string   `yaml:"asset_build"`
	Migrate      []string   `yaml:"migrate"`
	Seed         []string   `yaml:"seed"`
	Optimize     [][]string `yaml:"optimize"`
}

// Server defaults.
const (
	DefaultServerAddr    = ":8080"
	DefaultServerLogFile = "storage/logs/deploy-server.log"
	DefaultStepTimeout   = 5 * time.Minute
	DefaultHistory       = 20
)

// Default remote step commands.
var (
	DefaultAssetInstall = []string{"npm", "install"}
	DefaultAssetBuild   = []string{"npm", "run", "build"}
	DefaultMigrate      = []string{"php", "artisan", "migrate", "--force"}
	DefaultSeed         = []string{"php", "artisan", "db:seed", "--force"}
	DefaultOptimize     = [][]string{
		{"php", "artisan", "optimize:clear"},
		{"php", "artisan", "config:cache"},
		{"php", "artisan", "route:cache"},
		{"php", "artisan", "view:cache"},
	}
)

// ListenAddr returns the HTTP listen address.
func (s *ServerConfig) ListenAddr() string {
	return stringOr(s.Addr, DefaultServerAddr)
}

// LogFilePath returns the server step log path.
func (s *ServerConfig) LogFilePath() string {
	return stringOr(s.LogFile, DefaultServerLogFile)
}

// StepTimeout returns the timeout applied to each remote step command.
func (s *ServerConfig) StepTimeout() time.Duration {
	return durationOr(s.RawStepTimeout, DefaultStepTimeout)
}

// AssetInstallTimeout returns the timeout for the remote npm install.
func (s *ServerConfig) AssetInstallTimeout() time.Duration {
	return durationOr(s.RawInstallTimeout, DefaultInstallTimeout)
}

// AssetBuildTimeout returns the timeout for the remote npm run build.
func (s *ServerConfig) AssetBuildTimeout() time.Duration {
	return durationOr(s.RawBuildTimeout, DefaultBuildTimeout)
}

// HistorySize returns how many finished runs are cached in memory.
func (s *ServerConfig) HistorySize() int {
	if s.History > 0 {
		return s.History
	}
	return DefaultHistory
}

// InstallCommand returns the server-side dependency install argv.
func (s *ServerConfig) InstallCommand() []string {
	if len(s.Commands.Install) > 0 {
		return s.Commands.Install
	}
	return []string{stringOr(s.ComposerPath, "composer"), "install", "--no-dev", "--optimize-autoloader"}
}

// AssetInstallCommand returns the front-end dependency install argv.
func (s *ServerConfig) AssetInstallCommand() []string {
	return argvOr(s.Commands.AssetInstall, DefaultAssetInstall)
}

// AssetBuildCommand returns the front-end build argv.
func (s *ServerConfig) AssetBuildCommand() []string {
	return argvOr(s.Commands.AssetBuild, DefaultAssetBuild)
}

// MigrateCommand returns the schema migration argv.
func (s *ServerConfig) MigrateCommand() []string {
	return argvOr(s.Commands.Migrate, DefaultMigrate)
}

// SeedCommand returns the data seeding argv.
func (s *ServerConfig) SeedCommand() []string {
	return argvOr(s.Commands.Seed, DefaultSeed)
}

// OptimizeCommands returns the cache rebuild commands, run in order.
func (s *ServerConfig) OptimizeCommands() [][]string {
	if len(s.Commands.Optimize) > 0 {
		return s.Commands.Optimize
	}
	return DefaultOptimize
}

func argvOr(v, def []string) []string {
	if len(v) > 0 {
		return v
	}
	return def
}
