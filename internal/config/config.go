// Package config loads the optional .shipwright.yml file and overlays the
// deployment secrets file (.env) on top of it. Configuration is loaded
// once at process start and passed explicitly to every component.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileName is the YAML configuration file looked up at the repository root.
const FileName = ".shipwright.yml"

// Default values.
const (
	DefaultRemote         = "origin"
	DefaultManifest       = "package.json"
	DefaultSecretsFile    = ".env"
	DefaultLogFile        = "storage/logs/deploy.log"
	DefaultTimeout        = 300 * time.Second
	DefaultGitTimeout     = 5 * time.Minute
	DefaultInstallTimeout = 5 * time.Minute
	DefaultBuildTimeout   = 10 * time.Minute
	DefaultMaxOutput      = 1 << 20 // 1 MB
)

// Secrets file keys.
const (
	KeyRepositoryURL = "GIT_REPOSITORY_URL"
	KeyRemote        = "GIT_REMOTE"
	KeyServerURL     = "DEPLOY_SERVER_URL"
	KeyToken         = "DEPLOY_TOKEN"
	KeyTimeout       = "DEPLOY_TIMEOUT"
	KeyBuildTimeout  = "NPM_TIMEOUT"
	KeyComposerPath  = "COMPOSER_PATH"
)

// Config holds the parsed configuration. All fields are optional in the
// file; zero values represent defaults.
type Config struct {
	Version           int    `yaml:"version"`
	Remote            string `yaml:"remote"`
	RepositoryURL     string `yaml:"repository_url"`
	ServerURL         string `yaml:"server_url"`
	Token             string `yaml:"-"`               // secrets file only
	RawTimeout        string `yaml:"timeout"`         // trigger request, e.g. "300s"
	RawGitTimeout     string `yaml:"git_timeout"`     // per git command
	RawInstallTimeout string `yaml:"install_timeout"` // npm install
	RawBuildTimeout   string `yaml:"build_timeout"`   // npm run build
	RawMaxOutput      int    `yaml:"max_output"`      // bytes
	Manifest          string `yaml:"manifest"`
	SecretsFile       string `yaml:"secrets_file"`
	LogFile           string `yaml:"log_file"`

	Server ServerConfig `yaml:"server"`
}

// Timeout returns the remote trigger request timeout.
func (c *Config) Timeout() time.Duration {
	return durationOr(c.RawTimeout, DefaultTimeout)
}

// GitTimeout returns the timeout applied to each git command.
func (c *Config) GitTimeout() time.Duration {
	return durationOr(c.RawGitTimeout, DefaultGitTimeout)
}

// InstallTimeout returns the timeout for dependency installation.
func (c *Config) InstallTimeout() time.Duration {
	return durationOr(c.RawInstallTimeout, DefaultInstallTimeout)
}

// BuildTimeout returns the timeout for the asset build.
func (c *Config) BuildTimeout() time.Duration {
	return durationOr(c.RawBuildTimeout, DefaultBuildTimeout)
}

// MaxOutputBytes returns the configured max output size or the default.
func (c *Config) MaxOutputBytes() int {
	if c.RawMaxOutput > 0 {
		return c.RawMaxOutput
	}
	return DefaultMaxOutput
}

// RemoteName returns the git remote pushed to.
func (c *Config) RemoteName() string {
	return stringOr(c.Remote, DefaultRemote)
}

// ManifestName returns the asset manifest file name.
func (c *Config) ManifestName() string {
	return stringOr(c.Manifest, DefaultManifest)
}

// SecretsFileName returns the secrets file name, relative to the repo root.
func (c *Config) SecretsFileName() string {
	return stringOr(c.SecretsFile, DefaultSecretsFile)
}

// LogFilePath returns the local step log path.
func (c *Config) LogFilePath() string {
	return stringOr(c.LogFile, DefaultLogFile)
}

// LoadResult holds the parsed config and where it was found.
type LoadResult struct {
	Config       *Config
	RepoRoot     string // directory containing .git; falls back to workspace
	SecretsPath  string // absolute path of the secrets file
	SecretsFound bool
}

// TreeExcludes returns the files shipwright itself writes inside the
// working tree, relative to RepoRoot. They must never be committed.
func (r *LoadResult) TreeExcludes() []string {
	path := r.Config.LogFilePath()
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.RepoRoot, path)
	}
	rel, err := filepath.Rel(r.RepoRoot, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil
	}
	return []string{rel}
}

// Load reads .shipwright.yml and the secrets file from the repository root.
// The root is discovered by walking upward from workspace looking for a
// .git directory. Missing files are not an error: a default Config is
// returned and SecretsFound reports whether the secrets file existed.
func Load(workspace string) (*LoadResult, error) {
	root, err := findRepoRoot(workspace)
	if err != nil {
		// Not inside a repository; use workspace as root.
		root = workspace
	}

	cfg := &Config{}
	data, err := os.ReadFile(filepath.Join(root, FileName))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", FileName, err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("reading %s: %w", FileName, err)
	}

	res := &LoadResult{
		Config:      cfg,
		RepoRoot:    root,
		SecretsPath: filepath.Join(root, cfg.SecretsFileName()),
	}

	env, err := godotenv.Read(res.SecretsPath)
	switch {
	case err == nil:
		res.SecretsFound = true
		cfg.applySecrets(env)
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("reading %s: %w", cfg.SecretsFileName(), err)
	}
	return res, nil
}

// applySecrets overlays values from the secrets file. Non-empty values
// win over the YAML file.
func (c *Config) applySecrets(env map[string]string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(env[key]); v != "" {
			*dst = v
		}
	}
	set(&c.RepositoryURL, KeyRepositoryURL)
	set(&c.Remote, KeyRemote)
	set(&c.ServerURL, KeyServerURL)
	set(&c.Token, KeyToken)
	set(&c.RawTimeout, KeyTimeout)
	set(&c.RawBuildTimeout, KeyBuildTimeout)
	if v := strings.TrimSpace(env[KeyComposerPath]); v != "" {
		c.Server.ComposerPath = v
	}
}

// findRepoRoot walks upward from dir looking for a directory containing .git.
func findRepoRoot(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf(".git not found")
		}
		dir = parent
	}
}

// durationOr parses raw as a Go duration, or as whole seconds when it is
// a bare integer (the secrets file convention). Invalid or non-positive
// values yield def.
func durationOr(raw string, def time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	if n, err := strconv.Atoi(raw); err == nil {
		if n > 0 {
			return time.Duration(n) * time.Second
		}
		return def
	}
	d, err := time.ParseDuration(raw)
	if err == nil && d > 0 {
		return d
	}
	return def
}

func stringOr(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
