package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_FromRepoRoot(t *testing.T) {
	dir := initRepo(t)
	writeFile(t, filepath.Join(dir, FileName), "version: 1\ntimeout: 10m\nremote: upstream\n")

	res, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.RepoRoot != dir {
		t.Errorf("RepoRoot = %q, want %q", res.RepoRoot, dir)
	}
	if res.Config.Version != 1 {
		t.Errorf("Config.Version = %d, want 1", res.Config.Version)
	}
	if got := res.Config.Timeout(); got != 10*time.Minute {
		t.Errorf("Timeout() = %v, want 10m", got)
	}
	if got := res.Config.RemoteName(); got != "upstream" {
		t.Errorf("RemoteName() = %q, want upstream", got)
	}
	if res.SecretsFound {
		t.Error("SecretsFound = true, want false")
	}
}

func TestLoad_FromSubdirectory(t *testing.T) {
	root := initRepo(t)
	writeFile(t, filepath.Join(root, FileName), "version: 2\n")

	sub := filepath.Join(root, "app", "Http")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	res, err := Load(sub)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.RepoRoot != root {
		t.Errorf("RepoRoot = %q, want %q", res.RepoRoot, root)
	}
	if res.Config.Version != 2 {
		t.Errorf("Config.Version = %d, want 2", res.Config.Version)
	}
}

func TestLoad_NoRepository(t *testing.T) {
	dir := t.TempDir()

	res, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.RepoRoot != dir {
		t.Errorf("RepoRoot = %q, want %q (fallback to workspace)", res.RepoRoot, dir)
	}
	if res.Config.RawTimeout != "" {
		t.Errorf("expected default config, got RawTimeout = %q", res.Config.RawTimeout)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := initRepo(t)
	writeFile(t, filepath.Join(dir, FileName), "version: [unclosed\n")

	if _, err := Load(dir); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_SecretsOverrideFile(t *testing.T) {
	dir := initRepo(t)
	writeFile(t, filepath.Join(dir, FileName), "server_url: http://yaml.example\nremote: upstream\n")
	writeFile(t, filepath.Join(dir, ".env"), strings.Join([]string{
		"APP_NAME=Laravel",
		"GIT_REPOSITORY_URL=git@example.com:acme/site.git",
		"DEPLOY_SERVER_URL=https://deploy.example.com",
		"DEPLOY_TOKEN=\"s3cr3t-token-value\"",
		"DEPLOY_TIMEOUT=120",
		"NPM_TIMEOUT=900",
	}, "\n")+"\n")

	res, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := res.Config
	if !res.SecretsFound {
		t.Error("SecretsFound = false, want true")
	}
	if cfg.ServerURL != "https://deploy.example.com" {
		t.Errorf("ServerURL = %q, want secrets value", cfg.ServerURL)
	}
	if cfg.RemoteName() != "upstream" {
		t.Errorf("RemoteName() = %q, want upstream (not set in secrets)", cfg.RemoteName())
	}
	if cfg.Token != "s3cr3t-token-value" {
		t.Errorf("Token = %q", cfg.Token)
	}
	if cfg.Timeout() != 120*time.Second {
		t.Errorf("Timeout() = %v, want 120s", cfg.Timeout())
	}
	if cfg.BuildTimeout() != 900*time.Second {
		t.Errorf("BuildTimeout() = %v, want 900s", cfg.BuildTimeout())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_CustomSecretsFile(t *testing.T) {
	dir := initRepo(t)
	writeFile(t, filepath.Join(dir, FileName), "secrets_file: deploy.env\n")
	writeFile(t, filepath.Join(dir, "deploy.env"), "DEPLOY_TOKEN=abc\n")

	res, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.SecretsPath != filepath.Join(dir, "deploy.env") {
		t.Errorf("SecretsPath = %q", res.SecretsPath)
	}
	if res.Config.Token != "abc" {
		t.Errorf("Token = %q, want abc", res.Config.Token)
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := &Config{}
	if cfg.Timeout() != DefaultTimeout {
		t.Errorf("Timeout() = %v, want %v", cfg.Timeout(), DefaultTimeout)
	}
	if cfg.GitTimeout() != DefaultGitTimeout {
		t.Errorf("GitTimeout() = %v, want %v", cfg.GitTimeout(), DefaultGitTimeout)
	}
	if cfg.InstallTimeout() != DefaultInstallTimeout {
		t.Errorf("InstallTimeout() = %v, want %v", cfg.InstallTimeout(), DefaultInstallTimeout)
	}
	if cfg.BuildTimeout() != DefaultBuildTimeout {
		t.Errorf("BuildTimeout() = %v, want %v", cfg.BuildTimeout(), DefaultBuildTimeout)
	}
	if cfg.MaxOutputBytes() != DefaultMaxOutput {
		t.Errorf("MaxOutputBytes() = %d, want %d", cfg.MaxOutputBytes(), DefaultMaxOutput)
	}
	if cfg.RemoteName() != "origin" {
		t.Errorf("RemoteName() = %q, want origin", cfg.RemoteName())
	}
	if cfg.ManifestName() != "package.json" {
		t.Errorf("ManifestName() = %q, want package.json", cfg.ManifestName())
	}
	if cfg.SecretsFileName() != ".env" {
		t.Errorf("SecretsFileName() = %q, want .env", cfg.SecretsFileName())
	}
}

func TestConfig_InvalidDurationFallsBack(t *testing.T) {
	cfg := &Config{RawTimeout: "soon", RawGitTimeout: "-5", RawBuildTimeout: "0"}
	if cfg.Timeout() != DefaultTimeout {
		t.Errorf("Timeout() = %v, want default", cfg.Timeout())
	}
	if cfg.GitTimeout() != DefaultGitTimeout {
		t.Errorf("GitTimeout() = %v, want default", cfg.GitTimeout())
	}
	if cfg.BuildTimeout() != DefaultBuildTimeout {
		t.Errorf("BuildTimeout() = %v, want default", cfg.BuildTimeout())
	}
}

func TestValidate_AccumulatesMissingKeys(t *testing.T) {
	err := (&Config{}).Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Validate() = %v, want *ValidationError", err)
	}
	want := []string{KeyRepositoryURL, KeyServerURL, KeyToken}
	if !reflect.DeepEqual(verr.Missing, want) {
		t.Errorf("Missing = %v, want %v", verr.Missing, want)
	}
	for _, k := range want {
		if !strings.Contains(err.Error(), k) {
			t.Errorf("error %q does not mention %s", err, k)
		}
	}
}

func TestValidate_InvalidServerURL(t *testing.T) {
	for _, raw := range []string{"deploy.example.com", "ftp://deploy.example.com", "https://"} {
		cfg := &Config{RepositoryURL: "git@example.com:a/b.git", ServerURL: raw, Token: "t"}
		err := cfg.Validate()
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("Validate(%q) = %v, want *ValidationError", raw, err)
			continue
		}
		if len(verr.Invalid) != 1 || len(verr.Missing) != 0 {
			t.Errorf("Validate(%q): Missing=%v Invalid=%v", raw, verr.Missing, verr.Invalid)
		}
	}
}

func TestValidateServer(t *testing.T) {
	if err := (&Config{}).ValidateServer(); err == nil {
		t.Error("expected error without token")
	}
	if err := (&Config{Token: "t"}).ValidateServer(); err != nil {
		t.Errorf("ValidateServer: %v", err)
	}
}

func TestServerConfig_Commands(t *testing.T) {
	s := &ServerConfig{}
	if got := s.InstallCommand(); !reflect.DeepEqual(got, []string{"composer", "install", "--no-dev", "--optimize-autoloader"}) {
		t.Errorf("InstallCommand() = %v", got)
	}
	if got := s.MigrateCommand(); !reflect.DeepEqual(got, DefaultMigrate) {
		t.Errorf("MigrateCommand() = %v", got)
	}
	if got := len(s.OptimizeCommands()); got != 4 {
		t.Errorf("len(OptimizeCommands()) = %d, want 4", got)
	}

	if s.AssetInstallTimeout() != 5*time.Minute || s.AssetBuildTimeout() != 10*time.Minute {
		t.Errorf("asset timeouts = %v/%v, want 5m/10m", s.AssetInstallTimeout(), s.AssetBuildTimeout())
	}

	s.ComposerPath = "/usr/local/bin/composer"
	if got := s.InstallCommand()[0]; got != "/usr/local/bin/composer" {
		t.Errorf("InstallCommand()[0] = %q", got)
	}

	s.Commands.Install = []string{"make", "vendor"}
	if got := s.InstallCommand(); !reflect.DeepEqual(got, []string{"make", "vendor"}) {
		t.Errorf("InstallCommand() = %v, want override", got)
	}
}

func TestLoad_ServerSection(t *testing.T) {
	dir := initRepo(t)
	writeFile(t, filepath.Join(dir, FileName), `
server:
  addr: ":9000"
  step_timeout: 90s
  install_timeout: 120
  build_timeout: 20m
  history: 5
  commands:
    seed: ["php", "artisan", "db:seed", "--class=DemoSeeder", "--force"]
    optimize:
      - ["php", "artisan", "optimize"]
`)
	res, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := res.Config.Server
	if s.ListenAddr() != ":9000" {
		t.Errorf("ListenAddr() = %q", s.ListenAddr())
	}
	if s.StepTimeout() != 90*time.Second {
		t.Errorf("StepTimeout() = %v", s.StepTimeout())
	}
	if s.AssetInstallTimeout() != 2*time.Minute {
		t.Errorf("AssetInstallTimeout() = %v", s.AssetInstallTimeout())
	}
	if s.AssetBuildTimeout() != 20*time.Minute {
		t.Errorf("AssetBuildTimeout() = %v", s.AssetBuildTimeout())
	}
	if s.HistorySize() != 5 {
		t.Errorf("HistorySize() = %d", s.HistorySize())
	}
	if got := s.SeedCommand()[3]; got != "--class=DemoSeeder" {
		t.Errorf("SeedCommand()[3] = %q", got)
	}
	if got := s.OptimizeCommands(); len(got) != 1 {
		t.Errorf("OptimizeCommands() = %v, want 1 override", got)
	}
}

func TestLoadResult_TreeExcludes(t *testing.T) {
	root := t.TempDir()
	res := &LoadResult{Config: &Config{}, RepoRoot: root}
	if got, want := res.TreeExcludes(), []string{filepath.Join("storage", "logs", "deploy.log")}; !reflect.DeepEqual(got, want) {
		t.Errorf("TreeExcludes() = %v, want %v", got, want)
	}

	res.Config.LogFile = filepath.Join(root, "var", "deploy.log")
	if got, want := res.TreeExcludes(), []string{filepath.Join("var", "deploy.log")}; !reflect.DeepEqual(got, want) {
		t.Errorf("TreeExcludes() absolute inside = %v, want %v", got, want)
	}

	res.Config.LogFile = filepath.Join(filepath.Dir(root), "outside.log")
	if got := res.TreeExcludes(); got != nil {
		t.Errorf("TreeExcludes() outside tree = %v, want nil", got)
	}
}
