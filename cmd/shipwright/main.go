// Command shipwright commits, builds, and deploys a web application, and
// runs the server side of the deployment.
package main

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/deixis/shipwright"
	"github.com/deixis/shipwright/internal/config"
	"github.com/deixis/shipwright/internal/steplog"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// localEnv keeps git from prompting for credentials mid-pipeline.
var localEnv = []string{"GIT_TERMINAL_PROMPT=0"}

// workdir is the --config flag shared by every command.
var workdir string

var rootCmd = &cobra.Command{
	Use:           "shipwright",
	Short:         "Commit, build, and deploy a web application in one command",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), shipwright.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&workdir, "config", "",
		"directory to load "+config.FileName+" from (defaults to the current directory)")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("shipwright: ")

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errDeployFailed) {
			os.Exit(1)
		}
		log.Fatal(err)
	}
}

// loadConfig loads the configuration for --config or the working directory.
func loadConfig() (*config.LoadResult, error) {
	dir := workdir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determining workspace: %w", err)
		}
		dir = wd
	}
	loaded, err := config.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return loaded, nil
}

// openStepLog opens the step log at path, relative to root, and fans it
// out with console, which may be nil. The returned close func is never nil.
func openStepLog(root, path string, console slog.Handler) (*steplog.Logger, func(), error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	f, err := steplog.OpenFile(path)
	if err != nil {
		return nil, func() {}, err
	}
	handlers := steplog.Fanout{steplog.NewHandler(f, slog.LevelDebug)}
	if console != nil {
		handlers = append(handlers, console)
	}
	return steplog.New(handlers), func() { _ = f.Close() }, nil
}
