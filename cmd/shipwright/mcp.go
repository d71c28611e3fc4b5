package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	swmcp "github.com/deixis/shipwright/internal/mcp"
	"github.com/deixis/shipwright/internal/report"
	"github.com/deixis/shipwright/internal/runner"
)

var mcpFlags struct {
	instructions bool
	httpAddr     string
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if mcpFlags.instructions {
			fmt.Fprint(cmd.OutOrStdout(), swmcp.Instructions)
			return nil
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return mcpMain(ctx, mcpFlags.httpAddr)
	},
}

func init() {
	mcpCmd.Flags().BoolVar(&mcpFlags.instructions, "instructions", false, "print model instructions and exit")
	mcpCmd.Flags().StringVar(&mcpFlags.httpAddr, "http", "", "start HTTP server on address (e.g. :9090)")
	rootCmd.AddCommand(mcpCmd)
}

func mcpMain(ctx context.Context, httpAddr string) error {
	loaded, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := loaded.Config

	stepLog, closeLog, err := openStepLog(loaded.RepoRoot, cfg.LogFilePath(), nil)
	if err != nil {
		return err
	}
	defer closeLog()

	store := report.NewLRUStore(5, report.NewDiskStore(""))
	r := &runner.Runner{
		Workspace: loaded.RepoRoot,
		MaxOutput: cfg.MaxOutputBytes(),
		Env:       localEnv,
	}

	server := swmcp.NewServer(loaded, r, store, stepLog)

	if httpAddr != "" {
		return serveHTTP(ctx, server, httpAddr)
	}
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

func serveHTTP(ctx context.Context, server *mcpsdk.Server, addr string) error {
	handler := mcpsdk.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcpsdk.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	log.Printf("listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
