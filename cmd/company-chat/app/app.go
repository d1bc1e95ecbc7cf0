// Package app provides the company chat application.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kart-io/company-chat/cmd/company-chat/app/options"
	chat "github.com/kart-io/company-chat/internal/chat"
	"github.com/kart-io/company-chat/internal/chat/tui"
	"github.com/kart-io/company-chat/pkg/infra/app"
)

const (
	// commandDesc is the description of the command.
	commandDesc = `Company Information Assistant

A chatbot that answers questions about companies.

This server provides:
  - Company questions answered from live web search (Tavily, Serper, Brave)
  - Business documents (PDF, images) read with text extraction and OCR
  - Greetings and small talk handled locally
  - A shared sliding-window rate limit on paid calls`
)

// NewApp creates and returns a new App object with default parameters.
func NewApp() *app.App {
	opts := options.NewServerOptions()

	var application *app.App
	chatCmd := &cobra.Command{
		Use:          "chat",
		Short:        "Start an interactive chat in the terminal",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := application.Prepare(cmd); err != nil {
				return err
			}
			return runChat(opts)
		},
	}

	application = app.NewApp(
		app.WithName(chat.Name),
		app.WithShortDescription("Company information chatbot"),
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithRunFunc(run(opts)),
		app.WithCommand(chatCmd),
	)
	return application
}

// run contains the main logic for initializing and running the server.
func run(opts *options.ServerOptions) app.RunFunc {
	return func() error {
		// Load the configuration options
		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		ctx := setupSignalContext()

		// Build the server using the configuration
		server, err := cfg.NewServer(ctx)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		// Run the server with signal context for graceful shutdown
		return server.Run(ctx)
	}
}

// runChat starts the terminal UI on an in-process service.
func runChat(opts *options.ServerOptions) error {
	cfg, err := opts.Config()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 终端界面占用 stdout，日志改写到文件
	if writesToTerminal(cfg.LogOptions.OutputPaths) {
		cfg.LogOptions.OutputPaths = []string{filepath.Join(os.TempDir(), chat.Name+".log")}
	}
	if err := cfg.InitLogger(); err != nil {
		return err
	}

	svc, err := cfg.NewService(context.Background())
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer svc.Close()

	return tui.Run(svc.Orchestrator)
}

func writesToTerminal(paths []string) bool {
	if len(paths) == 0 {
		return true
	}
	for _, p := range paths {
		if p == "stdout" || p == "stderr" {
			return true
		}
	}
	return false
}

// setupSignalContext returns a context that is cancelled on SIGINT or SIGTERM.
func setupSignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
		<-c
		os.Exit(1)
	}()
	return ctx
}
