package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"statenerd-mcp-server/internal/browser"
	"statenerd-mcp-server/internal/config"
	"statenerd-mcp-server/internal/mangle"
	mcpserver "statenerd-mcp-server/internal/mcp"
	"statenerd-mcp-server/internal/recorder"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Explicit config file, overlaid on the workspace config")
	workspaceDir := flag.String("workspace", "", "Workspace root containing .statenerd/ (default: walk up from cwd)")
	noWorkspace := flag.Bool("no-workspace", false, "Skip workspace discovery")
	initWS := flag.Bool("init", false, "Create a .statenerd/ workspace and exit")
	ssePort := flag.Int("sse", 0, "Serve MCP over SSE on this port instead of stdio")
	logFile := flag.String("log-file", "", "Log file override")
	flag.Parse()

	if *initWS {
		root := *workspaceDir
		if root == "" {
			cwd, err := os.Getwd()
			if err != nil {
				fmt.Fprintf(os.Stderr, "resolve cwd: %v\n", err)
				os.Exit(1)
			}
			root = cwd
		}
		if err := config.InitWorkspace(root); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("initialized %s\n", filepath.Join(root, config.WorkspaceDirName))
		return
	}

	cfg, wsDir, err := config.LoadWithWorkspace(*configPath, config.WorkspaceOptions{
		Disable:     *noWorkspace,
		ExplicitDir: *workspaceDir,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *ssePort != 0 {
		cfg.MCP.SSEPort = *ssePort
	}
	if *logFile != "" {
		cfg.Server.LogFile = *logFile
	}

	log, err := buildLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if wsDir != "" {
		log.Info("workspace config loaded", zap.String("dir", wsDir))
	}

	engine, err := mangle.NewEngine(cfg.Mangle, log.Named("mangle"))
	if err != nil {
		log.Fatal("mangle engine init failed", zap.Error(err))
	}

	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		rec, err = recorder.New(cfg.Recorder.Dir)
		if err != nil {
			log.Fatal("recorder init failed", zap.Error(err))
		}
		defer func() { _ = rec.Close() }()
	}

	sessions := browser.NewSessionManager(cfg, engine, log.Named("browser"))
	if cfg.Browser.AutoStart {
		if err := sessions.Start(ctx); err != nil {
			log.Fatal("browser start failed", zap.Error(err))
		}
	} else {
		log.Info("browser auto-start disabled; use browser_launch to connect")
	}
	defer func() { _ = sessions.Shutdown(context.Background()) }()

	server, err := mcpserver.NewServer(cfg, sessions, engine, rec, log.Named("mcp"))
	if err != nil {
		log.Fatal("mcp server init failed", zap.Error(err))
	}

	var runErr error
	if cfg.MCP.SSEPort > 0 {
		log.Info("serving MCP over SSE", zap.Int("port", cfg.MCP.SSEPort))
		runErr = server.StartSSE(ctx, cfg.MCP.SSEPort)
	} else {
		log.Info("serving MCP over stdio")
		runErr = server.Start(ctx)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Fatal("server exited", zap.Error(runErr))
	}
}

// buildLogger routes logs away from the stdio transport: in stdio mode
// stdout carries the protocol, so logs go to the configured file or are
// dropped entirely.
func buildLogger(cfg config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.MCP.SSEPort == 0 {
		if cfg.Server.LogFile == "" {
			return zap.NewNop(), nil
		}
		zcfg.OutputPaths = []string{cfg.Server.LogFile}
		zcfg.ErrorOutputPaths = []string{cfg.Server.LogFile}
	}
	return zcfg.Build()
}
