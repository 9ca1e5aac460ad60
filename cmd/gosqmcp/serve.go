package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	sqmcp "github.com/rickchristie/sqlite-mcp"
	"github.com/rickchristie/sqlite-mcp/internal/meta"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

func runServe() error {
	serverConfig, logger, sqMcp, err := buildEngine(os.Args[2:], false)
	if err != nil {
		return err
	}

	if serverConfig.Server.Port <= 0 {
		panic("gosqmcp: server.port must be > 0")
	}

	mcpServer := newMCPServer(logger)
	sqmcp.RegisterMCPTools(mcpServer, sqMcp)

	// Start HTTP server with optional health check
	addr := fmt.Sprintf(":%d", serverConfig.Server.Port)
	mux := http.NewServeMux()

	// Health check endpoint (process liveness only, not database access)
	if serverConfig.Server.HealthCheckEnabled {
		if serverConfig.Server.HealthCheckPath == "" {
			panic("gosqmcp: health_check_path must be set when health_check_enabled is true")
		}
		mux.HandleFunc(serverConfig.Server.HealthCheckPath, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})
	}

	httpSrv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	// Create StreamableHTTPServer with custom http.Server
	streamableServer := server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp"),
		server.WithStateLess(true),
		server.WithStreamableHTTPServer(httpSrv),
	)

	// Manually register the MCP handler — Start() does NOT register
	// when a custom *http.Server is provided via WithStreamableHTTPServer.
	mux.Handle("/mcp", streamableServer)

	if isTTY(os.Stderr.Fd()) {
		printBanner(os.Stderr, true)
	}
	logger.Info().Int("port", serverConfig.Server.Port).Msg("starting gosqmcp server")
	return streamableServer.Start(addr)
}

// runStdio serves MCP over stdin/stdout for agents that spawn the server
// as a subprocess. Logs are forced to stderr: stdout carries the protocol.
func runStdio() error {
	_, logger, sqMcp, err := buildEngine(os.Args[2:], true)
	if err != nil {
		return err
	}

	mcpServer := newMCPServer(logger)
	sqmcp.RegisterMCPTools(mcpServer, sqMcp)

	logger.Info().Msg("serving gosqmcp over stdio")
	return server.ServeStdio(mcpServer)
}

// buildEngine loads config, merges -p path flags, sets up logging, and
// constructs the engine shared by the serve and stdio commands.
func buildEngine(args []string, stderrOnly bool) (*sqmcp.ServerConfig, zerolog.Logger, *sqmcp.SqliteMcp, error) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	var extraPaths pathList
	fs.Var(&extraPaths, "p", "Additional allowed database file or directory (repeatable)")
	fs.Parse(args)

	serverConfig, err := loadServerConfig(*configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("failed to load config: %w", err)
	}

	serverConfig.AllowedPaths = append(serverConfig.AllowedPaths, extraPaths...)
	if len(serverConfig.AllowedPaths) == 0 {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("no allowed paths configured: set allowed_paths in the config file or pass -p")
	}

	logging := serverConfig.Logging
	if stderrOnly && logging.Output == "stdout" {
		logging.Output = "stderr"
	}
	logger := setupLogger(logging)

	var opts []sqmcp.Option
	if len(serverConfig.ServerHooks.BeforeQuery) > 0 || len(serverConfig.ServerHooks.AfterQuery) > 0 {
		opts = append(opts, sqmcp.WithServerHooks(serverConfig.ServerHooks))
	}
	sqMcp, err := sqmcp.New(serverConfig.Config, logger, opts...)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("failed to create SqliteMcp: %w", err)
	}

	return serverConfig, logger, sqMcp, nil
}

// newMCPServer creates the MCP server with initialize lifecycle logging.
func newMCPServer(logger zerolog.Logger) *server.MCPServer {
	hooks := &server.Hooks{}
	hooks.AddAfterInitialize(func(ctx context.Context, id any, req *mcp.InitializeRequest, result *mcp.InitializeResult) {
		clientName := req.Params.ClientInfo.Name
		clientVersion := req.Params.ClientInfo.Version
		logger.Info().
			Str("client_name", clientName).
			Str("client_version", clientVersion).
			Msg("AI agent connected (MCP initialize)")
	})

	return server.NewMCPServer("gosqmcp", meta.Version,
		server.WithToolCapabilities(true),
		server.WithHooks(hooks),
	)
}

func loadServerConfig(configPath string) (*sqmcp.ServerConfig, error) {
	if configPath == "" {
		configPath = os.Getenv("GOSQMCP_CONFIG_PATH")
	}
	if configPath == "" {
		configPath = ".gosqmcp/config.json"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) && os.Getenv("GOSQMCP_CONFIG_PATH") == "" {
			// No config file is fine for stdio usage with -p flags only.
			return &sqmcp.ServerConfig{
				Config: sqmcp.Config{
					Query: sqmcp.QueryConfig{
						MaxConcurrent:               8,
						DefaultTimeoutSeconds:       30,
						ListTablesTimeoutSeconds:    10,
						DescribeTableTimeoutSeconds: 10,
					},
				},
				Server: sqmcp.ServerSettings{Port: 8080},
			}, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var config sqmcp.ServerConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

func setupLogger(config sqmcp.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch strings.ToLower(config.Level) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	var output io.Writer = os.Stderr
	if config.Output == "stdout" {
		output = os.Stdout
	} else if config.Output != "" && config.Output != "stderr" {
		f, err := os.OpenFile(config.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err == nil {
			output = f
		}
	}

	if config.Format == "text" {
		output = zerolog.ConsoleWriter{Out: output}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

// pathList implements flag.Value for repeatable -p flags.
type pathList []string

func (p *pathList) String() string {
	return strings.Join(*p, ",")
}

func (p *pathList) Set(value string) error {
	*p = append(*p, value)
	return nil
}
