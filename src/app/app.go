package app

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/flowscope/flowscope/src/chatclient"
	"github.com/flowscope/flowscope/src/config"
	"github.com/flowscope/flowscope/src/diagnostics"
	"github.com/flowscope/flowscope/src/session"
	"github.com/flowscope/flowscope/src/storage"
	"github.com/flowscope/flowscope/src/transport"
)

// App wires the conversation client and the diagnostics engine over shared
// storage and transport.
type App struct {
	Client      *chatclient.Client
	Diagnostics *diagnostics.Engine
	Sessions    *session.Manager
	Store       *storage.DB
	Logger      *slog.Logger
	Config      *config.Config
}

// New creates an App from a loaded configuration.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	dbPath := cfg.Storage.DatabasePath
	if dbPath == "" {
		dbPath = config.GetDefaultStoragePaths().DatabasePath
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	store, err := storage.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	httpTransport := transport.New(logger)

	var engine *diagnostics.Engine
	if cfg.Diagnostics.Enabled {
		diagCfg := diagnostics.DefaultConfig()
		diagCfg.MaxNodeExecutions = cfg.Diagnostics.MaxNodeExecutions
		diagCfg.MaxSessionDuration = cfg.Diagnostics.MaxSessionDuration
		diagCfg.MaxEventInterval = cfg.Diagnostics.MaxEventInterval
		diagCfg.DetectMemoryLeaks = cfg.Diagnostics.DetectMemoryLeaks
		diagCfg.MemoryGrowthThreshold = cfg.Diagnostics.MemoryGrowthThreshold
		diagCfg.IssueHistorySize = cfg.Diagnostics.IssueHistorySize
		diagCfg.ComparisonHistorySize = cfg.Diagnostics.ComparisonHistorySize

		opts := []diagnostics.EngineOption{
			diagnostics.WithStore(diagnostics.NewSQLStore(store)),
		}
		if cfg.Diagnostics.DetectMemoryLeaks {
			if sampler, err := diagnostics.NewProcessSampler(); err == nil {
				opts = append(opts, diagnostics.WithMemorySampler(sampler))
			} else {
				logger.Warn("memory sampling unavailable", "error", err)
			}
		}
		engine = diagnostics.NewEngine(diagCfg, logger, opts...)
	}

	apiKey := cfg.APIKey()
	prober := chatclient.NewHistoryProber(httpTransport, cfg.API.BaseURL, apiKey, cfg.API.User, logger)

	sessionOpts := []session.Option{}
	if cfg.Client.ExpiryWindow > 0 {
		sessionOpts = append(sessionOpts, session.WithExpiryWindow(cfg.Client.ExpiryWindow))
	}
	sessions := session.NewManager(session.NewSQLStore(store), prober, logger, sessionOpts...)

	msgPolicy := policy(cfg.Client.Message, transport.MessagePolicy())
	wfPolicy := policy(cfg.Client.Workflow, transport.WorkflowPolicy())

	var diag chatclient.Diagnostics
	if engine != nil {
		diag = engine
	}
	client := chatclient.New(chatclient.Config{
		BaseURL:        cfg.API.BaseURL,
		APIKey:         apiKey,
		User:           cfg.API.User,
		MessagePolicy:  &msgPolicy,
		WorkflowPolicy: &wfPolicy,
	}, httpTransport, sessions, diag, logger)

	return &App{
		Client:      client,
		Diagnostics: engine,
		Sessions:    sessions,
		Store:       store,
		Logger:      logger,
		Config:      cfg,
	}, nil
}

// Close closes all resources held by the app
func (a *App) Close() error {
	if a.Store != nil {
		return a.Store.Close()
	}
	return nil
}

func policy(rc config.RetryConfig, fallback transport.Policy) transport.Policy {
	p := fallback
	if rc.Timeout > 0 {
		p.Timeout = rc.Timeout
	}
	if rc.MaxRetries > 0 {
		p.MaxRetries = rc.MaxRetries
	}
	if rc.RetryDelay > 0 {
		p.RetryDelay = rc.RetryDelay
	}
	return p
}
