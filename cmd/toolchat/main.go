package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"toolchat/internal/app"
	"toolchat/internal/brave"
	"toolchat/internal/cache"
	"toolchat/internal/cli"
	"toolchat/internal/config"
	"toolchat/internal/google"
	"toolchat/internal/llm"
	"toolchat/internal/logger"
	"toolchat/internal/models"
	"toolchat/internal/permission"
	"toolchat/internal/prompt"
	"toolchat/internal/server"
	"toolchat/internal/session"
	"toolchat/internal/settings"
	"toolchat/internal/storage"
	"toolchat/internal/tool"
)

func main() {
	var (
		configPath string
		message    string
		httpMode   bool
		httpAddr   string
	)
	flag.StringVar(&configPath, "config", "toolchat.yaml", "yaml config path")
	flag.StringVar(&message, "message", "", "send one message and exit")
	flag.BoolVar(&httpMode, "http", false, "run HTTP server mode")
	flag.StringVar(&httpAddr, "http-addr", "", "http listen address")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal(err)
	}
	if strings.TrimSpace(httpAddr) != "" {
		cfg.HTTPAddr = strings.TrimSpace(httpAddr)
	}

	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = zl.Sync() }()

	store, err := storage.NewBoltStore(cfg.StoragePath)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	conn := newConnector(cfg, zl)
	services := tool.NewServiceSet(tool.Services{})

	reg, err := tool.NewServiceRegistry(services)
	if err != nil {
		log.Fatal(err)
	}
	// The shell is created after the session, so approvals resolve it lazily.
	var shell *cli.Shell
	approver := permission.ApproverFunc(func(ctx context.Context, toolName string, args json.RawMessage) (bool, error) {
		if shell == nil {
			return false, nil
		}
		return shell.Approve(ctx, toolName, args)
	})
	gate := permission.NewGate(permission.NewEngine(permission.DecisionAsk, cfg.Permissions), approver, zl.Named("permission"))
	if err := reg.RegisterHook(gate); err != nil {
		log.Fatal(err)
	}
	resultCache := cache.New(store, cfg.CacheTTL, zl.Named("cache"))
	if n, err := resultCache.Prune(ctx); err == nil && n > 0 {
		zl.Info("expired cache entries pruned", zap.Int("count", n))
	}
	executor := tool.NewExecutor(reg, resultCache, cfg.ToolParallelism, zl.Named("tool"))

	catalog := models.NewCatalog(nil)
	settingsStore, err := settings.Open(cfg.SettingsFile, catalog, zl.Named("settings"))
	if err != nil {
		log.Fatal(err)
	}
	provider := llm.NewAnthropicProvider(
		cfg.Anthropic.BaseURL,
		cfg.Anthropic.APIKey,
		cfg.Anthropic.Version,
		cfg.Anthropic.Timeout,
		zl.Named("llm"),
	)
	if !provider.HasAPIKey() {
		fmt.Fprintln(os.Stderr, "warning: ANTHROPIC_API_KEY is not set; chat requests will fail")
	}

	chat, err := app.New(app.Options{
		Settings:  settingsStore,
		Catalog:   catalog,
		Executor:  executor,
		Provider:  provider,
		Prompt:    prompt.NewBuilder(cfg.SystemPromptFile),
		Snapshots: session.NewSnapshots(cfg.ConversationsDir, zl.Named("snapshots")),
		History:   session.NewHistory(store),
		Services:  services,
		Connect:   conn.connect,
		Logger:    zl.Named("app"),
	})
	if err != nil {
		log.Fatal(err)
	}
	if _, err := chat.Reconnect(ctx); err != nil {
		log.Fatal(err)
	}

	if httpMode {
		srv := server.New(chat, zl.Named("http"))
		httpSrv := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		log.Printf("toolchat HTTP server listening on %s", cfg.HTTPAddr)
		log.Fatal(httpSrv.ListenAndServe())
		return
	}

	shell = cli.New(chat, os.Stdin, os.Stdout, cli.Options{
		Setup:     conn.setup(),
		ResetAuth: conn.resetAuth(),
		Logger:    zl.Named("cli"),
	})
	if strings.TrimSpace(message) != "" {
		shell.Execute(ctx, "chat "+message)
		return
	}
	if err := shell.Run(ctx); err != nil {
		log.Fatal(err)
	}
}

// connector builds the capability collaborators that are configured. It is
// called at startup and again whenever the shell reauthorizes or refreshes.
type connector struct {
	cfg    config.Config
	log    *zap.Logger
	idp    *google.IdentityProvider
	tokens *google.TokenStore
}

func newConnector(cfg config.Config, zl *zap.Logger) *connector {
	c := &connector{cfg: cfg, log: zl}
	if strings.TrimSpace(cfg.Google.CredentialsFile) == "" {
		return c
	}
	oauthCfg, err := google.LoadOAuthConfig(cfg.Google.CredentialsFile, google.Scopes)
	if err != nil {
		zl.Warn("google services disabled", zap.Error(err))
		return c
	}
	c.tokens = google.NewTokenStore(cfg.Google.TokenFile)
	c.idp = google.NewIdentityProvider(oauthCfg, c.tokens, zl.Named("google"))
	return c
}

// connect leaves unconfigured services nil so their capabilities report
// "not initialized".
func (c *connector) connect(ctx context.Context) (tool.Services, map[string]bool) {
	var svc tool.Services
	collaborators := map[string]bool{"Brave Search": false, "Gmail": false, "Google Drive": false}

	web := brave.NewClient(c.cfg.Brave.BaseURL, c.cfg.Brave.APIKey, c.cfg.Brave.Timeout, c.log.Named("brave"))
	if web.Available() {
		svc.Web = web
		collaborators["Brave Search"] = true
	}
	if c.idp == nil {
		return svc, collaborators
	}
	client, err := c.idp.HTTPClient(ctx)
	if err != nil {
		c.log.Info("google services not authorized", zap.Error(err))
		return svc, collaborators
	}
	client.Timeout = c.cfg.Google.Timeout
	svc.Mail = google.NewGmail(client, c.cfg.Google.BaseURL, c.log.Named("gmail"))
	svc.Files = google.NewDrive(client, c.cfg.Google.BaseURL, c.log.Named("drive"))
	collaborators["Gmail"] = true
	collaborators["Google Drive"] = true
	return svc, collaborators
}

func (c *connector) setup() cli.Setup {
	if c.idp == nil {
		return nil
	}
	return func(ctx context.Context, in io.Reader, out io.Writer) error {
		_, err := c.idp.Authenticate(ctx, in, out)
		return err
	}
}

func (c *connector) resetAuth() func() error {
	if c.tokens == nil {
		return nil
	}
	return func() error {
		if err := c.tokens.Delete(); err != nil {
			return fmt.Errorf("remove google token: %w", err)
		}
		c.log.Info("google token removed")
		return nil
	}
}
