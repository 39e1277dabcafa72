// Command vibetunnel runs the VibeTunnel server: it wires the Session
// Store, PTY hosts, VT emulators, Buffer Aggregator, Activity Monitor,
// Session Manager, Authenticator, optional HQ/Remote Federation, and the
// HTTP/WS Surface, then listens until terminated.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"vibetunnel/internal/activity"
	"vibetunnel/internal/auth"
	"vibetunnel/internal/buffer"
	"vibetunnel/internal/config"
	"vibetunnel/internal/federation"
	"vibetunnel/internal/httpapi"
	"vibetunnel/internal/manager"
	"vibetunnel/internal/session"
	"vibetunnel/internal/sessionlog"
	"vibetunnel/internal/stream"
	"vibetunnel/internal/userutil"
)

const recentLogCapacity = 50

func main() {
	logRing := sessionlog.NewRing(recentLogCapacity)
	logLevel := new(slog.LevelVar) // Info by default; raised below if cfg.Debug
	slog.SetDefault(slog.New(sessionlog.NewTeeHandler(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}),
		slog.LevelWarn, logRing.Callback(),
	)))

	configPath := flag.String("config", config.DefaultPath(), "config file path")
	flag.Parse()

	cfg, err := config.Load(*configPath, os.Args[1:])
	if err != nil {
		slog.Error("[vibetunnel] config load failed", "error", err)
		os.Exit(1)
	}
	if cfg.Debug {
		logLevel.Set(slog.LevelDebug)
	}

	if cfg.Password != "" && cfg.PasswordHash == "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
		if err != nil {
			slog.Error("[vibetunnel] hash password failed", "error", err)
			os.Exit(1)
		}
		cfg.PasswordHash = string(hash)
	}

	store, err := session.NewStore(cfg.ControlDir)
	if err != nil {
		slog.Error("[vibetunnel] session store init failed", "error", err)
		os.Exit(1)
	}

	jwtSecret, err := cfg.JWTSecret()
	if err != nil {
		slog.Error("[vibetunnel] invalid jwt secret in config", "error", err)
		os.Exit(1)
	}

	authn := auth.New(auth.Config{
		NoAuth:               cfg.NoAuth,
		Username:             cfg.Username,
		PasswordHash:         cfg.PasswordHash,
		AllowLocalBypass:     cfg.AllowLocalBypass,
		LocalAuthToken:       cfg.LocalAuthToken,
		DisallowUserPassword: cfg.DisallowUserPassword,
		JWTSecret:            jwtSecret,
	})

	agg := buffer.New()
	mgr := manager.New(store, agg)
	mon := activity.New(store)

	mgr.Start()
	mon.Start()
	defer mon.Stop()
	defer mgr.Stop()

	httpCfg := httpapi.Config{
		Bind:    cfg.Bind,
		Port:    cfg.Port,
		Authn:   authn,
		Manager: mgr,
		Watcher: stream.New(),
		Agg:     agg,
		Logs:    logRing,
	}

	var healthChecker *federation.HealthChecker
	var remoteClient *federation.RemoteClient

	if cfg.HQ {
		registry := federation.NewRegistry()
		healthChecker = federation.NewHealthChecker(registry)
		healthChecker.Start()
		defer healthChecker.Stop()

		httpCfg.HQMode = true
		httpCfg.Registry = registry
		httpCfg.Proxy = federation.NewProxy(registry)
		httpCfg.WSProxy = federation.NewWSProxy(registry)
	}

	srv := httpapi.New(httpCfg)

	if cfg.HQURL != "" {
		// cfg.HQName becomes both this remote's registry id and its
		// display name on the HQ; sanitize it since operators set it
		// freely and it must stay safe as a map key/path component.
		remoteName := userutil.SanitizeUsername(cfg.HQName)
		remoteClient = federation.NewRemoteClient(cfg.HQURL, remoteName, remoteName, cfg.HQToken)
		go func() {
			if err := remoteClient.Register(context.Background(), selfBaseURL(cfg)); err != nil {
				slog.Error("[vibetunnel] HQ registration gave up", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		slog.Error("[vibetunnel] server exited", "error", err)
	case <-sig:
		slog.Info("[vibetunnel] shutdown signal received")
	}

	if remoteClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := remoteClient.Unregister(ctx); err != nil {
			slog.Warn("[vibetunnel] HQ unregister failed", "error", err)
		}
		cancel()
	}
}

func selfBaseURL(cfg config.Config) string {
	host := cfg.Bind
	if host == "0.0.0.0" || host == "" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%s", host, strconv.Itoa(cfg.Port))
}
