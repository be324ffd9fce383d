package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/acme/autocert"

	"github.com/ssd-technologies/screendawg/internal/blob"
	"github.com/ssd-technologies/screendawg/internal/config"
	"github.com/ssd-technologies/screendawg/internal/crypto"
	"github.com/ssd-technologies/screendawg/internal/server"
	"github.com/ssd-technologies/screendawg/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe(args)
	case "passwd":
		err = runPasswd(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want serve or passwd)\n", cmd)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "screendawg:", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("SCREENDAWG_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

func newLogger(format string, debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	var w io.Writer = os.Stderr
	if format != "json" {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath(), "path to config.yaml")
	debug := fs.Bool("debug", false, "log every request")
	logFormat := fs.String("log-format", "console", "log output: console or json")
	fs.Parse(args)

	logger := newLogger(*logFormat, *debug)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if cfg.GeneratedSecret {
		logger.Warn().Msg("session_secret is empty; using a random one, admin sessions end on restart")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, err := openRegistry(cfg)
	if err != nil {
		return err
	}
	defer registry.Close()

	blobs, err := openBlobs(ctx, cfg)
	if err != nil {
		return err
	}

	creds, err := storage.OpenCredentials(cfg.Admin.CredentialsPath)
	if err != nil {
		return err
	}
	if err := seedAdmin(cfg, creds, logger); err != nil {
		return err
	}

	var sessions server.SessionStore
	if cfg.Sessions.Backend == config.SessionsRedis {
		rs := server.NewRedisSessions(cfg.Sessions.Redis)
		if err := rs.Ping(ctx); err != nil {
			return err
		}
		defer rs.Close()
		sessions = rs
	} else {
		sessions = server.NewMemorySessions()
	}

	srv := server.New(server.Options{
		Config:      cfg,
		Registry:    registry,
		Blobs:       blobs,
		Credentials: creds,
		Sessions:    sessions,
		Logger:      &logger,
	})
	srv.StartWorkers(ctx)

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	if len(cfg.TLS.AutocertDomains) > 0 {
		mgr := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			Cache:      autocert.DirCache(cfg.TLS.CacheDir),
			HostPolicy: autocert.HostWhitelist(cfg.TLS.AutocertDomains...),
			Email:      cfg.TLS.Email,
		}
		httpSrv.Addr = ":443"
		httpSrv.TLSConfig = mgr.TLSConfig()

		// Port 80 answers ACME challenges and redirects everything else.
		go func() {
			if err := http.ListenAndServe(":80", mgr.HTTPHandler(nil)); err != nil {
				logger.Error().Err(err).Msg("acme http listener")
			}
		}()
		go func() { errCh <- httpSrv.ListenAndServeTLS("", "") }()
		logger.Info().Strs("domains", cfg.TLS.AutocertDomains).Msg("ScreenDawg running with automatic TLS")
	} else {
		go func() { errCh <- httpSrv.ListenAndServe() }()
		logger.Info().Str("addr", cfg.Listen).Str("base_url", cfg.BaseURL).Msg("ScreenDawg running")
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openRegistry(cfg *config.Config) (storage.Registry, error) {
	if cfg.Registry.Backend == config.RegistrySQLite {
		db, err := storage.NewDB(cfg.Registry.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite registry: %w", err)
		}
		return db, nil
	}
	reg, err := storage.OpenJSONFile(cfg.Registry.Path)
	if err != nil {
		return nil, fmt.Errorf("open json registry: %w", err)
	}
	return reg, nil
}

func openBlobs(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	if cfg.Blob.Backend == config.BlobS3 {
		return blob.NewS3(ctx, cfg.Blob.S3)
	}
	return blob.NewDisk(cfg.Blob.Dir)
}

// seedAdmin writes the configured admin credential on first boot.
func seedAdmin(cfg *config.Config, creds *storage.Credentials, logger zerolog.Logger) error {
	hash := cfg.Admin.PasswordHash
	if hash == "" {
		hash = crypto.EncodePassword(cfg.Admin.Password)
	}
	created, err := creds.EnsureDefault(cfg.Admin.Username, hash)
	if err != nil {
		return fmt.Errorf("seed admin credential: %w", err)
	}
	if created {
		ev := logger.Info()
		if cfg.Admin.PasswordHash == "" && cfg.Admin.Password == config.Default().Admin.Password {
			ev = logger.Warn()
		}
		ev.Str("username", cfg.Admin.Username).Msg("admin credential created; change the password from /admin/password")
	}
	return nil
}

// runPasswd resets an admin password from the command line, for when the
// web login is lost.
func runPasswd(args []string) error {
	fs := flag.NewFlagSet("passwd", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath(), "path to config.yaml")
	user := fs.String("user", "", "admin username")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	username := *user
	if username == "" {
		username = cfg.Admin.Username
	}

	password := os.Getenv("SCREENDAWG_NEW_PASSWORD")
	if password == "" {
		fmt.Fprint(os.Stderr, "new password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if err := crypto.CheckPasswordStrength(password); err != nil {
		return err
	}

	creds, err := storage.OpenCredentials(cfg.Admin.CredentialsPath)
	if err != nil {
		return err
	}
	if err := creds.Put(storage.AdminCredential{
		Username:     username,
		PasswordHash: crypto.EncodePassword(password),
	}); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "password updated for %s\n", username)
	return nil
}
