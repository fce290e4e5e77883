// Command datadam runs the personal data MCP server: two independently
// session-managed endpoint groups over streamable HTTP, backed by a SQLite
// store with optional semantic search.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KennethLeeJE8/datadam-mcp-sub001/auth"
	"github.com/KennethLeeJE8/datadam-mcp-sub001/auth/jwtauth"
	"github.com/KennethLeeJE8/datadam-mcp-sub001/internal/config"
	"github.com/KennethLeeJE8/datadam-mcp-sub001/internal/datatools"
	"github.com/KennethLeeJE8/datadam-mcp-sub001/internal/embeddings"
	"github.com/KennethLeeJE8/datadam-mcp-sub001/internal/engine"
	"github.com/KennethLeeJE8/datadam-mcp-sub001/internal/logctx"
	"github.com/KennethLeeJE8/datadam-mcp-sub001/internal/store"
	"github.com/KennethLeeJE8/datadam-mcp-sub001/internal/webdocs"
	"github.com/KennethLeeJE8/datadam-mcp-sub001/mcp"
	"github.com/KennethLeeJE8/datadam-mcp-sub001/transport"
)

const version = "0.3.0"

const (
	primaryPath    = "/mcp"
	restrictedPath = "/chatgpt_mcp"
)

const primaryInstructions = `datadam stores and retrieves categorized personal data records.
Use search_personal_data for free-text lookup, extract_personal_data for
category browsing, and the create/update/delete tools to maintain records.
The datadam://categories resource lists the categories currently in use.`

const restrictedInstructions = `Search stored records with the search tool, then pass a result id to
fetch to retrieve the full document for citation.`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := newLogger(cfg)
	slog.SetDefault(log)

	var embed embeddings.Provider
	if cfg.OpenAIAPIKey != "" {
		provider, err := embeddings.NewOpenAI(cfg.OpenAIAPIKey)
		if err != nil {
			return fmt.Errorf("configuring embeddings: %w", err)
		}
		embed = provider
		log.Info("semantic search enabled")
	} else {
		log.Info("no embeddings api key, using keyword search")
	}

	st, err := store.NewSQLite(cfg.DatabasePath, embed, log)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	authenticator, err := newAuthenticator(ctx, cfg)
	if err != nil {
		return fmt.Errorf("configuring auth: %w", err)
	}

	serverInfo := mcp.ImplementationInfo{Name: "datadam", Version: version}

	primaryTools := datatools.PrimaryTools(st)
	primaryEngine := engine.New(serverInfo, primaryTools,
		engine.WithLogger(log),
		engine.WithInstructions(primaryInstructions),
		engine.WithResources(datatools.CategoriesResource(st)),
	)

	citationTools := datatools.CitationTools(st, cfg.PublicBaseURL)
	restrictedEngine := engine.New(serverInfo, citationTools,
		engine.WithLogger(log),
		engine.WithInstructions(restrictedInstructions),
	)

	transportOpts := func() []transport.Option {
		opts := []transport.Option{transport.WithLogger(log)}
		if authenticator != nil {
			opts = append(opts, transport.WithAuthenticator(authenticator))
		}
		return opts
	}

	primary := transport.New("primary", primaryEngine, transportOpts()...)
	restricted := transport.New("restricted", restrictedEngine, transportOpts()...)

	docs := webdocs.New(serverInfo, log,
		webdocs.Group{
			Name:      "personal data",
			Path:      primaryPath,
			Tools:     primaryTools,
			Resources: []mcp.Resource{datatools.CategoriesResource(st).Descriptor},
		},
		webdocs.Group{
			Name:  "citation connector",
			Path:  restrictedPath,
			Tools: citationTools,
		},
	)

	mux := http.NewServeMux()
	mux.Handle(primaryPath, primary)
	mux.Handle(restrictedPath, restricted)
	mux.Handle("/", docs)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","version":%q}`, version)
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", slog.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	primary.Shutdown(shutdownCtx)
	restricted.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var base slog.Handler
	if cfg.LogFormat == "text" {
		base = slog.NewTextHandler(os.Stderr, opts)
	} else {
		base = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(logctx.Handler{Handler: base})
}

func newAuthenticator(ctx context.Context, cfg *config.Config) (auth.Authenticator, error) {
	jwtCfg := jwtauth.Config{
		Issuer:            cfg.JWTIssuer,
		ExpectedAudiences: cfg.Audiences(),
	}
	switch {
	case cfg.JWTSecret != "":
		return jwtauth.NewWithSecret(cfg.JWTSecret, jwtCfg)
	case cfg.JWKSURL != "":
		return jwtauth.NewWithJWKS(ctx, cfg.JWKSURL, jwtCfg)
	default:
		return nil, nil
	}
}
