package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/levenlabs/go-lflag"

	"github.com/upstwin/upstwin/pkg/common"
	"github.com/upstwin/upstwin/pkg/log"
	"github.com/upstwin/upstwin/pkg/session"
	"github.com/upstwin/upstwin/pkg/storage"
	"github.com/upstwin/upstwin/pkg/telemetry"
	"github.com/upstwin/upstwin/pkg/types"
)

const (
	authTokenCookie = "auth_token"
	maxBodyBytes    = 1048576
)

type contextKey string

const (
	emailContextKey contextKey = "email"
)

// tokenVerifier is a function that validates an OIDC ID Token.
type tokenVerifier func(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)

// sessionMap looks up the running session of a topology.
type sessionMap interface {
	Get(topology types.Topology) (session.Handle, error)
}

// Server exposes the running simulations and the scenario library over HTTP.
type Server struct {
	sessions sessionMap
	storage  storage.Database
	metrics  *telemetry.Metrics

	listenAddr string
	httpServer *http.Server

	instructorEmails []string
	oidcVerifiers    map[string]tokenVerifier
	bypassAuth       bool
	serverName       string
}

// Configured registers the HTTP flags and returns a Server for the twin
// sessions in sessions. Scenarios are read from and saved to s; m may be nil.
func Configured(sessions *session.Map, s storage.Database, m *telemetry.Metrics) *Server {
	srv := &Server{
		sessions:   sessions,
		storage:    s,
		metrics:    m,
		serverName: "upstwin",
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	} else {
		srv.serverName += "/" + common.Version()
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	instructorEmails := lflag.String("instructor-emails", "", "comma-delimited list of email addresses allowed to inject faults, reset sessions and edit scenarios")
	oidcAudience := lflag.String("oidc-audience", "", "audience to validate Google ID tokens against (empty disables instructor auth)")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		if *instructorEmails != "" {
			srv.instructorEmails = strings.Split(*instructorEmails, ",")
			for i, email := range srv.instructorEmails {
				srv.instructorEmails[i] = strings.TrimSpace(email)
			}
		}
		if *oidcAudience != "" {
			ctx := oidc.ClientContext(context.Background(), common.HTTPClient(10*time.Second))
			provider, err := oidc.NewProvider(ctx, "https://accounts.google.com")
			if err != nil {
				log.Ctx(context.Background()).Error("failed to initialize Google OIDC provider", slog.Any("error", err))
				os.Exit(1)
			}
			srv.oidcVerifiers = map[string]tokenVerifier{
				"google": provider.Verifier(&oidc.Config{ClientID: *oidcAudience}).Verify,
			}
		} else {
			srv.bypassAuth = true
		}
	})

	return srv
}

func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, s.metrics.WrapHandler(pattern, h))
}

func (s *Server) setupHandler() http.Handler {
	mux := http.NewServeMux()
	s.handle(mux, "GET /api/{topology}/state", s.handleState)
	s.handle(mux, "POST /api/{topology}/breaker", s.handleBreaker)
	s.handle(mux, "POST /api/{topology}/command", s.handleCommand)
	s.handle(mux, "POST /api/{topology}/faults", s.instructorOnly(s.handleFaults))
	s.handle(mux, "POST /api/{topology}/reset", s.instructorOnly(s.handleReset))
	s.handle(mux, "GET /api/scenarios", s.handleListScenarios)
	s.handle(mux, "PUT /api/scenarios", s.instructorOnly(s.handlePutScenario))
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(s.logMiddleware(mux))))
}

// Run serves the twin API until ctx is done, then drains in-flight requests
// for up to 5 seconds.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// ListenAndServe only returns early on a bind or accept failure
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// ctx canceled
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, struct {
		Error string `json:"error"`
	}{Error: msg}, code)
}

// decodeBody decodes a JSON request body into v, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("reqPath", r.URL.Path)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
