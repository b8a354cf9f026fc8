package daemon

import (
	"context"
	"errors"
	"net/http"
	"syscall"
	"time"

	"github.com/samber/oops"

	"github.com/keyward/keyward/internal/async"
	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/constants"
	"github.com/keyward/keyward/internal/controllers"
	"github.com/keyward/keyward/internal/db"
	"github.com/keyward/keyward/internal/log"
	"github.com/keyward/keyward/internal/manager"
	"github.com/keyward/keyward/internal/metrics"
	"github.com/keyward/keyward/internal/middleware"
	"github.com/keyward/keyward/internal/repo/sql"
)

const (
	ReadHeaderTimeout = 5 * time.Second
	ReadTimeout       = 10 * time.Second
	IdleTimeout       = 120 * time.Second
	ServerLogDomain   = "server daemon"

	// WriteTimeout covers the multipart variants, which stream per-part
	// results for uploads close to the input size limit.
	WriteTimeout = 60 * time.Second
)

// Server is the crypto API daemon.
type Server struct {
	cfg    *config.Config
	server *http.Server
	async  *async.App
}

func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	dbCon, err := db.StartDBConnection(ctx, cfg.Database, cfg.DatabaseReplicas)
	if err != nil {
		return nil, oops.In(ServerLogDomain).Wrapf(err, "starting db")
	}

	asyncApp, err := async.New(cfg)
	if err != nil {
		return nil, oops.In(ServerLogDomain).Wrapf(err, "creating task queue client")
	}

	r := sql.NewRepository(dbCon)
	vaults := manager.NewVaultProvider(cfg.Vault, r)

	controller := controllers.New(
		manager.NewCryptoManager(r, vaults, asyncApp),
		manager.NewHashManager(),
		manager.NewRandomManager(cfg.Random),
	)

	resolver := auth.NewResolver(r)

	return &Server{
		cfg:    cfg,
		server: createHTTPServer(cfg, controller, resolver, asyncApp),
		async:  asyncApp,
	}, nil
}

func (s *Server) Start(ctx context.Context) error {
	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "server encountered an error", err)

			_ = syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
		}
	}()

	return nil
}

func (s *Server) Close(ctx context.Context) error {
	shutdownCtx, shutdownRelease := context.WithTimeout(ctx, s.cfg.HTTP.ShutdownTimeout)
	defer shutdownRelease()

	err := s.server.Shutdown(shutdownCtx)
	if err != nil {
		return oops.In(ServerLogDomain).Wrapf(err, "shutting down http server")
	}

	err = s.async.Shutdown(ctx)
	if err != nil {
		return oops.In(ServerLogDomain).Wrapf(err, "shutting down task queue client")
	}

	log.Info(ctx, "Completed graceful shutdown of HTTP server")

	return nil
}

// NewHandler assembles the crypto route table behind the middleware chain.
// Health and metrics stay outside the chain and need no credentials.
func NewHandler(
	controller *controllers.Controller,
	resolver *auth.Resolver,
	enqueuer manager.TaskEnqueuer,
) http.Handler {
	mux := http.NewServeMux()

	registerRoutes(mux, controller)

	// Middlewares run FILO: the last one wraps outermost and runs first,
	// so every request gets an id before anything is logged and the auth
	// check happens last, closest to the handler.
	var handler http.Handler = mux
	for _, mw := range []func(http.Handler) http.Handler{
		middleware.AuthMiddleware(resolver, enqueuer),
		middleware.LoggingMiddleware(),
		middleware.PanicRecoveryMiddleware(),
		middleware.InjectRequestID(),
	} {
		handler = mw(handler)
	}

	root := http.NewServeMux()
	root.Handle(constants.APIVersionedNamespace+"/", handler)
	root.HandleFunc("GET /healthz", healthz)
	root.Handle("GET /metrics", metrics.Handler())

	return root
}

func createHTTPServer(
	cfg *config.Config,
	controller *controllers.Controller,
	resolver *auth.Resolver,
	enqueuer manager.TaskEnqueuer,
) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           NewHandler(controller, resolver, enqueuer),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}
}

func registerRoutes(mux *http.ServeMux, controller *controllers.Controller) {
	ns := constants.APIVersionedNamespace

	mux.HandleFunc("POST "+ns+"/encrypt", controller.Encrypt)
	mux.HandleFunc("POST "+ns+"/encrypt/{keyringName}/{algorithm}/{bitStrength}", controller.EncryptMultipart)
	mux.HandleFunc("POST "+ns+"/decrypt", controller.Decrypt)
	mux.HandleFunc("POST "+ns+"/rewrap", controller.Rewrap)
	mux.HandleFunc("POST "+ns+"/hash", controller.Hash)
	mux.HandleFunc("POST "+ns+"/hash/{algorithm}", controller.HashMultipart)
	mux.HandleFunc("POST "+ns+"/hmac", controller.HMAC)
	mux.HandleFunc("POST "+ns+"/random", controller.Random)
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
