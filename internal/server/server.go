package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/iwc-exchange/apiserver/config"
	"github.com/iwc-exchange/apiserver/internal/db"
	"github.com/iwc-exchange/apiserver/internal/handlers"
	"github.com/iwc-exchange/apiserver/internal/mq"
	"github.com/iwc-exchange/apiserver/internal/services"
	"github.com/iwc-exchange/apiserver/internal/storage"
	"github.com/iwc-exchange/apiserver/internal/store"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	broker     *mq.MQ
}

// New constructs a Server with basic middleware and defaults.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	documents, err := newDocumentStore(ctx, cfg)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	broker, err := newBroker(ctx, cfg)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	userRepo := store.NewUserRepository(dbConn)
	kycRepo := store.NewKYCRepository(dbConn)

	userService := services.NewUserService(userRepo)

	var events services.EventPublisher
	if broker != nil {
		events = broker
	}
	kycService := services.NewKYCService(kycRepo, documents, events, cfg.Upload.Dir)

	authMiddleware := handlers.RequireAuth(cfg.Auth)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	handlers.AuthRouter(router, userService, cfg.Auth)
	router.Route("/kyc", func(r chi.Router) {
		handlers.KYCRouter(r, kycService, authMiddleware)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		broker:     broker,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown attempts a graceful shutdown.
func (s *Server) Shutdown() error {
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.broker != nil {
		_ = s.broker.Close()
	}
	return s.httpServer.Close()
}

// newDocumentStore builds the configured document-store backend and
// ensures its bucket (or directory) exists up front.
func newDocumentStore(ctx context.Context, cfg config.Config) (*storage.Storage, error) {
	var backend storage.ObjectStorage

	switch cfg.Storage.Backend {
	case "", "local":
		client, err := storage.NewLocalClient(cfg.Storage.LocalDir)
		if err != nil {
			return nil, err
		}
		backend = client
	case "minio":
		client, err := storage.NewMinioClient(cfg.Minio)
		if err != nil {
			return nil, err
		}
		backend = client
	case "gcs":
		client, err := storage.NewGCSClient(ctx, cfg.GCS)
		if err != nil {
			return nil, err
		}
		backend = client
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	if err := backend.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return storage.NewStorage(backend), nil
}

// newBroker builds the configured event-publish backend. Returns nil
// when no broker is configured; submission events are then skipped.
func newBroker(ctx context.Context, cfg config.Config) (*mq.MQ, error) {
	switch cfg.MQ.Backend {
	case "":
		return nil, nil
	case "rabbitmq":
		client, err := mq.NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return mq.New(client), nil
	case "pubsub":
		client, err := mq.NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		return mq.New(client), nil
	default:
		return nil, fmt.Errorf("unknown mq backend %q", cfg.MQ.Backend)
	}
}
