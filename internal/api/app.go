package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-chatsync/internal/chat"
	"github.com/npezzotti/go-chatsync/internal/config"
	"github.com/npezzotti/go-chatsync/internal/database"
	"github.com/npezzotti/go-chatsync/internal/server"
	"github.com/rs/zerolog"
)

// Pinger is an optional dependency reported by the health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

type ChatSyncApp struct {
	log            zerolog.Logger
	svc            *chat.Service
	cs             *server.ChatServer
	db             database.Repository
	creds          database.CredentialStore
	cache          Pinger
	srv            *http.Server
	signingKey     []byte
	tokenTTL       time.Duration
	allowedOrigins []string
}

func NewChatSyncApp(mux *http.ServeMux, logger zerolog.Logger, svc *chat.Service, cs *server.ChatServer,
	db database.Repository, creds database.CredentialStore, cfg *config.Config) *ChatSyncApp {
	s := &ChatSyncApp{
		log:            logger.With().Str("component", "http").Logger(),
		svc:            svc,
		cs:             cs,
		db:             db,
		creds:          creds,
		signingKey:     cfg.SigningKey,
		tokenTTL:       cfg.Auth.TokenTTL,
		allowedOrigins: cfg.Cors.AllowedOrigins,
	}
	if s.tokenTTL <= 0 {
		s.tokenTTL = defaultJwtExpiration
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)

	mux.HandleFunc("POST /api/users", s.createAccount)
	mux.HandleFunc("GET /api/users/{username}", s.authMiddleware(s.getUser))
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.HandleFunc("/api/account", s.authMiddleware(s.account))
	mux.HandleFunc("PUT /api/presence", s.authMiddleware(s.setPresence))

	mux.HandleFunc("GET /api/conversations", s.authMiddleware(s.listConversations))
	mux.HandleFunc("POST /api/conversations", s.authMiddleware(s.createConversation))
	mux.HandleFunc("GET /api/conversations/{id}", s.authMiddleware(s.getConversation))
	mux.HandleFunc("PATCH /api/conversations/{id}", s.authMiddleware(s.renameConversation))
	mux.HandleFunc("POST /api/conversations/{id}/members", s.authMiddleware(s.addMember))
	mux.HandleFunc("PUT /api/conversations/{id}/membership", s.authMiddleware(s.setMembership))
	mux.HandleFunc("POST /api/conversations/{id}/leave", s.authMiddleware(s.leaveConversation))
	mux.HandleFunc("GET /api/conversations/{id}/messages", s.authMiddleware(s.listMessages))
	mux.HandleFunc("POST /api/conversations/{id}/messages", s.authMiddleware(s.postMessage))
	mux.HandleFunc("POST /api/conversations/{id}/read", s.authMiddleware(s.markRead))
	mux.HandleFunc("GET /api/photos/{id}", s.authMiddleware(s.getPhoto))

	mux.HandleFunc("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.Cors.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: h,
	}

	return s
}

// WithCache adds p to the health check.
func (s *ChatSyncApp) WithCache(p Pinger) *ChatSyncApp {
	s.cache = p
	return s
}

func (s *ChatSyncApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *ChatSyncApp) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("starting server")
	return s.srv.ListenAndServe()
}

func (s *ChatSyncApp) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}

func (s *ChatSyncApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Error().Err(err).Msg("database health check failed")
		s.writeError(w, NewInternalServerError(err))
		return
	}

	if s.cache != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.cache.Ping(ctx); err != nil {
			s.log.Error().Err(err).Msg("cache health check failed")
			s.writeError(w, NewServiceUnavailableError(err))
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
