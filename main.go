package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"realtime-editor/collab"
	"realtime-editor/config"
	"realtime-editor/handlers/api/rooms"
	"realtime-editor/handlers/auth"
	"realtime-editor/handlers/websocket"
	authMiddleware "realtime-editor/middleware"
	"realtime-editor/presence"
	"realtime-editor/sessions"
	"realtime-editor/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

type app struct {
	cfg      *config.Config
	guard    *sessions.Guard
	tokens   *sessions.Tokens
	auth     *auth.Handler
	registry *presence.Registry
}

func setupRouter(a *app) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "X-CSRF-Token", "Origin", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", a.auth.HandleLogin)
		r.Get("/google", a.auth.HandleLogin)
		r.Get("/callback", a.auth.HandleCallback)
		r.Get("/google/callback", a.auth.HandleCallback)
		r.Get("/failure", a.auth.HandleFailure)
	})

	r.With(authMiddleware.AuthJWT(a.tokens, a.guard)).Get("/login/success", a.auth.HandleLoginSuccess)
	r.Get("/logout", a.auth.HandleLogout)
	r.Post("/logout", a.auth.HandleLogout)

	r.Route("/api/rooms", func(r chi.Router) {
		r.Use(authMiddleware.AuthJWT(a.tokens, a.guard))
		r.Get("/", rooms.HandleListRooms(a.registry))
		r.Get("/{roomId}/members", rooms.HandleListMembers(a.registry))
	})
	r.With(authMiddleware.AuthJWT(a.tokens, a.guard)).Get("/api/online", rooms.HandleOnline(a.registry, a.guard))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})

	return r
}

func setupSocketIO(a *app) (*socketio.Server, *collab.Hub) {
	scope, err := collab.ParseTypingScope(a.cfg.TypingScope)
	if err != nil {
		logrus.WithError(err).Warn("Falling back to room scoped typing signals")
		scope = collab.TypingScopeRoom
	}

	var socketAuth websocket.Authenticator
	if a.cfg.RequireSocketAuth {
		socketAuth = websocket.NewAuthenticator(a.tokens, a.guard)
	} else {
		logrus.Warn("Socket authentication is disabled")
	}

	return websocket.SetupSocketIO(a.cfg, func(e collab.Emitter) *collab.Hub {
		return collab.NewHub(a.registry, e, scope)
	}, socketAuth)
}

func waitForShutdown(ioo *socketio.Server, srv *http.Server) {
	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	s := <-signalC
	logrus.WithField("signal", s).Info("Shutting down...")
	ioo.Close(nil)
	if err := srv.Shutdown(context.Background()); err != nil {
		logrus.WithError(err).Error("HTTP server shutdown")
	}
}

func main() {
	listenAddress := flag.String("listen", "", "The address to listen on (overrides LISTEN_ADDR).")
	logLevel := flag.String("loglevel", "", "The log level (debug, info, warn, error).")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	if *listenAddress != "" {
		cfg.ListenAddr = *listenAddress
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}
	logrus.SetLevel(level)

	ctx := context.Background()
	store, err := stores.GetStore(ctx, cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize user store")
	}
	provider, err := auth.NewProvider(ctx, cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize authentication provider")
	}

	a := &app{
		cfg:      cfg,
		guard:    sessions.NewGuard(),
		tokens:   sessions.NewTokens([]byte(cfg.JWTSecret), cfg.SessionTTL),
		registry: presence.NewRegistry(),
	}
	a.auth = auth.NewHandler(provider, a.guard, a.tokens, store, cfg.CookieSecure)

	r := setupRouter(a)
	ioo, _ := setupSocketIO(a)
	r.Mount("/socket.io/", ioo.ServeHandler(nil))

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: r}
	logrus.WithField("addr", cfg.ListenAddr).Info("starting server")
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(ioo, srv)
}
