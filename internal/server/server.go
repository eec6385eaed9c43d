package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dukerupert/schoolpush/internal/backend"
	"github.com/dukerupert/schoolpush/internal/bridge"
	"github.com/dukerupert/schoolpush/internal/config"
	"github.com/dukerupert/schoolpush/internal/coordinator"
	"github.com/dukerupert/schoolpush/internal/handler"
	"github.com/dukerupert/schoolpush/internal/metrics"
	"github.com/dukerupert/schoolpush/internal/middleware"
	"github.com/dukerupert/schoolpush/internal/multiplex"
	"github.com/dukerupert/schoolpush/internal/permission"
	"github.com/dukerupert/schoolpush/internal/present"
	"github.com/dukerupert/schoolpush/internal/prompt"
	"github.com/dukerupert/schoolpush/internal/push"
	"github.com/dukerupert/schoolpush/internal/relay"
	"github.com/dukerupert/schoolpush/internal/store"
	"github.com/dukerupert/schoolpush/internal/surface"
	"github.com/dukerupert/schoolpush/internal/token"
	ws "github.com/dukerupert/schoolpush/internal/websocket"
)

const (
	rateLimitBurst   = 10
	rateLimitEvery   = 6 * time.Second
	rateLimitIdle    = 10 * time.Minute
	rateLimitCleanup = time.Minute
)

type Server struct {
	db          *sql.DB
	hub         *ws.Hub
	coord       *coordinator.Coordinator
	receiver    *relay.Receiver
	metrics     *metrics.Metrics
	sessionH    *handler.SessionHandler
	notifyH     *handler.NotificationHandler
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger

	cancel context.CancelFunc
	stop   chan struct{}
	wg     sync.WaitGroup
}

// New wires every component of the notification subsystem. The VAPID keys in
// cfg must already be resolved.
func New(db *sql.DB, cfg *config.Config, logger *slog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	clk := clock.New()
	m := metrics.New()

	hub := ws.NewHub(logger.With("component", "websocket"))
	host := bridge.NewHost(ctx, hub, logger)
	surf := surface.New(hub, logger)
	stateStore := store.NewStateStore(db)
	receiver := relay.NewReceiver(logger)

	tracker := permission.NewTracker(host, logger)
	tokens := token.NewManager(
		host,
		backend.NewClient(backend.Config{BaseURL: cfg.Backend.BaseURL, Timeout: cfg.Backend.Timeout}),
		stateStore,
		tracker,
		token.Config{
			CredentialKey:  cfg.Push.VAPIDPublicKey,
			ReceiverHandle: cfg.Push.ReceiverHandle,
			Platform:       cfg.Backend.Platform,
			Attempts:       cfg.Notifications.RegistrationAttempts,
			RetryBase:      cfg.Notifications.RetryBase,
			AttemptTimeout: cfg.Backend.Timeout,
		},
		clk, logger, m,
	)

	pushSvc := push.NewService(push.Config{
		VAPIDPublicKey:  cfg.Push.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.Push.VAPIDPrivateKey,
		Subscriber:      cfg.Push.Subscriber,
	})
	dispatcher := present.NewDispatcher(present.Deps{
		Toaster:    surf,
		Notifier:   push.NewNotifier(pushSvc, tokens, surf, logger),
		Focus:      host,
		Permission: tracker,
		Navigator:  surf,
		OnExpired: func() {
			if tok, ok := tokens.Status(); ok {
				tokens.Invalidate(tok.Value)
			}
		},
		Duration: cfg.Notifications.ToastDuration,
		Clock:    clk,
		Logger:   logger,
		Metrics:  m,
	})
	mux := multiplex.New(dispatcher, cfg.Notifications.DedupWindow, clk, logger, m)
	gate := prompt.NewGate(surf, stateStore, tracker, tokens, cfg.Notifications.PromptDebounce, clk, logger, m)

	coord := coordinator.New(coordinator.Deps{
		Tracker:    tracker,
		Tokens:     tokens,
		Mux:        mux,
		Dispatcher: dispatcher,
		Gate:       gate,
		Foreground: host,
		Relay:      receiver.C(),
	}, logger)
	coord.OnChange(surf.PublishSnapshot)
	host.SetActions(coord)

	return &Server{
		db:          db,
		hub:         hub,
		coord:       coord,
		receiver:    receiver,
		metrics:     m,
		sessionH:    handler.NewSessionHandler(coord, logger.With("component", "session")),
		notifyH:     handler.NewNotificationHandler(coord, pushSvc.VAPIDPublicKey(), logger.With("component", "notifications")),
		rateLimiter: middleware.NewRateLimiter(rateLimitBurst, rateLimitEvery),
		logger:      logger,
		cancel:      cancel,
		stop:        make(chan struct{}),
	}
}

// Coordinator returns the session coordinator.
func (s *Server) Coordinator() *coordinator.Coordinator {
	return s.coord
}

// Start runs background maintenance until Stop is called.
func (s *Server) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(rateLimitCleanup)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case now := <-ticker.C:
				s.rateLimiter.Cleanup(now, rateLimitIdle)
			}
		}
	}()
}

// Stop ends the active session and background work.
func (s *Server) Stop() {
	s.coord.OnLogout()
	close(s.stop)
	s.cancel()
	s.wg.Wait()
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", s.metrics.Handler())

	mux.HandleFunc("POST /api/session/login", s.rateLimited(s.sessionH.Login))
	mux.HandleFunc("POST /api/session/logout", s.sessionH.Logout)

	mux.HandleFunc("GET /api/notifications/state", s.notifyH.State)
	mux.HandleFunc("GET /api/notifications/vapid-key", s.notifyH.VAPIDKey)

	requireSession := middleware.RequireSession(s.coord)
	mux.Handle("POST /api/notifications/enable", requireSession(s.rateLimited(s.notifyH.Enable)))
	mux.Handle("POST /api/notifications/dismiss", requireSession(http.HandlerFunc(s.notifyH.Dismiss)))
	mux.Handle("POST /api/toasts/{id}/dismiss", requireSession(http.HandlerFunc(s.notifyH.DismissToast)))
	mux.Handle("POST /api/toasts/{id}/click", requireSession(http.HandlerFunc(s.notifyH.ClickToast)))

	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub))
	mux.HandleFunc("GET /ws/relay", s.receiver.Handler())

	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if err := s.db.PingContext(r.Context()); err != nil {
		status = "degraded"
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": status, "clients": s.hub.ClientCount()})
}

func (s *Server) rateLimited(h http.HandlerFunc) http.HandlerFunc {
	rl := middleware.RateLimit(s.rateLimiter, middleware.RealIP)
	return rl(h).ServeHTTP
}
