package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/deliverly/go-fanout/internal/hub"
	"github.com/deliverly/go-fanout/internal/server/middleware"
	"github.com/deliverly/go-fanout/pkg/config"
	"github.com/deliverly/go-fanout/pkg/transport"
	"github.com/google/uuid"
)

type App struct {
	logger   *slog.Logger
	hub      *hub.Hub
	router   *hub.Router
	protocol *hub.Protocol
	wg       sync.WaitGroup
	http     *http.Server
	config   *config.Config

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, h *hub.Hub, router *hub.Router) *App {
	validator := NewTokenValidator(cfg.Server.Auth.JWTSecret)
	protocol := hub.NewProtocol(logger, h, router, validator)

	app := &App{
		logger:   logger,
		hub:      h,
		router:   router,
		protocol: protocol,
		config:   cfg,
		ctx:      rootCtx,
	}

	mux := http.NewServeMux()
	mux.Handle("/ws",
		middleware.Chain(http.HandlerFunc(app.upgradeHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
		),
	)
	mux.Handle("/events",
		middleware.Chain(http.HandlerFunc(app.ingestHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
		),
	)

	app.http = &http.Server{Addr: cfg.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app
}

func (a *App) Run() error {
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(slog.String("remoteAddr", reqMeta.IP))

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		a.logger,
	)

	// The session starts unauthenticated; identity arrives in-band with the
	// auth envelope.
	if _, err := a.hub.Register(conn.ID(), conn, reqMeta.IP); err != nil {
		connLogger.Error("Failed to register connection", slog.Any("error", err))
		conn.Close(err)
		return
	}
	conn.SetMessageHandler(a.protocol.HandleMessage)
	conn.SetCloseHandler(func(id uuid.UUID, err error) {
		connLogger.Info("Deregistering connection due to closure", slog.String("connID", id.String()))
		a.hub.Deregister(id)
	})

	connLogger.Info("Connection established, awaiting authentication")
	conn.Run()
	<-conn.Done()
}

// ingestHandler accepts a domain event from an external producer and routes
// it fire-and-forget: the producer gets a 202 regardless of how many live
// recipients the event reaches.
func (a *App) ingestHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var in struct {
		Type    hub.EventType   `json:"type"`
		Payload json.RawMessage `json:"payload"`
		Target  hub.Target      `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	a.router.Route(hub.NewEvent(in.Type, in.Payload, in.Target))
	w.WriteHeader(http.StatusAccepted)
}

// Shutdown runs the graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...")
	for _, s := range a.hub.Sessions() {
		s.Conn.Close(errors.New("graceful shutdown"))
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
