package connection

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/jasona/mudforge-sub010/internal/audit"
	"github.com/jasona/mudforge-sub010/internal/domain/object"
	"github.com/jasona/mudforge-sub010/pkg/logger"
)

// Keepalive timings for the websocket transport, grounded on
// wingedpig-trellis/internal/api/handlers/terminal.go's ping/pong contract.
const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// AuthOutcome reports the result of one login-dialog exchange.
type AuthOutcome int

const (
	// AuthPending means the dialog needs another line from the client.
	AuthPending AuthOutcome = iota
	// AuthSucceeded means the returned player is now bound to the connection.
	AuthSucceeded
	// AuthFailed means the dialog should be abandoned and the connection closed.
	AuthFailed
)

// LoginHandler drives the authenticating-state dialog: the string-prompt
// login daemon, or the parallel structured-auth frame channel, per spec
// section 4.4. Mudlib login content is out of this repository's scope, so
// this is a seam implemented by the application layer — analogous to
// internal/scheduler.HandlerResolver for heartbeat/callout script content.
type LoginHandler interface {
	// Greeting returns the welcome banner sent on entering the greeting state.
	Greeting() string
	// HandleLine processes one plain-text line during authenticating and
	// returns the resolved player on success, or a prompt to send back.
	HandleLine(conn *Connection, line string) (player *object.Object, outcome AuthOutcome, prompt string)
	// HandleFrame processes one structured-auth frame during authenticating.
	HandleFrame(conn *Connection, tag string, payload map[string]any) (player *object.Object, outcome AuthOutcome, prompt string)
}

// Options configures a Service.
type Options struct {
	Addr         string
	Manager      *Manager
	Dispatcher   *Dispatcher
	Login        LoginHandler
	OutboundSize int
	Logger       *logger.Logger

	// AdminTokens gates the /admin/* HTTP surface with a bearer-token check
	// (spec section 8/10): a request must carry "Authorization: Bearer
	// <token>" for one of these tokens. Empty disables the admin surface
	// entirely (fail closed) rather than leaving it open.
	AdminTokens []string
	// Audit records admin operations read back via /admin/audit. Nil means
	// that endpoint returns an empty list.
	Audit *audit.Log
}

// Service is the websocket transport and admin/health HTTP surface for the
// connection manager, grounded on the teacher's http.Server lifecycle
// (internal/app/httpapi/service.go's Name/Start/Stop shape) and on
// gorilla/mux for routing the plain-HTTP admin surface alongside the
// websocket upgrade endpoint (infrastructure/service/runner.go's mux.Router
// usage).
type Service struct {
	addr        string
	mgr         *Manager
	outSize     int
	log         *logger.Logger
	driver      sessionDriver
	adminTokens []string
	audit       *audit.Log

	server *http.Server
}

// NewService constructs a transport Service from opts.
func NewService(opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault("connection")
	}
	return &Service{
		addr:        opts.Addr,
		mgr:         opts.Manager,
		outSize:     opts.OutboundSize,
		log:         log,
		adminTokens: opts.AdminTokens,
		audit:       opts.Audit,
		driver: sessionDriver{
			mgr:   opts.Manager,
			disp:  opts.Dispatcher,
			login: opts.Login,
			log:   log,
		},
	}
}

func (s *Service) Name() string { return "websocket-connection" }

// Start builds the router and begins serving in a background goroutine,
// returning immediately, per the teacher's Start/Stop/ListenAndServe
// pattern.
func (s *Service) Start(ctx context.Context) error {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/admin/status", s.wrapWithAuth(s.handleStatus)).Methods(http.MethodGet)
	r.HandleFunc("/admin/audit", s.wrapWithAuth(s.handleAudit)).Methods(http.MethodGet)
	r.HandleFunc("/connect", s.handleWebSocket)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("connection transport error: %v", err)
		}
	}()
	return nil
}

// Stop shuts the HTTP server down, draining in-flight requests until ctx is
// done.
func (s *Service) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	connected := 0
	if s.mgr != nil {
		connected = s.mgr.Connected()
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"connected_players": connected})
}

// handleAudit serves the bounded audit log recorded by the sandbox's admin
// and permission efuns (spec section 8/10), most-recent entries last.
// Accepts an optional "limit" query parameter.
func (s *Service) handleAudit(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	entries := []audit.Entry{}
	if s.audit != nil {
		entries = s.audit.ListLimit(limit)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"entries": entries})
}

// wrapWithAuth gates next behind a bearer-token check against s.adminTokens.
// With no tokens configured the admin surface is disabled outright (503)
// rather than left reachable without authentication — grounded on the
// teacher's static tokenSet branch of internal/app/httpapi/auth.go's
// wrapWithAuth, hand-rolled here since the teacher's own dgrijalva/jwt-go
// dependency is itself unused in its real auth path (which validates JWTs
// via golang-jwt/jwt/v5 instead), so there is nothing genuine to wire for a
// single static-token admin surface.
func (s *Service) wrapWithAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(s.adminTokens) == 0 {
			http.Error(w, "admin endpoints disabled: no admin token configured", http.StatusServiceUnavailable)
			return
		}
		token, ok := bearerToken(r)
		if !ok || !tokenAllowed(token, s.adminTokens) {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

const bearerPrefix = "Bearer "

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if len(h) <= len(bearerPrefix) || h[:len(bearerPrefix)] != bearerPrefix {
		return "", false
	}
	token := h[len(bearerPrefix):]
	return token, token != ""
}

func tokenAllowed(token string, tokens []string) bool {
	for _, t := range tokens {
		if t == token {
			return true
		}
	}
	return false
}

func (s *Service) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("websocket upgrade failed: %v", err)
		return
	}

	id := uuid.NewString()
	conn := NewConnection(id, r.RemoteAddr, s.outSize)
	s.mgr.Register(conn)

	var writeMu sync.Mutex
	writeDone := make(chan struct{})

	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go s.pumpOutbound(conn, ws, &writeMu, writeDone)
	go s.ping(ws, &writeMu, writeDone)

	s.readLoop(r.Context(), conn, ws)

	close(writeDone)
	conn.SetState(StateClosing)
	s.mgr.Disconnect(id, "connection closed")
	conn.SetState(StateClosed)
	_ = ws.Close()
}

// pumpOutbound drains conn's bounded outbound queue to the websocket,
// distinguishing magic-prefixed structured frames from plain text only by
// writing both as text frames — the prefix is opaque to the transport too.
func (s *Service) pumpOutbound(conn *Connection, ws *websocket.Conn, writeMu *sync.Mutex, done <-chan struct{}) {
	for {
		select {
		case msg, ok := <-conn.Outbound():
			if !ok {
				return
			}
			writeMu.Lock()
			ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			err := ws.WriteMessage(websocket.TextMessage, msg)
			writeMu.Unlock()
			if err != nil {
				s.log.Warnf("write error for connection %s: %v", conn.ID(), err)
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Service) ping(ws *websocket.Conn, writeMu *sync.Mutex, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			writeMu.Lock()
			err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
			writeMu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Service) readLoop(ctx context.Context, conn *Connection, ws *websocket.Conn) {
	s.driver.greet(conn)

	for {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		s.driver.handleInbound(ctx, conn, message)
	}
}
