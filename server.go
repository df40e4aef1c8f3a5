package main

import (
	"crypto/subtle"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/oszuidwest/zwfm-voiceagent/internal/agent"
	"github.com/oszuidwest/zwfm-voiceagent/internal/audio"
	"github.com/oszuidwest/zwfm-voiceagent/internal/config"
	"github.com/oszuidwest/zwfm-voiceagent/internal/server"
	"github.com/oszuidwest/zwfm-voiceagent/internal/types"
	"github.com/oszuidwest/zwfm-voiceagent/internal/util"
)

var loginTmpl = template.Must(template.New("login").Parse(loginHTML))
var indexTmpl = template.Must(template.New("index").Parse(indexHTML))
var faviconTmpl = template.Must(template.New("favicon").Parse(faviconSVG))

type loginData struct {
	Error       bool
	CSRFToken   string
	Version     string
	Year        int
	StationName string
	PrimaryCSS  template.CSS
}

type indexData struct {
	Version     string
	Year        int
	StationName string
	PrimaryCSS  template.CSS
}

// Server is an HTTP server that provides the web interface for the voice agent.
type Server struct {
	config          *config.Config
	agent           *agent.Agent
	sessions        *server.SessionManager
	commands        *server.CommandHandler
	version         *VersionChecker
	metrics         http.Handler
	ffmpegAvailable bool
}

// NewServer returns a new Server for the agent. metrics serves /metrics and
// may be nil.
func NewServer(cfg *config.Config, a *agent.Agent, ffmpegAvailable bool, metrics http.Handler) *Server {
	sessions := server.NewSessionManager()
	commands := server.NewCommandHandler(cfg, a, ffmpegAvailable)

	return &Server{
		config:          cfg,
		agent:           a,
		sessions:        sessions,
		commands:        commands,
		version:         NewVersionChecker(),
		metrics:         metrics,
		ffmpegAvailable: ffmpegAvailable,
	}
}

// handleWebSocket handles bidirectional WebSocket communication for real-time updates.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	// Create buffered send channel for thread-safe writes.
	// Only the writer goroutine writes to the connection.
	send := make(chan any, 16)
	done := make(chan struct{})
	statusUpdate := make(chan struct{}, 1)

	// Writer goroutine - sole writer to the connection
	go s.runWebSocketWriter(conn, send)

	// Reader goroutine - handles incoming commands
	go s.runWebSocketReader(conn, send, done, statusUpdate)

	s.runWebSocketEventLoop(send, done, statusUpdate)
}

// runWebSocketWriter writes messages from the send channel to the connection.
func (s *Server) runWebSocketWriter(conn server.WebSocketConn, send <-chan any) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	for msg := range send {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// runWebSocketReader reads commands from the connection and dispatches them.
func (s *Server) runWebSocketReader(conn server.WebSocketConn, send chan<- any, done, statusUpdate chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in WebSocket reader", "panic", r)
		}
		close(done)
	}()

	for {
		var cmd server.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.commands.Handle(cmd, send, func() {
			select {
			case statusUpdate <- struct{}{}:
			default:
			}
		})
	}
}

// runWebSocketEventLoop pushes levels, status and agent updates until the
// client goes away.
func (s *Server) runWebSocketEventLoop(send chan any, done, statusUpdate <-chan struct{}) {
	levelsTicker := time.NewTicker(100 * time.Millisecond)  // 10 fps for meters
	statusTicker := time.NewTicker(3000 * time.Millisecond) // Status updates every 3s
	defer levelsTicker.Stop()
	defer statusTicker.Stop()

	updates, unsubscribe := s.agent.Subscribe()
	defer unsubscribe()

	// trySend attempts to send a message, returning false if done is closed
	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	// Send initial status
	if !trySend(s.buildWSStatus()) {
		close(send)
		return
	}

	for {
		var msg any
		select {
		case <-done:
			close(send)
			return
		case <-statusUpdate:
			msg = s.buildWSStatus()
		case u := <-updates:
			if u.Transcript != nil {
				msg = types.WSTranscriptResponse{Type: "transcript", Entry: *u.Transcript}
			} else {
				msg = s.buildWSStatus()
			}
		case <-levelsTicker.C:
			msg = s.agent.Levels()
		case <-statusTicker.C:
			msg = s.buildWSStatus()
		}
		if !trySend(msg) {
			close(send)
			return
		}
	}
}

// buildWSStatus returns the current WebSocket status response.
func (s *Server) buildWSStatus() types.WSStatusResponse {
	cfg := s.config.Snapshot()

	return types.WSStatusResponse{
		Type:              "status",
		FFmpegAvailable:   s.ffmpegAvailable,
		APIKeySet:         cfg.GeminiAPIKey != "",
		Capture:           s.agent.CaptureStatus(),
		Session:           s.agent.SessionStatus(),
		Context:           s.agent.Last(),
		Alert:             s.agent.ActiveAlert(),
		Transcripts:       s.agent.Transcripts(),
		Devices:           audio.ListDevices(),
		Webhook:           cfg.WebhookURL,
		LogPath:           cfg.LogPath,
		ZabbixServer:      cfg.ZabbixServer,
		ZabbixPort:        cfg.ZabbixPort,
		ZabbixHost:        cfg.ZabbixHost,
		ZabbixKey:         cfg.ZabbixKey,
		GraphTenantID:     cfg.GraphTenantID,
		GraphClientID:     cfg.GraphClientID,
		GraphFromAddress:  cfg.GraphFromAddress,
		GraphRecipients:   cfg.GraphRecipients,
		GraphSecretExpiry: s.agent.GraphSecretExpiry(),
		Settings: types.WSSettings{
			AudioInput:    cfg.AudioInput,
			AudioOutput:   cfg.AudioOutput,
			Model:         cfg.LiveModel,
			VoiceLanguage: cfg.VoiceLanguage,
			AutoConnect:   cfg.AutoConnect,
			Latitude:      cfg.Latitude,
			Longitude:     cfg.Longitude,
			Platform:      runtime.GOOS,
		},
		Version: s.version.Info(),
	}
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()
	auth := s.sessions.AuthMiddleware()

	// Public routes (no auth required)
	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/logout", s.handleLogout)

	// Public static assets (needed for login page styling)
	mux.HandleFunc("/style.css", s.handlePublicStatic)
	mux.HandleFunc("/favicon.svg", s.handleFavicon)

	// REST API routes (API key auth)
	mux.HandleFunc("/api/status", s.apiKeyAuth(s.handleAPIStatus))
	mux.HandleFunc("/api/snapshot", s.apiKeyAuth(s.handleAPISnapshot))
	mux.HandleFunc("/api/session/connect", s.apiKeyAuth(s.handleAPIConnect))
	mux.HandleFunc("/api/session/disconnect", s.apiKeyAuth(s.handleAPIDisconnect))
	mux.HandleFunc("/api/transcripts", s.apiKeyAuth(s.handleAPITranscripts))
	mux.HandleFunc("/api/devices", s.apiKeyAuth(s.handleAPIDevices))
	mux.HandleFunc("/api/settings", s.apiKeyAuth(s.handleAPISettings))
	mux.HandleFunc("/api/notifications/test/webhook", s.apiKeyAuth(s.handleAPITestWebhook))
	mux.HandleFunc("/api/notifications/test/log", s.apiKeyAuth(s.handleAPITestLog))
	mux.HandleFunc("/api/notifications/test/email", s.apiKeyAuth(s.handleAPITestEmail))
	mux.HandleFunc("/api/notifications/test/zabbix", s.apiKeyAuth(s.handleAPITestZabbix))
	mux.HandleFunc("/api/log", s.apiKeyAuth(s.handleAPIViewLog))

	// Prometheus scrape endpoint
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}

	// Protected routes
	mux.HandleFunc("/api/regenerate-key", auth(s.handleAPIRegenerateKey))
	mux.HandleFunc("/ws", auth(s.handleWebSocket))
	mux.HandleFunc("/", auth(s.handleStatic))

	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// handlePublicStatic handles requests for static files without authentication.
func (s *Server) handlePublicStatic(w http.ResponseWriter, r *http.Request) {
	if !serveStaticFile(w, r.URL.Path) {
		http.NotFound(w, r)
	}
}

// handleFavicon serves the favicon with the configured station color.
func (s *Server) handleFavicon(w http.ResponseWriter, r *http.Request) {
	cfg := s.config.Snapshot()
	w.Header().Set("Content-Type", "image/svg+xml")
	if err := faviconTmpl.Execute(w, struct{ Color string }{Color: cfg.StationColorLight}); err != nil {
		slog.Error("failed to render favicon", "error", err)
	}
}

// serveStaticFile serves a static file by path and reports whether it was found.
func serveStaticFile(w http.ResponseWriter, path string) bool {
	file, ok := staticFiles[path]
	if !ok {
		return false
	}
	w.Header().Set("Content-Type", file.contentType)
	if _, err := w.Write([]byte(file.content)); err != nil {
		slog.Error("failed to write static file", "file", file.name, "error", err)
	}
	return true
}

// handleLogin handles login page display and form submission.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(server.SessionCookieName); err == nil {
		if s.sessions.Validate(cookie.Value) {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
	}

	cfg := s.config.Snapshot()
	data := loginData{
		Version:     Version,
		Year:        time.Now().Year(),
		CSRFToken:   s.sessions.CreateCSRFToken(),
		StationName: cfg.StationName,
		PrimaryCSS:  template.CSS(util.GenerateBrandCSS(cfg.StationColorLight, cfg.StationColorDark)),
	}

	if r.Method == http.MethodPost {
		csrfToken := r.FormValue("csrf_token")
		if !s.sessions.ValidateCSRFToken(csrfToken) {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}

		username := r.FormValue("username")
		password := r.FormValue("password")

		if s.sessions.Login(w, r, username, password, cfg.WebUser, cfg.WebPassword) {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}

		data.Error = true
		data.CSRFToken = s.sessions.CreateCSRFToken() // New token for retry
	}

	w.Header().Set("Content-Type", "text/html")
	if err := loginTmpl.Execute(w, data); err != nil {
		slog.Error("failed to render login page", "error", err)
	}
}

// handleLogout handles user logout requests.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Logout(w, r)
	http.Redirect(w, r, "/login", http.StatusFound)
}

// staticFile is an embedded static file with content type and data.
type staticFile struct {
	contentType string
	content     string
	name        string
}

// staticFiles is a map from URL paths to static file definitions.
var staticFiles = map[string]staticFile{
	"/style.css": {
		contentType: "text/css",
		content:     styleCSS,
		name:        "style.css",
	},
	"/app.js": {
		contentType: "application/javascript",
		content:     appJS,
		name:        "app.js",
	},
	// favicon.svg is served dynamically via handleFavicon
}

// handleStatic handles requests for embedded static web interface files.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path == "/" {
		path = "/index.html"
	}

	// Serve index.html with dynamic placeholders.
	if path == "/index.html" {
		cfg := s.config.Snapshot()
		w.Header().Set("Content-Type", "text/html")
		if err := indexTmpl.Execute(w, indexData{
			Version:     Version,
			Year:        time.Now().Year(),
			StationName: cfg.StationName,
			PrimaryCSS:  template.CSS(util.GenerateBrandCSS(cfg.StationColorLight, cfg.StationColorDark)),
		}); err != nil {
			slog.Error("failed to write index.html", "error", err)
		}
		return
	}

	if serveStaticFile(w, path) {
		return
	}

	http.NotFound(w, r)
}

// apiKeyAuth returns middleware for API key authentication.
func (s *Server) apiKeyAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := s.config.Snapshot().APIKey
		if apiKey == "" {
			http.Error(w, "API key not configured", http.StatusServiceUnavailable)
			return
		}

		providedKey := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(providedKey), []byte(apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// Start begins the HTTP server.
// Returns an *http.Server that can be used for graceful shutdown.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.config.Snapshot().WebPort)
	slog.Info("starting web server", "addr", addr)

	srv := &http.Server{
		Addr:    addr,
		Handler: s.SetupRoutes(),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}
