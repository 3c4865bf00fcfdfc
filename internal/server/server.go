package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jpalmerr/compliancepulse/internal/poller"
	"github.com/jpalmerr/compliancepulse/internal/store"
)

const (
	// sseWriteTimeout is the maximum time allowed for a single SSE write operation.
	// This prevents goroutine leaks when clients are slow or disconnected.
	// Must be <= shutdown timeout to ensure clean shutdown.
	sseWriteTimeout = 5 * time.Second

	// sseBuffer is the number of updates queued per SSE client. Updates
	// beyond it are dropped for that client; the next publish on the same
	// channel supersedes them anyway.
	sseBuffer = 64

	// shutdownTimeout bounds graceful shutdown of in-flight requests.
	shutdownTimeout = 5 * time.Second

	// maxRequestBody caps JSON request bodies on control endpoints.
	maxRequestBody = 4 << 10

	// defaultTitle is used when no custom title is configured.
	defaultTitle = "Compliance Dashboard"

	// titlePlaceholder is the marker in HTML that gets replaced with the actual title.
	titlePlaceholder = "{{.Title}}"
)

// Hub is the dashboard surface the relay needs.
type Hub interface {
	Last(ch store.Channel) (store.Update, bool)
	Subscribe(ch store.Channel, fn store.Listener) func()
	Refresh(ctx context.Context) error
	StartPolling(ctx context.Context)
	StopPolling()
	SetPollingInterval(d time.Duration) time.Duration
	PollingState() poller.State

	// Aggregate returns the combined dashboard record, encoded as-is.
	Aggregate() any
}

// Server relays dashboard channels over HTTP.
//
// Routes:
//   - GET /: embedded relay page
//   - GET /api/snapshot: aggregated record, last value of every channel, polling state
//   - GET /api/channels/{name}: last value of one channel
//   - GET /api/sse: Server-Sent Events stream of every publish
//   - POST /api/refresh: out-of-band refresh (429 when throttled)
//   - POST /api/polling/start, POST /api/polling/stop
//   - PUT /api/polling/interval: body {"interval":"10s"}
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	hub        Hub
	port       int
	httpServer *http.Server
	assets     fs.FS
	title      string
	logger     *slog.Logger

	mu   sync.Mutex
	ctx  context.Context
	done chan struct{}
}

// NewServer creates a new HTTP [Server].
//
// Parameters:
//   - hub: source of channel values and polling controls
//   - port: TCP port to listen on
//   - assets: Embedded filesystem containing the relay page (may be nil)
//   - title: Page title (defaults to "Compliance Dashboard" if empty)
//   - logger: Logger for server events
//
// The server is not started until [Server.Start] is called.
func NewServer(hub Hub, port int, assets fs.FS, title string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		hub:    hub,
		port:   port,
		assets: assets,
		title:  title,
		logger: logger,
		ctx:    context.Background(),
	}
}

// Handler returns the routing handler. Exposed for tests and for embedding
// the relay in another server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/channels/{name}", s.handleChannel)
	mux.HandleFunc("GET /api/sse", s.handleSSE)
	mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/polling/start", s.handleStartPolling)
	mux.HandleFunc("POST /api/polling/stop", s.handleStopPolling)
	mux.HandleFunc("PUT /api/polling/interval", s.handleSetInterval)

	// serve the relay page
	if s.assets != nil {
		mux.HandleFunc("GET /", s.handleDashboard)
	}
	return mux
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. The server will continue running until the context is
// cancelled, at which point it initiates a graceful shutdown with a 5-second
// timeout. Polling started through the API runs under ctx.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	// create listener first to verify port availability synchronously
	addr := fmt.Sprintf(":%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.ctx = ctx
	s.done = done
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// BaseContext derives all request contexts from the server context.
		// When ctx is cancelled, all request contexts are also cancelled,
		// enabling graceful shutdown of long-running handlers like SSE.
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	// shutdown on context cancellation
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	return nil
}

// Wait blocks until a started server has finished shutting down. It returns
// immediately if Start was never called successfully.
func (s *Server) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// lifetime returns the context polling started through the API runs under.
func (s *Server) lifetime() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// handleDashboard serves the relay page.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	if s.assets == nil {
		http.Error(w, "Dashboard not found", http.StatusInternalServerError)
		return
	}

	// read index.html from embedded assets
	content, err := fs.ReadFile(s.assets, "assets/index.html")
	if err != nil {
		http.Error(w, "Dashboard not found", http.StatusInternalServerError)
		return
	}

	// apply title substitution with HTML escaping to prevent XSS
	title := s.title
	if title == "" {
		title = defaultTitle
	}
	safeTitle := html.EscapeString(title)
	rendered := strings.ReplaceAll(string(content), titlePlaceholder, safeTitle)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err = w.Write([]byte(rendered)); err != nil {
		s.logger.Error("failed to write dashboard response", "error", err)
	}
}

// snapshotResponse is the body of GET /api/snapshot.
type snapshotResponse struct {
	Snapshot any                            `json:"snapshot"`
	Channels map[store.Channel]store.Update `json:"channels"`
	Polling  pollingResponse                `json:"polling"`
}

type pollingResponse struct {
	Running  bool   `json:"running"`
	Interval string `json:"interval"`
}

func toPollingResponse(st poller.State) pollingResponse {
	return pollingResponse{Running: st.Running, Interval: st.Interval.String()}
}

// handleSnapshot returns the last value of every channel.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	resp := snapshotResponse{
		Snapshot: s.hub.Aggregate(),
		Channels: make(map[store.Channel]store.Update, len(store.AllChannels)),
		Polling:  toPollingResponse(s.hub.PollingState()),
	}
	for _, ch := range store.AllChannels {
		if u, ok := s.hub.Last(ch); ok {
			resp.Channels[ch] = u
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleChannel returns the last value of one channel.
func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	ch, ok := store.ParseChannel(r.PathValue("name"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown channel")
		return
	}
	u, ok := s.hub.Last(ch)
	if !ok {
		s.writeError(w, http.StatusNotFound, "no value published yet")
		return
	}
	s.writeJSON(w, http.StatusOK, u)
}

// handleRefresh runs one out-of-band refresh.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	err := s.hub.Refresh(r.Context())
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, toPollingResponse(s.hub.PollingState()))
	case errors.Is(err, poller.ErrRefreshThrottled):
		w.Header().Set("Retry-After", "1")
		s.writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, poller.ErrClosed):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleStartPolling(w http.ResponseWriter, r *http.Request) {
	s.hub.StartPolling(s.lifetime())
	s.writeJSON(w, http.StatusOK, toPollingResponse(s.hub.PollingState()))
}

func (s *Server) handleStopPolling(w http.ResponseWriter, r *http.Request) {
	s.hub.StopPolling()
	s.writeJSON(w, http.StatusOK, toPollingResponse(s.hub.PollingState()))
}

// handleSetInterval changes the polling interval. The effective value is
// returned, which may be higher than requested.
func (s *Server) handleSetInterval(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Interval string `json:"interval"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	d, err := time.ParseDuration(body.Interval)
	if err != nil || d <= 0 {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid interval %q", body.Interval))
		return
	}

	s.hub.SetPollingInterval(d)
	s.writeJSON(w, http.StatusOK, toPollingResponse(s.hub.PollingState()))
}

// handleSSE streams channel updates via Server-Sent Events.
//
// The handler subscribes to every channel for the lifetime of the request.
// Listeners only enqueue; the handler goroutine does the writing so a slow
// client never blocks a publish. Write deadlines prevent goroutine leaks when
// clients are slow or disconnected.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	// check if flushing is supported
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)

	// track if write deadlines are supported (may not be for some ResponseWriter impls)
	deadlinesSupported := true

	writeAndFlush := func(u store.Update) error {
		data, err := json.Marshal(u)
		if err != nil {
			s.logger.Warn("failed to encode sse update", "channel", u.Channel, "error", err)
			return nil
		}
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				// deadline not supported by underlying connection, continue without
				s.logger.Warn("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}

		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", u.Channel, data); err != nil {
			return err
		}

		// ResponseController.Flush respects the write deadline
		return rc.Flush()
	}

	// set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	updates := make(chan store.Update, sseBuffer)
	enqueue := func(u store.Update) {
		select {
		case updates <- u:
		default:
			s.logger.Debug("sse client lagging, update dropped", "channel", u.Channel)
		}
	}
	for _, ch := range store.AllChannels {
		dispose := s.hub.Subscribe(ch, enqueue)
		defer dispose()
	}

	// send last known values first so a new client renders immediately
	for _, ch := range store.AllChannels {
		if u, ok := s.hub.Last(ch); ok {
			if err := writeAndFlush(u); err != nil {
				return
			}
		}
	}

	// stream updates
	for {
		select {
		case u := <-updates:
			if err := writeAndFlush(u); err != nil {
				return
			}

		case <-r.Context().Done():
			// request context is derived from server context via BaseContext,
			// so this fires on both client disconnect AND server shutdown
			return
		}
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, errorResponse{Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}
