package http

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/ValentinKolb/dCache/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("transport/rpc")

	requestsTotal = metrics.NewCounter(`dcache_rpc_requests_total{transport="http"}`)
	errorsTotal   = metrics.NewCounter(`dcache_rpc_errors_total{transport="http"}`)
	requestTime   = metrics.NewSummary(`dcache_rpc_request_duration_seconds{transport="http"}`)
)

func NewHttpServerTransport() transport.IRPCServerTransport {
	return &httpServerTransport{}
}

type httpServerTransport struct {
	handler transport.ServerHandleFunc
	config  common.ServerConfig
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *httpServerTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *httpServerTransport) Listen(config common.ServerConfig) error {
	t.config = config

	Logger.Infof("Starting HTTP server on %s", t.config.Endpoint)

	srv := &http.Server{
		Addr:              t.config.Endpoint,
		Handler:           t.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// routes builds the request multiplexer of the server
func (t *httpServerTransport) routes() http.Handler {
	mux := http.NewServeMux()

	if levels, _ := common.ParseLogLevels(t.config.LogLevel); levels.Of("transport/rpc") == logger.DEBUG {
		mux.HandleFunc("POST /{shardId}", loggerMiddleware(t.handleRequest))
	} else {
		mux.HandleFunc("POST /{shardId}", t.handleRequest)
	}
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// handleRequest handles incoming HTTP requests and writes the response to the writer
func (t *httpServerTransport) handleRequest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestsTotal.Inc()
	defer requestTime.UpdateDuration(start)

	shardId, err := strconv.ParseUint(r.PathValue("shardId"), 10, 64)
	if err != nil {
		errorsTotal.Inc()
		http.Error(w, "Invalid shardId", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		errorsTotal.Inc()
		http.Error(w, "Failed to read request body", http.StatusInternalServerError)
		return
	}

	if t.handler == nil {
		errorsTotal.Inc()
		http.Error(w, "No handler registered", http.StatusServiceUnavailable)
		return
	}

	resp := t.handler(shardId, body)

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err = w.Write(resp); err != nil {
		errorsTotal.Inc()
		Logger.Warningf("failed to write response: %v", err)
	}
}

// --------------------------------------------------------------------------
// Middleware (logging)
// --------------------------------------------------------------------------

// responseWriter is a custom ResponseWriter that captures status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code before writing it
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggerMiddleware is a middleware that logs HTTP requests
func loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rw, r)

		Logger.Debugf("%s %s => %d took %s", r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	}
}
