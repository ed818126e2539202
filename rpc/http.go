package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"tradeup/native/tradeup"
	"tradeup/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	authTokenEnv    = "TRADEUP_RPC_TOKEN"

	requestsPerSecond = 5
	requestBurst      = 10
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020

	codeChainActive      = -32030
	codeChainClosed      = -32031
	codeDepositRejected  = -32032
	codeNothingToRedeem  = -32033
	codeDepositNotFound  = -32034
	codeBadNotification  = -32035
)

// Server exposes the trade-up escrow engine over JSON-RPC.
type Server struct {
	engine    *tradeup.Engine
	logger    *slog.Logger
	authToken string
	tracer    trace.Tracer

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewServer wires an RPC server around the supplied engine. The auth token is
// read from the TRADEUP_RPC_TOKEN environment variable; when empty, mutating
// methods are open (development mode).
func NewServer(engine *tradeup.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:    engine,
		logger:    logger,
		authToken: strings.TrimSpace(os.Getenv(authTokenEnv)),
		tracer:    otel.Tracer("tradeup-rpc"),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Router builds the HTTP handler: the JSON-RPC endpoint at the root plus
// health and metrics surfaces.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/", s.handle)
	return r
}

// Start serves the router on the given address and blocks.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", "addr", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	client := clientAddr(r)
	if !s.allow(client) {
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate_limited", nil)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse_error", err.Error())
		return
	}
	if len(body) > maxRequestBytes {
		writeError(w, http.StatusRequestEntityTooLarge, nil, codeInvalidRequest, "request_too_large", nil)
		return
	}

	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse_error", err.Error())
		return
	}
	if req.JSONRPC != jsonRPCVersion || strings.TrimSpace(req.Method) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "invalid_request", nil)
		return
	}

	requestID := uuid.NewString()
	start := time.Now()
	ctx, span := s.tracer.Start(r.Context(), req.Method, trace.WithAttributes(
		attribute.String("rpc.method", req.Method),
		attribute.String("rpc.request_id", requestID),
	))
	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.dispatch(recorder, r.WithContext(ctx), &req)
	span.SetAttributes(attribute.Int("http.status_code", recorder.status))
	span.End()

	outcome := "ok"
	if recorder.status >= http.StatusBadRequest {
		outcome = "error"
	}
	observability.RPC().Observe(req.Method, outcome, time.Since(start).Seconds())
	s.logger.Info("rpc request",
		"method", req.Method,
		"status", recorder.status,
		"client", client,
		"requestId", requestID,
		"durationMs", time.Since(start).Milliseconds(),
	)
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	switch req.Method {
	case "tradeup_status":
		s.handleStatus(w, req)
	case "tradeup_params":
		s.handleParams(w, req)
	case "tradeup_getDeposit":
		s.handleGetDeposit(w, req)
	case "tradeup_listDeposits":
		s.handleListDeposits(w, req)
	case "tradeup_supportsCapability":
		s.handleSupportsCapability(w, req)
	case "tradeup_notifyDeposit":
		s.handleNotifyDeposit(w, r, req)
	case "tradeup_redeem":
		s.handleRedeem(w, r, req)
	case "tradeup_redeemAll":
		s.handleRedeemAll(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method_not_found", req.Method)
	}
}

type authError struct {
	Code    int
	Message string
	Data    interface{}
}

func (s *Server) requireAuth(r *http.Request) *authError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &authError{Code: codeUnauthorized, Message: "unauthorized", Data: "missing bearer token"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &authError{Code: codeUnauthorized, Message: "unauthorized", Data: "invalid token"}
	}
	return nil
}

func (s *Server) allow(client string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.limiters[client]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst)
		s.limiters[client] = limiter
	}
	return limiter.Allow()
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
