package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"htlcchain/core"
	"htlcchain/observability"
)

const (
	jsonRPCVersion         = "2.0"
	defaultMaxRequestBytes = 1 << 20 // 1 MiB
	shutdownTimeout        = 5 * time.Second
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeUnauthorized   = -32001
	codeRateLimited    = -32020

	codeHTLCInvalidParams = -32051
	codeHTLCNotFound      = -32052
	codeHTLCForbidden     = -32053
	codeHTLCConflict      = -32054
	codeHTLCInternal      = -32055
)

// ServerConfig carries the admission and transport settings of the RPC
// server.
type ServerConfig struct {
	AuthToken          string
	JWTSecret          string
	JWTIssuer          string
	RateLimitPerSecond float64
	RateLimitBurst     int
	TrustProxyHeaders  bool
	EnableDevMethods   bool
	MaxBodyBytes       int64
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	Logger             *slog.Logger
}

type Server struct {
	node    *core.Node
	cfg     ServerConfig
	auth    *authenticator
	limiter *rateLimiter
	tracer  trace.Tracer
	logger  *slog.Logger
	methods map[string]methodHandler
}

type methodHandler struct {
	fn   func(s *Server, w http.ResponseWriter, r *http.Request, req *RPCRequest)
	auth bool
	dev  bool
}

func NewServer(node *core.Node, cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxRequestBytes
	}
	s := &Server{
		node: node,
		cfg:  cfg,
		auth: &authenticator{
			token:  strings.TrimSpace(cfg.AuthToken),
			secret: []byte(strings.TrimSpace(cfg.JWTSecret)),
			issuer: strings.TrimSpace(cfg.JWTIssuer),
		},
		limiter: newRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
		tracer:  otel.Tracer("htlcchain/rpc"),
		logger:  logger.With(slog.String("component", "rpc")),
	}
	s.methods = map[string]methodHandler{
		"htlc_create":         {fn: (*Server).handleHTLCCreate, auth: true},
		"htlc_createOnBehalf": {fn: (*Server).handleHTLCCreateOnBehalf, auth: true},
		"htlc_redeem":         {fn: (*Server).handleHTLCRedeem},
		"htlc_refund":         {fn: (*Server).handleHTLCRefund},
		"htlc_getOrder":       {fn: (*Server).handleHTLCGetOrder},
		"htlc_escrowed":       {fn: (*Server).handleHTLCEscrowed},
		"htlc_domain":         {fn: (*Server).handleHTLCDomain},
		"htlc_events":         {fn: (*Server).handleHTLCEvents},
		"token_balance":       {fn: (*Server).handleTokenBalance},
		"token_allowance":     {fn: (*Server).handleTokenAllowance},
		"token_approve":       {fn: (*Server).handleTokenApprove, auth: true},
		"token_transfer":      {fn: (*Server).handleTokenTransfer, auth: true},
		"chain_height":        {fn: (*Server).handleChainHeight},
		"chain_advance":       {fn: (*Server).handleChainAdvance, auth: true, dev: true},
	}
	return s
}

// Handler returns the HTTP surface: JSON-RPC on /, plus /healthz and
// /metrics.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Group(func(rr chi.Router) {
		if s.limiter != nil {
			rr.Use(s.limiter.middleware(s.cfg.TrustProxyHeaders))
		}
		rr.Post("/", s.handle)
	})
	return otelhttp.NewHandler(r, "htlc-rpc")
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpc: listen %s: %w", addr, err)
	}
	return s.ServeListener(ctx, ln)
}

func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("json-rpc server listening", slog.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("rpc: shutdown: %w", err)
		}
		return nil
	}
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

func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (%v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
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

// handle decodes one JSON-RPC request and dispatches it.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", s.cfg.MaxBodyBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	start := time.Now()
	ctx, span := s.tracer.Start(r.Context(), req.Method, trace.WithAttributes(
		attribute.String("rpc.system", "jsonrpc"),
		attribute.String("rpc.method", req.Method),
	))
	defer span.End()
	r = r.WithContext(ctx)
	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		span.SetAttributes(attribute.Int("http.status_code", recorder.status))
		if recorder.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(recorder.status))
		}
		elapsed := time.Since(start)
		observability.RPC().Observe(req.Method, recorder.status, elapsed)
		requestMetrics().record(ctx, req.Method, recorder.status, elapsed.Seconds())
		s.logger.Debug("rpc request",
			slog.String("request_id", requestIDFrom(ctx)),
			slog.String("method", req.Method),
			slog.Int("status", recorder.status),
			slog.Duration("duration", elapsed))
	}()

	handler, ok := s.methods[req.Method]
	if !ok || (handler.dev && !s.cfg.EnableDevMethods) {
		writeError(recorder, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	if handler.auth {
		p, authErr := s.auth.authenticate(r)
		if authErr != nil {
			observability.RPC().RecordThrottle("unauthorized")
			writeError(recorder, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		r = r.WithContext(context.WithValue(r.Context(), contextKeyPrincipal, p))
	}
	handler.fn(s, recorder, r, req)
}

const contextKeyPrincipal contextKey = "rpc.principal"

func principalFrom(r *http.Request) principal {
	p, _ := r.Context().Value(contextKeyPrincipal).(principal)
	return p
}

// decodeParams unmarshals the single parameter object of req into dst.
func decodeParams(req *RPCRequest, dst interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	dec := json.NewDecoder(bytes.NewReader(req.Params[0]))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}

func writeInvalidParams(w http.ResponseWriter, id interface{}, err error) {
	writeError(w, http.StatusBadRequest, id, codeHTLCInvalidParams, "invalid_params", err.Error())
}
