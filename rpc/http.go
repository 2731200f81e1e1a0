package rpc

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"commitprotocol/native/clients"
	"commitprotocol/native/commitment"
	"commitprotocol/storage"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeNotFound       = -32022
	codeForbidden      = -32023
	codeConflict       = -32024
	codeRateLimited    = -32029
)

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

// Server exposes the commitment engine over JSON-RPC. Mutating methods
// are serialised with a mutex so engine state transitions stay atomic
// under concurrent requests.
type Server struct {
	engine   *commitment.Engine
	registry *clients.Registry
	store    *storage.Store
	admin    [20]byte
	log      *slog.Logger

	mu sync.Mutex

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
	rateLimit rate.Limit
	rateBurst int

	httpSrv *http.Server
}

// ServerConfig bundles the collaborators and rate limit settings used to
// construct a Server.
type ServerConfig struct {
	Engine     *commitment.Engine
	Registry   *clients.Registry
	Store      *storage.Store
	Admin      [20]byte
	Logger     *slog.Logger
	RatePerSec float64
	RateBurst  int
}

// NewServer wires the JSON-RPC server.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Limit(cfg.RatePerSec)
	if cfg.RatePerSec <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return &Server{
		engine:    cfg.Engine,
		registry:  cfg.Registry,
		store:     cfg.Store,
		admin:     cfg.Admin,
		log:       logger,
		limiters:  make(map[string]*rate.Limiter),
		rateLimit: limit,
		rateBurst: burst,
	}
}

// Router builds the HTTP mux: JSON-RPC on /rpc, liveness on /healthz and
// Prometheus metrics on /metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Post("/rpc", s.handle)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// Start serves requests on addr until the context is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()
	s.log.Info("rpc server listening", "addr", addr)
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) limiterFor(addr string) *rate.Limiter {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	limiter, ok := s.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(s.rateLimit, s.rateBurst)
		s.limiters[host] = limiter
	}
	return limiter
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if !s.limiterFor(r.RemoteAddr).Allow() {
		requestsThrottled.Inc()
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "failed to read request body", nil)
		return
	}
	if len(body) > maxRequestBytes {
		writeError(w, http.StatusRequestEntityTooLarge, nil, codeInvalidRequest, "request body too large", nil)
		return
	}

	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", nil)
		return
	}
	if req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", nil)
		return
	}

	start := time.Now()
	s.dispatch(w, r, &req)
	requestDuration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
	requestsTotal.WithLabelValues(req.Method).Inc()
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	switch req.Method {
	case "commitment_create":
		s.handleCreate(w, req)
	case "commitment_join":
		s.handleJoin(w, req)
	case "commitment_get":
		s.handleGet(w, req)
	case "commitment_getClaims":
		s.handleGetClaims(w, req)
	case "commitment_isClaimed":
		s.handleIsClaimed(w, req)
	case "commitment_resolveMerkle":
		s.handleResolveMerkle(w, req)
	case "commitment_resolveExplicit":
		s.handleResolveExplicit(w, req)
	case "commitment_resolveDisperse":
		s.handleResolveDisperse(w, req)
	case "commitment_cancel":
		s.handleCancel(w, req)
	case "commitment_emergencyCancel":
		s.handleEmergencyCancel(w, req)
	case "commitment_emergencyWithdraw":
		s.handleEmergencyWithdraw(w, req)
	case "commitment_claimRewards":
		s.handleClaimRewards(w, req)
	case "commitment_claimCreator":
		s.handleClaimCreator(w, req)
	case "commitment_claimCancelled":
		s.handleClaimCancelled(w, req)
	case "commitment_fund":
		s.handleFund(w, req)
	case "commitment_removeFunding":
		s.handleRemoveFunding(w, req)
	case "commitment_fundingPool":
		s.handleFundingPool(w, req)
	case "commitment_withdrawProtocolFees":
		s.handleWithdrawProtocolFees(w, req)
	case "clients_register":
		s.handleClientRegister(w, req)
	case "clients_get":
		s.handleClientGet(w, req)
	case "admin_allowToken":
		s.handleAllowToken(w, req)
	case "admin_disallowToken":
		s.handleDisallowToken(w, req)
	case "admin_setPaused":
		s.handleSetPaused(w, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "unknown method "+req.Method, nil)
	}
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return errExpectedSingleParams
	}
	return json.Unmarshal(req.Params[0], out)
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
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}
