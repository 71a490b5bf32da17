package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fabworks/shopfloor/internal/logging"
	"github.com/fabworks/shopfloor/internal/storage"
	"github.com/fabworks/shopfloor/internal/types"
)

// Actor context headers. The adapter extracts the caller identity here;
// the core never reads headers itself.
const (
	HeaderTenant = "X-Shopfloor-Tenant"
	HeaderActor  = "X-Shopfloor-Actor"
	HeaderRole   = "X-Shopfloor-Role"
)

// HTTPServer exposes the RPC server over HTTP POST endpoints.
type HTTPServer struct {
	rpcServer  *Server
	httpServer *http.Server
	listener   net.Listener
	addr       string
	mu         sync.RWMutex
}

// NewHTTPServer wraps an RPC server for the given listen address.
func NewHTTPServer(rpcServer *Server, addr string) *HTTPServer {
	return &HTTPServer{rpcServer: rpcServer, addr: addr}
}

// Start listens and serves until ctx is canceled, then shuts down
// gracefully.
func (h *HTTPServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/rpc", h.handleRPC)

	h.httpServer = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	listener, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", h.addr, err)
	}
	h.mu.Lock()
	h.listener = listener
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.httpServer.Shutdown(shutdownCtx)
	}()

	logging.Logf("http server listening on %s", listener.Addr())
	if err := h.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Addr returns the bound address once listening.
func (h *HTTPServer) Addr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.listener != nil {
		return h.listener.Addr().String()
	}
	return h.addr
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := h.rpcServer.Handle(r.Context(), types.ActorContext{}, &Request{Operation: OpHealth})
	w.Header().Set("Content-Type", "application/json")
	if !resp.Success {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *HTTPServer) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	actor, err := actorFromHeaders(r)
	if err != nil {
		writeError(w, err)
		return
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	var req Request
	if err := dec.Decode(&req); err != nil {
		writeError(w, fmt.Errorf("invalid request body: %s: %w", err, storage.ErrValidation))
		return
	}

	resp := h.rpcServer.Handle(r.Context(), actor, &req)
	status := http.StatusOK
	if !resp.Success {
		status = HTTPStatus(resp.ErrorKind)
		logging.Debugf("rpc %s failed: %s (%s)", req.Operation, resp.Error, resp.ErrorKind)
	}
	writeJSON(w, status, resp)
}

// actorFromHeaders builds the actor context from request headers. Any
// missing or malformed header is an authentication failure.
func actorFromHeaders(r *http.Request) (types.ActorContext, error) {
	tenantRaw := r.Header.Get(HeaderTenant)
	actorRaw := r.Header.Get(HeaderActor)
	role := r.Header.Get(HeaderRole)
	if tenantRaw == "" || actorRaw == "" || role == "" {
		return types.ActorContext{}, fmt.Errorf("missing actor headers: %w",
			storage.ErrUnauthenticated)
	}
	tenantID, err := uuid.Parse(tenantRaw)
	if err != nil {
		return types.ActorContext{}, fmt.Errorf("invalid %s: %w",
			HeaderTenant, storage.ErrUnauthenticated)
	}
	actorID, err := uuid.Parse(actorRaw)
	if err != nil {
		return types.ActorContext{}, fmt.Errorf("invalid %s: %w",
			HeaderActor, storage.ErrUnauthenticated)
	}
	return types.ActorContext{TenantID: tenantID, ActorUserID: actorID, Role: role}, nil
}

func writeError(w http.ResponseWriter, err error) {
	resp := NewErrorResponse(err)
	writeJSON(w, HTTPStatus(resp.ErrorKind), resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, "encoding failure", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
