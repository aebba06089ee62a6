package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/alecthomas/units"
	"github.com/canopy-network/metanode/controller"
	"github.com/canopy-network/metanode/lib"
	"github.com/canopy-network/metanode/store"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
)

const (
	colon = ":"

	SoftwareVersion = "0.1.0-alpha"
	ContentType     = "Content-Type"
	ApplicationJSON = "application/json; charset=utf-8"
	localhost       = "localhost"
)

// Server serves the query and admin apis of a localnet
type Server struct {
	net     *controller.Localnet
	config  lib.Config
	servers []*http.Server
	logger  lib.LoggerI
	sync.Mutex
}

// NewServer constructs and returns a new RPC server
func NewServer(net *controller.Localnet, config lib.Config, logger lib.LoggerI) *Server {
	return &Server{net: net, config: config, logger: logger}
}

// Start runs the query and admin servers in the background
func (s *Server) Start() {
	go s.startRPC(createRouter(s), s.config.RPCPort)
	go s.startRPC(createAdminRouter(s), s.config.AdminPort)
}

// Stop gracefully shuts the servers down
func (s *Server) Stop(ctx context.Context) {
	s.Lock()
	defer s.Unlock()
	for _, srv := range s.servers {
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Errorf("RPC server at %s failed to shut down: %s", srv.Addr, err.Error())
		}
	}
	s.servers = nil
}

// startRPC starts an RPC server with the provided router and port
func (s *Server) startRPC(router *httprouter.Router, port string) {
	srv := &http.Server{Addr: colon + port, Handler: s.handler(router)}
	s.Lock()
	s.servers = append(s.servers, srv)
	s.Unlock()
	s.logger.Infof("Starting RPC server at 0.0.0.0:%s", port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Fatal(err.Error())
	}
}

// handler wraps the router with the CORS policy and the request timeout
func (s *Server) handler(router *httprouter.Router) http.Handler {
	cor := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS", "POST"},
	})
	timeout := time.Duration(s.config.TimeoutS) * time.Second
	return cor.Handler(http.TimeoutHandler(router, timeout, ErrServerTimeout().Error()))
}

// node resolves the localnet validator a request addresses
func (s *Server) node(w http.ResponseWriter, index int) (*controller.Controller, bool) {
	if index < 0 || index >= len(s.net.Nodes) {
		write(w, ErrUnknownNode(index, len(s.net.Nodes)), http.StatusBadRequest)
		return nil, false
	}
	return s.net.Nodes[index], true
}

// unmarshal reads a json request body of at most one megabyte. An empty body leaves ptr untouched
func unmarshal(w http.ResponseWriter, r *http.Request, ptr interface{}) bool {
	defer func() { _ = r.Body.Close() }()
	bz, err := io.ReadAll(io.LimitReader(r.Body, int64(units.MB)))
	if err != nil {
		write(w, ErrInvalidParams(err), http.StatusBadRequest)
		return false
	}
	if len(bz) == 0 {
		return true
	}
	if err = json.Unmarshal(bz, ptr); err != nil {
		write(w, ErrInvalidParams(err), http.StatusBadRequest)
		return false
	}
	return true
}

// writeQueryError maps a failed store lookup to 404 and anything else to 500
func writeQueryError(w http.ResponseWriter, err lib.ErrorI) {
	if errors.Is(err, store.ErrNotFound("")) {
		write(w, err, http.StatusNotFound)
		return
	}
	write(w, err, http.StatusInternalServerError)
}

// write marshaled payload to w
func write(w http.ResponseWriter, payload interface{}, code int) {
	w.Header().Set(ContentType, ApplicationJSON)
	w.WriteHeader(code)
	bz, _ := json.MarshalIndent(payload, "", "  ")
	_, _ = w.Write(bz)
}
