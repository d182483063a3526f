// Copyright (c) 2026 dotandev
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package daemon serves the optimizer over JSON-RPC 2.0 so build tools
// can call it without starting a process per module.
package daemon

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dotandev/tailrec/internal/driver"
	"github.com/dotandev/tailrec/internal/errors"
	"github.com/dotandev/tailrec/internal/logger"
	"github.com/dotandev/tailrec/internal/tailrec"
	"github.com/dotandev/tailrec/internal/telemetry"
	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
	"go.opentelemetry.io/otel/attribute"
)

// ServiceName prefixes every RPC method, as in "Optimizer.OptimizeClass".
const ServiceName = "Optimizer"

// DefaultHost keeps the daemon off the network unless a host is configured.
const DefaultHost = "127.0.0.1"

// ErrTokenRequired is returned by OptimizeDir on a server started without
// an auth token.
var ErrTokenRequired = fmt.Errorf("%w: OptimizeDir requires the daemon to run with an auth token", errors.ErrUnauthorized)

// Server represents the JSON-RPC daemon server
type Server struct {
	host      string
	authToken string
	version   string
	opts      driver.Options
}

// Config holds daemon configuration
type Config struct {
	// Host is the interface to bind. Empty means DefaultHost.
	Host      string
	Port      string
	AuthToken string
	Version   string
	// Options apply to OptimizeDir calls. Per-call flags override DryRun
	// and Force.
	Options driver.Options
}

// OptimizeClassRequest carries one class file, base64 encoded.
type OptimizeClassRequest struct {
	Name string `json:"name,omitempty"`
	Data string `json:"data"`
}

// OptimizeClassResponse returns the possibly rewritten class.
type OptimizeClassResponse struct {
	Class     string                 `json:"class"`
	Major     uint16                 `json:"major"`
	Changed   bool                   `json:"changed"`
	Rewritten []string               `json:"rewritten,omitempty"`
	Methods   []tailrec.MethodResult `json:"methods"`
	Data      string                 `json:"data"`
}

// OptimizeDirRequest names files or directories on the server's disk.
type OptimizeDirRequest struct {
	Roots  []string `json:"roots"`
	DryRun bool     `json:"dry_run,omitempty"`
	Force  bool     `json:"force,omitempty"`
}

// OptimizeDirResponse summarizes a run.
type OptimizeDirResponse struct {
	RunID     string              `json:"run_id"`
	Rewritten int                 `json:"rewritten"`
	Methods   int                 `json:"methods"`
	Failed    int                 `json:"failed"`
	Files     []driver.FileResult `json:"files"`
}

// NewServer creates a new JSON-RPC server
func NewServer(config Config) *Server {
	host := config.Host
	if host == "" {
		host = DefaultHost
	}
	return &Server{
		host:      host,
		authToken: config.AuthToken,
		version:   config.Version,
		opts:      config.Options,
	}
}

// authenticate validates the authorization token
func (s *Server) authenticate(r *http.Request) bool {
	if s.authToken == "" {
		return true // No auth required
	}

	auth := r.Header.Get("Authorization")
	if auth == "" {
		return false
	}

	// Support "Bearer <token>" format
	if strings.HasPrefix(auth, "Bearer ") {
		token := strings.TrimPrefix(auth, "Bearer ")
		return token == s.authToken
	}

	return auth == s.authToken
}

// OptimizeClass handles Optimizer.OptimizeClass calls. Malformed input is
// reported as a parameter error.
func (s *Server) OptimizeClass(r *http.Request, req *OptimizeClassRequest, resp *OptimizeClassResponse) error {
	if !s.authenticate(r) {
		return errors.ErrUnauthorized
	}

	_, span := telemetry.GetTracer().Start(r.Context(), "rpc_optimize_class")
	span.SetAttributes(attribute.String("class.name", req.Name))
	defer span.End()

	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		return &json2.Error{Code: json2.E_BAD_PARAMS, Message: "data is not valid base64"}
	}
	logger.Logger.Info("Processing OptimizeClass RPC", "name", req.Name, "bytes", len(data))

	res, err := tailrec.Optimize(data)
	if err != nil {
		span.RecordError(err)
		if stderrors.Is(err, errors.ErrMalformedContainer) {
			return &json2.Error{Code: json2.E_BAD_PARAMS, Message: err.Error()}
		}
		return err
	}
	span.SetAttributes(attribute.Int("class.rewritten", len(res.Rewritten())))

	*resp = OptimizeClassResponse{
		Class:     res.Class,
		Major:     res.Major,
		Changed:   res.Changed(),
		Rewritten: res.Rewritten(),
		Methods:   res.Methods,
		Data:      base64.StdEncoding.EncodeToString(res.Output),
	}
	return nil
}

// OptimizeDir handles Optimizer.OptimizeDir calls over paths on the
// server's file system. It rewrites files in place, so it is refused
// unless the server has an auth token.
func (s *Server) OptimizeDir(r *http.Request, req *OptimizeDirRequest, resp *OptimizeDirResponse) error {
	if s.authToken == "" {
		return ErrTokenRequired
	}
	if !s.authenticate(r) {
		return errors.ErrUnauthorized
	}
	if len(req.Roots) == 0 {
		return &json2.Error{Code: json2.E_BAD_PARAMS, Message: "roots cannot be empty"}
	}
	logger.Logger.Info("Processing OptimizeDir RPC", "roots", req.Roots)

	opts := s.opts
	opts.DryRun = req.DryRun
	opts.Force = req.Force
	sum, err := driver.Run(r.Context(), req.Roots, opts)
	if err != nil {
		return err
	}

	*resp = OptimizeDirResponse{
		RunID:     sum.RunID,
		Rewritten: sum.Count(driver.StatusRewritten),
		Methods:   sum.Methods(),
		Failed:    sum.Count(driver.StatusDecodeError) + sum.Count(driver.StatusInternalFault),
		Files:     sum.Files,
	}
	return nil
}

// Handler returns the RPC endpoint at /rpc and a health check at /health.
func (s *Server) Handler() (http.Handler, error) {
	server := rpc.NewServer()
	server.RegisterCodec(json2.NewCodec(), "application/json")

	if err := server.RegisterService(s, ServiceName); err != nil {
		return nil, fmt.Errorf("failed to register service: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/rpc", server)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": s.version})
	})
	return mux, nil
}

// Addr is the listen address for port on the configured host.
func (s *Server) Addr(port string) string {
	return net.JoinHostPort(s.host, port)
}

// Start serves on port until ctx is cancelled.
func (s *Server) Start(ctx context.Context, port string) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}

	addr := s.Addr(port)
	logger.Logger.Info("Starting JSON-RPC server", "addr", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logger.Logger.Error("Server failed", "error", err)
		return err
	case <-ctx.Done():
	}
	logger.Logger.Info("Shutting down JSON-RPC server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
