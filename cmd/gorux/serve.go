package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caffeineduck/gorux/executor"
	"github.com/caffeineduck/gorux/internal/config"
	"github.com/caffeineduck/gorux/metrics"
	"github.com/caffeineduck/gorux/pthread"
)

// maxModuleBytes bounds an /execute request body.
const maxModuleBytes = 64 << 20

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP server for program execution",
		Long: `Start an HTTP server that runs uploaded WebAssembly programs.

Endpoints:
  POST   /execute   Run a program: {"wasm":"<base64>","args":[...],"env":{...},"timeout":"5s"}
  GET    /health    Health check
  GET    /metrics   Prometheus thread metrics`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	addExecFlags(cmd)
	return cmd
}

type executeRequest struct {
	Wasm       []byte            `json:"wasm"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	Timeout    string            `json:"timeout,omitempty"`
	MaxThreads int               `json:"max_threads,omitempty"`
}

type threadStats struct {
	Created   uint64 `json:"created"`
	Joined    uint64 `json:"joined"`
	Detached  uint64 `json:"detached"`
	Cancelled uint64 `json:"cancelled"`
	Faulted   uint64 `json:"faulted"`
}

type executeResponse struct {
	Output     string      `json:"output"`
	DurationMs int64       `json:"duration_ms"`
	ExitCode   uint32      `json:"exit_code"`
	Threads    threadStats `json:"threads"`
	Error      string      `json:"error,omitempty"`
}

// server runs every /execute request on one shared executor and reports
// thread events to one collector.
type server struct {
	exec      *executor.Executor
	cfg       *config.Config
	collector *metrics.Collector
	gatherer  prometheus.Gatherer
	log       *zap.Logger
}

func newServer(exec *executor.Executor, cfg *config.Config, log *zap.Logger) (*server, error) {
	collector := metrics.New()
	reg := prometheus.NewRegistry()
	if err := collector.Register(reg); err != nil {
		return nil, err
	}
	return &server{exec: exec, cfg: cfg, collector: collector, gatherer: reg, log: log}, nil
}

func (s *server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/execute", s.handleExecute)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

func (s *server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req executeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxModuleBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if len(req.Wasm) == 0 {
		http.Error(w, "wasm required", http.StatusBadRequest)
		return
	}

	timeout := s.cfg.Timeout
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid timeout: %v", err), http.StatusBadRequest)
			return
		}
		timeout = d
	}
	maxThreads := s.cfg.MaxThreads
	if req.MaxThreads > 0 {
		if req.MaxThreads > pthread.MaxThreadsLimit {
			http.Error(w, fmt.Sprintf("max_threads above %d", pthread.MaxThreadsLimit), http.StatusBadRequest)
			return
		}
		maxThreads = req.MaxThreads
	}

	runOpts := []executor.Option{
		executor.WithTimeout(timeout),
		executor.WithMaxThreads(maxThreads),
		executor.WithStackSize(s.cfg.StackSize),
		executor.WithObserver(s.collector),
	}
	if len(req.Args) > 0 {
		runOpts = append(runOpts, executor.WithArgs(req.Args...))
	}
	for k, v := range s.cfg.Env {
		runOpts = append(runOpts, executor.WithEnv(k, v))
	}
	for k, v := range req.Env {
		runOpts = append(runOpts, executor.WithEnv(k, v))
	}

	result := s.exec.Run(r.Context(), executor.Program{Name: "request", Wasm: req.Wasm}, runOpts...)

	resp := executeResponse{
		Output:     result.Output,
		DurationMs: result.Duration.Milliseconds(),
		ExitCode:   result.ExitCode,
		Threads: threadStats{
			Created:   result.Threads.Created,
			Joined:    result.Threads.Joined,
			Detached:  result.Threads.Detached,
			Cancelled: result.Threads.Cancelled,
			Faulted:   result.Threads.Faulted,
		},
	}
	if result.Error != nil {
		resp.Error = result.Error.Error()
		s.log.Debug("execute failed", zap.Error(result.Error))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	exec, err := newExecutor(cfg, log)
	if err != nil {
		return err
	}
	defer exec.Close()

	srv, err := newServer(exec, cfg, log)
	if err != nil {
		return err
	}

	port, _ := cmd.Flags().GetInt("port")
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           srv.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go func() {
		<-ctx.Done()
		httpSrv.Close()
	}()

	log.Info("gorux server listening", zap.String("addr", httpSrv.Addr))
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
