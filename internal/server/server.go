package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"lapscreen/internal/pipeline"
	"lapscreen/internal/storage"
)

// JobQueue is the part of *pipeline.Pipeline the server needs.
type JobQueue interface {
	Submit(job pipeline.Job) (string, error)
	Subscribe() (<-chan pipeline.Result, func())
	QueueDepth() int
}

// Server exposes the job pipeline over HTTP, a websocket feed and the gRPC
// health service.
type Server struct {
	addr     string
	grpcAddr string
	store    *storage.Store
	queue    JobQueue
	log      *slog.Logger
	hub      *hub
	health   *health.Server
	router   *mux.Router
	server   *http.Server
}

// NewServer creates a server. An empty grpcAddr disables the gRPC listener.
func NewServer(addr, grpcAddr string, store *storage.Store, queue JobQueue, log *slog.Logger) *Server {
	s := &Server{
		addr:     addr,
		grpcAddr: grpcAddr,
		store:    store,
		queue:    queue,
		log:      log,
		hub:      newHub(log),
		health:   health.NewServer(),
	}
	s.router = mux.NewRouter()
	s.setupRoutes(s.router)
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler { return s.router }

// Health returns the gRPC health service backing the server.
func (s *Server) Health() *health.Server { return s.health }

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.startBackground(ctx)

	var gs *grpc.Server
	if s.grpcAddr != "" {
		lis, err := net.Listen("tcp", s.grpcAddr)
		if err != nil {
			return err
		}
		gs = s.newGRPCServer()
		go func() {
			if err := gs.Serve(lis); err != nil {
				s.log.Error("gRPC server stopped", "error", err)
			}
		}()
		s.log.Info("gRPC health service listening", "addr", s.grpcAddr)
	}

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		s.log.Info("Shutting down server...")
		s.health.Shutdown()

		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
		if gs != nil {
			gs.GracefulStop()
		}
	}()

	s.log.Info("Server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// startBackground runs the websocket hub and forwards pipeline results to it.
func (s *Server) startBackground(ctx context.Context) {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	go s.hub.run(ctx)
	go s.feed(ctx)
}

func (s *Server) newGRPCServer() *grpc.Server {
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, s.health)
	return gs
}

func (s *Server) feed(ctx context.Context) {
	results, unsubscribe := s.queue.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			payload, err := json.Marshal(newJobEvent(res))
			if err != nil {
				s.log.Warn("encode job event", "job", res.Job.ID, "error", err)
				continue
			}
			s.hub.send(payload)
		}
	}
}

// setupRoutes configures HTTP routes
func (s *Server) setupRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/jobs", s.handleJobs).Methods("GET")
	r.HandleFunc("/jobs", s.handleSubmit).Methods("POST")
	r.HandleFunc("/jobs/{id}", s.handleJob).Methods("GET")
	r.HandleFunc("/jobs/{id}/images", s.handleJobImages).Methods("GET")
	r.HandleFunc("/stream", s.handleJobStream).Methods("GET")
	r.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
	r.HandleFunc("/api/stats", s.handleStats).Methods("GET")
}

// jobEvent is the wire form of a pipeline.Result on /stream and /ws.
type jobEvent struct {
	Type   string         `json:"type"`
	Job    pipeline.Job   `json:"job"`
	Status string         `json:"status"`
	Error  string         `json:"error,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
	Images any            `json:"images,omitempty"`
}

func newJobEvent(res pipeline.Result) jobEvent {
	ev := jobEvent{Type: "job_result", Job: res.Job, Status: "completed", Meta: res.Meta}
	if len(res.Images) > 0 {
		ev.Images = res.Images
	}
	if res.Error != nil {
		ev.Status = "failed"
		ev.Error = res.Error.Error()
	}
	return ev
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "job storage disabled")
		return false
	}
	return true
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	recs, err := s.store.RecentJobs(100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []storage.JobRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	id := mux.Vars(r)["id"]
	rec, err := s.store.Job(id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := struct {
		storage.JobRecord
		Meta map[string]any `json:"meta,omitempty"`
	}{JobRecord: rec}
	if meta, err := s.store.JobMeta(id); err == nil {
		resp.Meta = meta
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJobImages(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	images, err := s.store.ImageResults(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if images == nil {
		images = []storage.ImageResult{}
	}
	writeJSON(w, http.StatusOK, images)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var job pipeline.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		writeError(w, http.StatusBadRequest, "invalid job: "+err.Error())
		return
	}
	switch job.Type {
	case pipeline.JobProcess, pipeline.JobBatch, pipeline.JobExtract, pipeline.JobDetect:
	default:
		writeError(w, http.StatusBadRequest, "unknown job type: "+string(job.Type))
		return
	}
	if job.InputPath == "" && job.Options["files"] == nil {
		writeError(w, http.StatusBadRequest, "input_path is required")
		return
	}

	id, err := s.queue.Submit(job)
	if errors.Is(err, pipeline.ErrQueueFull) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log.Info("job submitted", "job_id", id, "type", job.Type, "input", job.InputPath)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	resCh, unsubscribe := s.queue.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			payload, _ := json.Marshal(newJobEvent(res))
			_, _ = w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}

// statsResponse is served by /api/stats.
type statsResponse struct {
	QueueDepth    int            `json:"queue_depth"`
	Jobs          *storage.Stats `json:"jobs,omitempty"`
	CPUPercent    float64        `json:"cpu_percent"`
	MemoryPercent float64        `json:"memory_percent"`
	MemoryTotal   string         `json:"memory_total,omitempty"`
	Goroutines    int            `json:"goroutines"`
	Timestamp     time.Time      `json:"timestamp"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		QueueDepth: s.queue.QueueDepth(),
		Goroutines: runtime.NumGoroutine(),
		Timestamp:  time.Now(),
	}
	if s.store != nil {
		if st, err := s.store.Stats(); err == nil {
			resp.Jobs = &st
		} else {
			s.log.Warn("job stats unavailable", "error", err)
		}
	}
	if pct, err := cpu.PercentWithContext(r.Context(), 0, false); err == nil && len(pct) > 0 {
		resp.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		resp.MemoryPercent = vm.UsedPercent
		resp.MemoryTotal = humanize.IBytes(vm.Total)
	}
	writeJSON(w, http.StatusOK, resp)
}
