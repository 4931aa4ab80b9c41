package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"tierkv/pkg/checkpoint"
	"tierkv/pkg/common"
	"tierkv/pkg/core"
	"tierkv/pkg/evict"
	"tierkv/pkg/monitor"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Options wires optional collaborators into the HTTP server.
type Options struct {
	Checkpointer *checkpoint.Checkpointer
	Evictor      *evict.Manager
	Logger       *zap.Logger
}

type Server struct {
	store   core.Storage
	ckpt    *checkpoint.Checkpointer
	evictor *evict.Manager
	metrics *monitor.Metrics
	logger  *zap.Logger
	router  chi.Router

	httpServer *http.Server
}

func NewServer(store core.Storage, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:   store,
		ckpt:    opts.Checkpointer,
		evictor: opts.Evictor,
		metrics: monitor.NewMetrics(store.Stats(), gaugesFor(store)),
		logger:  logger,
		router:  chi.NewRouter(),
	}
	s.routes()
	return s
}

func gaugesFor(store core.Storage) monitor.Gauges {
	alloc := store.Allocator()
	g := monitor.Gauges{
		HotKeys:      func() float64 { return float64(store.SizeAt(common.TierHot)) },
		ValueBytes:   func() float64 { return float64(alloc.InUse()) },
		LiveHandles:  func() float64 { return float64(alloc.Live()) },
		PendingFrees: func() float64 { return float64(store.PendingFrees()) },
	}
	if store.UsesPersistentStorage() {
		g.ColdKeys = func() float64 { return float64(store.SizeAt(common.TierCold)) }
	}
	return g
}

func (s *Server) routes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/get", s.handleGet)
		r.Post("/put", s.handlePut)
		r.Delete("/keys/{key}", s.handleDelete)
		r.Get("/keys/{key}/tier", s.handleTier)
		r.Get("/scan", s.handleScan)
		r.Post("/evict", s.handleEvict)
		r.Post("/checkpoint", s.handleCheckpoint)
		r.Get("/stats", s.handleStats)
	})
	s.router.Handle("/metrics", s.metrics.Handler())
}

// Handler exposes the router for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.logger.Info("http listening", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func parseKey(s string) (common.KeyType, error) {
	k, err := strconv.ParseInt(s, 10, 64)
	return common.KeyType(k), err
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key, err := parseKey(r.URL.Query().Get("key"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid key")
		return
	}

	start := time.Now()
	val, err := core.Read(s.store, key)
	duration := time.Since(start)

	if errors.Is(err, common.ErrNotFound) {
		writeError(w, http.StatusNotFound, "key not found")
		return
	}
	if err != nil {
		s.logger.Error("get failed", zap.Int64("key", int64(key)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"key":        key,
		"value":      string(val),
		"found":      true,
		"latency_ns": duration.Nanoseconds(),
	})
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key   int64  `json:"key"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	err := s.store.Put(common.KeyType(req.Key), []byte(req.Value))
	switch {
	case errors.Is(err, common.ErrSlotTooSmall):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "key": req.Key})
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key, err := parseKey(chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid key")
		return
	}
	if err := s.store.Remove(key); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "key": key})
}

func (s *Server) handleTier(w http.ResponseWriter, r *http.Request) {
	key, err := parseKey(chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid key")
		return
	}
	tier := s.store.LookupTier(key)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"key":  key,
		"tier": int(tier),
		"name": tier.String(),
	})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := parseKey(q.Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start")
		return
	}
	end, err := parseKey(q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end")
		return
	}

	records, err := core.Scan(s.store, start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type row struct {
		Key   int64  `json:"key"`
		Value string `json:"value"`
	}
	rows := make([]row, len(records))
	for i, rec := range records {
		rows[i] = row{Key: int64(rec.Key), Value: string(rec.Value)}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"count": len(rows), "records": rows})
}

// handleEvict demotes the listed keys, or runs one capacity cycle of the
// eviction manager when no keys are given.
func (s *Server) handleEvict(w http.ResponseWriter, r *http.Request) {
	mt, ok := s.store.(core.MultiTier)
	if !ok {
		writeError(w, http.StatusNotImplemented, "store has no tier to evict into")
		return
	}

	var req struct {
		Keys []int64 `json:"keys"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	if len(req.Keys) == 0 {
		if s.evictor == nil {
			writeError(w, http.StatusBadRequest, "no keys given and no eviction manager configured")
			return
		}
		n, err := s.evictor.RunOnce(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"evicted": n})
		return
	}

	keys := make([]common.KeyType, len(req.Keys))
	for i, k := range req.Keys {
		keys[i] = common.KeyType(k)
	}
	before := mt.SizeAt(common.TierHot)
	if err := mt.Eviction(keys); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"evicted": before - mt.SizeAt(common.TierHot)})
}

func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	if s.ckpt == nil {
		writeError(w, http.StatusNotImplemented, "checkpointing not configured")
		return
	}
	var req struct {
		Step int64 `json:"step"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	st, err := s.ckpt.Save(req.Step)
	if err != nil {
		s.logger.Error("checkpoint failed", zap.Int64("step", req.Step), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	alloc := s.store.Allocator()
	resp := map[string]interface{}{
		"kind":          s.store.Kind().String(),
		"size":          s.store.Size(),
		"hot_size":      s.store.SizeAt(common.TierHot),
		"cold_size":     s.store.SizeAt(common.TierCold),
		"hot_hit_ratio": s.store.Stats().HotHitRatio(),
		"counters":      s.store.Stats().Snapshot(),
		"value_bytes":   alloc.InUse(),
		"live_handles":  alloc.Live(),
		"pending_frees": s.store.PendingFrees(),
	}
	if s.evictor != nil {
		resp["eviction"] = s.evictor.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}
