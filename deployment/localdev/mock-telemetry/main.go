package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

type view struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type graphPoint struct {
	Time        time.Time `json:"time"`
	AvgTime     float64   `json:"avg_time"`
	Invocations int64     `json:"invocations"`
}

type graph struct {
	Namespace string       `json:"namespace"`
	Member    string       `json:"member"`
	Points    []graphPoint `json:"points"`
}

type entryPoint struct {
	Namespace string `json:"namespace"`
	Member    string `json:"member"`
}

type event struct {
	ID         int        `json:"id"`
	Summary    string     `json:"summary"`
	Labels     []string   `json:"labels"`
	EntryPoint entryPoint `json:"entry_point"`
}

type timer struct {
	ID        int    `json:"id"`
	Namespace string `json:"namespace"`
	Member    string `json:"member"`
	Threshold int64  `json:"threshold"`
	Enabled   bool   `json:"enabled"`
}

// transaction seeds one entry point with its baseline and current latency.
type transaction struct {
	namespace string
	member    string
	baseline  float64
	active    float64
}

var transactions = []transaction{
	{namespace: "com.shop.Checkout", member: "submit", baseline: 120, active: 260},
	{namespace: "com.shop.Cart", member: "add", baseline: 40, active: 58},
	{namespace: "com.shop.Search", member: "query", baseline: 80, active: 82},
}

type store struct {
	mu     sync.Mutex
	timers map[int]*timer
	labels map[string]bool
	events []event
	nextID int
}

func newStore() *store {
	return &store{
		timers: map[int]*timer{
			7: {ID: 7, Namespace: "com.shop.Search", Member: "query", Threshold: 95, Enabled: true},
		},
		labels: map[string]bool{"Slowing": true},
		events: []event{
			{ID: 101, Summary: "Slow checkout", EntryPoint: entryPoint{Namespace: "com.shop.Checkout", Member: "submit"}},
			{ID: 102, Summary: "Cart latency", Labels: []string{"Critical"}, EntryPoint: entryPoint{Namespace: "com.shop.Cart", Member: "add"}},
		},
		nextID: 100,
	}
}

func main() {
	s := newStore()
	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	api := router.PathPrefix("/api/v1/services/{service}").Subrouter()
	api.HandleFunc("/views", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"views": []view{{ID: 1, Name: "All Events"}, {ID: 2, Name: "My Timers"}}})
	}).Methods(http.MethodGet)
	api.HandleFunc("/transactions/graph", s.handleGraph).Methods(http.MethodPost)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodPost)
	api.HandleFunc("/timers", s.handleListTimers).Methods(http.MethodGet)
	api.HandleFunc("/timers", s.handleCreateTimer).Methods(http.MethodPost)
	api.HandleFunc("/timers/{id:[0-9]+}", s.handleUpdateTimer).Methods(http.MethodPost)
	api.HandleFunc("/timers/{id:[0-9]+}/toggle", s.handleToggleTimer).Methods(http.MethodPost)
	api.HandleFunc("/redaction/exclude", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"packages": []string{"com.shop.internal"}, "classes": []string{}})
	}).Methods(http.MethodGet)
	api.HandleFunc("/labels", s.handleCreateLabel).Methods(http.MethodPost)
	api.HandleFunc("/labels/batch", acceptJSON).Methods(http.MethodPost)
	api.HandleFunc("/events/force-snapshots", acceptJSON).Methods(http.MethodPost)

	logger := log.New(log.Writer(), "telemetry-mock ", log.LstdFlags|log.Lmicroseconds)
	router.Use(func(next http.Handler) http.Handler { return logRequests(logger, next) })
	srv := &http.Server{
		Addr:    ":8080",
		Handler: router,
	}

	logger.Println("listening on :8080")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func (s *store) handleGraph(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From   time.Time `json:"from"`
		To     time.Time `json:"to"`
		Points int       `json:"points"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Points <= 0 {
		req.Points = 1
	}
	active := req.To.Sub(req.From) <= 2*time.Hour
	step := req.To.Sub(req.From) / time.Duration(req.Points)

	graphs := make([]graph, 0, len(transactions))
	for _, tx := range transactions {
		avg := tx.baseline
		if active {
			avg = tx.active
		}
		g := graph{Namespace: tx.namespace, Member: tx.member}
		for i := 0; i < req.Points; i++ {
			jitter := float64(i%3) - 1
			g.Points = append(g.Points, graphPoint{
				Time:        req.From.Add(time.Duration(i) * step),
				AvgTime:     avg + jitter*avg*0.05,
				Invocations: 40,
			})
		}
		graphs = append(graphs, g)
	}
	writeJSON(w, map[string]any{"graphs": graphs})
}

func (s *store) handleEvents(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, map[string]any{"events": s.events})
}

func (s *store) handleListTimers(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]timer, 0, len(s.timers))
	for _, t := range s.timers {
		out = append(out, *t)
	}
	writeJSON(w, map[string]any{"timers": out})
}

func (s *store) handleCreateTimer(w http.ResponseWriter, r *http.Request) {
	var t timer
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	t.ID = s.nextID
	t.Enabled = true
	s.timers[t.ID] = &t
	writeJSON(w, t)
}

func (s *store) handleUpdateTimer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Threshold int64 `json:"threshold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.withTimer(w, r, func(t *timer) { t.Threshold = req.Threshold })
}

func (s *store) handleToggleTimer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enable bool `json:"enable"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.withTimer(w, r, func(t *timer) { t.Enabled = req.Enable })
}

func (s *store) withTimer(w http.ResponseWriter, r *http.Request, fn func(*timer)) {
	id, _ := strconv.Atoi(mux.Vars(r)["id"])
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[id]
	if !ok {
		http.Error(w, "timer not found", http.StatusNotFound)
		return
	}
	fn(t)
	writeJSON(w, t)
}

func (s *store) handleCreateLabel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "name required", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.labels[req.Name] {
		http.Error(w, "label exists", http.StatusConflict)
		return
	}
	s.labels[req.Name] = true
	w.WriteHeader(http.StatusCreated)
}

func acceptJSON(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
