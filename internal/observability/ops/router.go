package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"learnbyemail/internal/content"
	"learnbyemail/internal/delivery"
	"learnbyemail/internal/receipts"
	"learnbyemail/internal/storage"
	"learnbyemail/internal/task/engine"
	logx "learnbyemail/pkg/logx"
)

type Store interface {
	Ping(ctx context.Context) error
	GetSubscription(ctx context.Context, id int64) (storage.Subscription, error)
}

type Jobs interface {
	Snapshot() []delivery.JobInfo
	TriggerNow(id int64) error
}

type EngineSnapshotter interface {
	Snapshot() engine.Snapshot
}

type ReceiptGetter interface {
	Get(ctx context.Context, subscriptionID int64) (receipts.Receipt, error)
}

// Deps are the components the routes read from. Nil members disable the
// routes that need them.
type Deps struct {
	Store    Store
	Jobs     Jobs
	Engine   EngineSnapshotter
	Receipts ReceiptGetter
	Preview  content.Provider
	// Ready holds extra readiness checks keyed by name (e.g. "redis").
	Ready map[string]func(context.Context) error
}

type jobsResponse struct {
	Jobs   []delivery.JobInfo `json:"jobs"`
	Engine *engine.Snapshot   `json:"engine,omitempty"`
}

func NewRouter(d Deps, token string, log logx.Logger) http.Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLog(log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(withAuth(token))
		r.Get("/readyz", d.readyz)
		r.Get("/jobs", d.jobs)
		r.Post("/subscriptions/{id}/deliver", d.deliver)
		r.Get("/subscriptions/{id}/receipt", d.receipt)
		r.Get("/preview", d.preview)
		r.Mount("/debug", middleware.Profiler())
	})
	return r
}

func (d Deps) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]string{}
	ok := true
	check := func(name string, fn func(context.Context) error) {
		if err := fn(ctx); err != nil {
			status[name] = err.Error()
			ok = false
			return
		}
		status[name] = "ok"
	}
	if d.Store != nil {
		check("storage", d.Store.Ping)
	}
	for name, fn := range d.Ready {
		check(name, fn)
	}
	code := http.StatusOK
	if !ok {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (d Deps) jobs(w http.ResponseWriter, _ *http.Request) {
	if d.Jobs == nil {
		http.Error(w, "scheduler not configured", http.StatusServiceUnavailable)
		return
	}
	resp := jobsResponse{Jobs: d.Jobs.Snapshot()}
	if d.Engine != nil {
		snap := d.Engine.Snapshot()
		resp.Engine = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d Deps) deliver(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriptionID(w, r)
	if !ok {
		return
	}
	if d.Jobs == nil || d.Store == nil {
		http.Error(w, "scheduler not configured", http.StatusServiceUnavailable)
		return
	}
	if _, err := d.Store.GetSubscription(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "subscription not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	switch err := d.Jobs.TriggerNow(id); {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]any{"subscription_id": id, "queued": true})
	case errors.Is(err, engine.ErrOverlapSkip):
		http.Error(w, "delivery already queued or running", http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	}
}

func (d Deps) receipt(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriptionID(w, r)
	if !ok {
		return
	}
	if d.Receipts == nil {
		http.Error(w, "receipts disabled", http.StatusNotFound)
		return
	}
	rc, err := d.Receipts.Get(r.Context(), id)
	switch {
	case errors.Is(err, receipts.ErrNotFound):
		http.Error(w, "no receipt", http.StatusNotFound)
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		writeJSON(w, http.StatusOK, rc)
	}
}

func (d Deps) preview(w http.ResponseWriter, r *http.Request) {
	if d.Preview == nil {
		http.Error(w, "content provider not configured", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query()
	html, err := d.Preview.Generate(r.Context(), content.Request{
		Topic:      q.Get("topic"),
		Difficulty: q.Get("difficulty"),
		Preview:    true,
	})
	switch {
	case errors.Is(err, content.ErrInvalidTopic):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(html))
	}
}

func subscriptionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid subscription id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func withAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("token")
			if got == "" {
				if ah, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
					got = strings.TrimSpace(ah)
				}
			}
			if got != tok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLog(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("ops request",
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", ww.Status()),
				logx.Duration("took", time.Since(start)),
			)
		})
	}
}
