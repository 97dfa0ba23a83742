package middleware

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"
)

const checkTimeout = 2 * time.Second

// Checker reports whether one backend is reachable
type Checker interface {
	Check(ctx context.Context) error
}

type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) Check(ctx context.Context) error { return f(ctx) }

// PingDB checks the connection pool of db
func PingDB(db *sql.DB) Checker {
	return CheckerFunc(db.PingContext)
}

type Component struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Readiness is the /health body. Ready is false when any component failed.
type Readiness struct {
	Ready      bool                 `json:"ready"`
	CheckedAt  time.Time            `json:"checked_at"`
	Components map[string]Component `json:"components"`
}

// ReadyHandler checks every backend in parallel, each under its own timeout,
// and answers 503 unless all of them pass.
func ReadyHandler(checkers map[string]Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep := Readiness{
			Ready:      true,
			CheckedAt:  time.Now().UTC(),
			Components: make(map[string]Component, len(checkers)),
		}

		var (
			mu sync.Mutex
			wg sync.WaitGroup
		)
		for name, c := range checkers {
			wg.Add(1)
			go func(name string, c Checker) {
				defer wg.Done()
				ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
				defer cancel()
				err := c.Check(ctx)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					rep.Ready = false
					rep.Components[name] = Component{Error: err.Error()}
					return
				}
				rep.Components[name] = Component{OK: true}
			}(name, c)
		}
		wg.Wait()

		code := http.StatusOK
		if !rep.Ready {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(rep)
	}
}

func LiveHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok")
}
