package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"agenthub.io/internal/auth"
	"agenthub.io/internal/credentials"
	"agenthub.io/internal/gate"
	"agenthub.io/internal/mcpoauth"
	"agenthub.io/internal/obs"
	"agenthub.io/internal/ratelimit"
)

const serviceName = "agenthub-api"

// ReadyProbe checks the backing stores. Nil members are skipped.
type ReadyProbe struct {
	DB    *sql.DB
	Redis redis.UniversalClient
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Deps are the services the HTTP layer dispatches to.
type Deps struct {
	Auth        *auth.Service
	Credentials *credentials.Service
	Gate        *gate.Gate
	// OAuth is optional; without it the MCP OAuth routes answer 503.
	OAuth *mcpoauth.Flow

	LoginLimiter    ratelimit.Limiter
	RegisterLimiter ratelimit.Limiter
	Ready           readinessChecker
}

// Options tune the middleware chain.
type Options struct {
	Version      string
	CORSOrigin   string
	RatePerSec   int
	RateBurst    int
	MaxBodyBytes int64
}

// API is the HTTP layer.
type API struct {
	mux     *http.ServeMux
	deps    Deps
	version string

	corsOrigin   string
	ratePerSec   int
	rateBurst    int
	maxBodyBytes int64
}

// New registers every route. Deps.Auth, Deps.Credentials and Deps.Gate are required.
func New(deps Deps, opts Options) *API {
	if deps.Ready == nil {
		deps.Ready = ReadyProbe{}
	}
	a := &API{
		mux:          http.NewServeMux(),
		deps:         deps,
		version:      opts.Version,
		corsOrigin:   opts.CORSOrigin,
		ratePerSec:   opts.RatePerSec,
		rateBurst:    opts.RateBurst,
		maxBodyBytes: opts.MaxBodyBytes,
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 20
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 40
	}
	if a.maxBodyBytes <= 0 {
		a.maxBodyBytes = 1 << 20
	}

	// health/ready/info
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.routeAuth()
	a.routeAdmin()
	a.routeCredentials()

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "resource not found")
	})
	return a
}

// Handler returns the mux wrapped in the full middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = obs.Instrument(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = CORS(h, a.corsOrigin)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return h
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeErrorWith(w, r, status, code, msg, nil)
}

func writeErrorWith(w http.ResponseWriter, r *http.Request, status int, code, msg string, extra map[string]any) {
	payload := map[string]any{
		"error": msg,
		"code":  code,
	}
	for k, v := range extra {
		payload[k] = v
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, status, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// decodeBody writes a 400 and returns false when the body does not decode into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, dst); err != nil {
		writeErrorWith(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body",
			map[string]any{"details": []string{err.Error()}})
		return false
	}
	return true
}

func pathID(r *http.Request, name string) string {
	return strings.TrimSpace(r.PathValue(name))
}
