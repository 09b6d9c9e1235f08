package main

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"marketdata/internal/aggregate"
	"marketdata/internal/config"
	"marketdata/internal/engine"
	"marketdata/internal/metrics"
	"marketdata/internal/series"
)

const (
	maxSymbols = 1000
	maxBody    = 1 << 20
)

type api struct {
	eng     *engine.Engine
	log     *zap.Logger
	timeout time.Duration
}

func (a *api) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, a.logRequests, a.recoverPanic)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	// promhttp negotiates gzip itself, so /metrics stays outside Compress.
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(allowCORS, middleware.RequestSize(maxBody), middleware.Compress(gzip.BestSpeed, "application/json"))
		r.Get("/series", a.getSeries)
		r.Post("/batch", a.postBatch)
		r.Get("/pair", a.getPair)
		r.Get("/latest", a.getLatest)
		r.Get("/matrix", a.getMatrix)
		r.Post("/update", a.postUpdate)
	})
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

type batchRequest struct {
	Symbols  []string `json:"symbols"`
	Interval string   `json:"interval"`
	Force    bool     `json:"force"`
}

type batchResponse struct {
	Succeeded map[string]*series.TimeSeries `json:"succeeded"`
	Failed    map[string]string             `json:"failed"`
	Total     int                           `json:"total"`
}

type updateRequest struct {
	Groups []engine.Group `json:"groups"`
}

type groupSummary struct {
	Name      string   `json:"name"`
	Interval  string   `json:"interval"`
	Succeeded int      `json:"succeeded"`
	Failed    []string `json:"failed"`
}

func (a *api) getSeries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := strings.TrimSpace(q.Get("symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing symbol query param"))
		return
	}
	iv, err := interval(q.Get("interval"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	start, err := parseTime(q.Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("start: %w", err))
		return
	}
	end, err := parseTime(q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("end: %w", err))
		return
	}

	ctx, cancel := a.requestContext(r)
	defer cancel()
	var ts *series.TimeSeries
	if start.IsZero() && end.IsZero() {
		ts, err = a.eng.FetchSingle(ctx, symbol, iv, boolParam(q.Get("force")))
	} else {
		ts, err = a.eng.Window(ctx, symbol, iv, start, end, boolParam(q.Get("force")))
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

func (a *api) postBatch(w http.ResponseWriter, r *http.Request) {
	var b batchRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid JSON body"))
		return
	}
	if len(b.Symbols) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("symbols cannot be empty"))
		return
	}
	if len(b.Symbols) > maxSymbols {
		writeError(w, http.StatusBadRequest, fmt.Errorf("too many symbols (max %d)", maxSymbols))
		return
	}
	iv, err := interval(b.Interval)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := a.requestContext(r)
	defer cancel()
	res := a.eng.ProcessBatch(ctx, b.Symbols, iv, b.Force)
	resp := batchResponse{Succeeded: res.Succeeded, Failed: make(map[string]string, len(res.Failed)), Total: res.Total()}
	for sym, err := range res.Failed {
		resp.Failed[sym] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) getPair(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	base, quote := strings.TrimSpace(q.Get("base")), strings.TrimSpace(q.Get("quote"))
	if base == "" || quote == "" {
		writeError(w, http.StatusBadRequest, errors.New("base and quote are required"))
		return
	}
	iv, err := interval(q.Get("interval"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := a.requestContext(r)
	defer cancel()
	ts, err := a.eng.RatePair(ctx, base, quote, iv, boolParam(q.Get("force")))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

func (a *api) getLatest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := strings.TrimSpace(q.Get("symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing symbol query param"))
		return
	}

	ctx, cancel := a.requestContext(r)
	defer cancel()
	latest, err := a.eng.LatestBar(ctx, symbol, q.Get("quote"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

func (a *api) getMatrix(w http.ResponseWriter, r *http.Request) {
	currencies := config.SplitCSV(r.URL.Query().Get("currencies"))
	if len(currencies) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("missing currencies query param"))
		return
	}
	writeJSON(w, http.StatusOK, aggregate.RateMatrix(r.Context(), a.eng.Cache(), currencies))
}

// postUpdate runs the given groups, or the default refresh plan when none
// are posted, and answers with per-group counts.
func (a *api) postUpdate(w http.ResponseWriter, r *http.Request) {
	var b updateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, errors.New("invalid JSON body"))
			return
		}
	}
	groups := b.Groups
	if len(groups) == 0 {
		groups = engine.DefaultGroups(a.eng.Tables())
	}

	ctx, cancel := a.requestContext(r)
	defer cancel()
	out := make([]groupSummary, 0, len(groups))
	for _, g := range a.eng.UpdateGroups(ctx, groups) {
		out = append(out, groupSummary{
			Name:      g.Group.Name,
			Interval:  g.Group.Interval.String(),
			Succeeded: len(g.Result.Succeeded),
			Failed:    g.Result.FailedSymbols(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), a.timeout)
}

// statusFor maps a timed-out request to 504, engine failures to 502 and
// everything else, which at this point can only be bad input, to 400.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, engine.ErrExhausted),
		errors.Is(err, engine.ErrSynthesisImpossible),
		errors.Is(err, engine.ErrPriceUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}

func interval(s string) (series.Interval, error) {
	if strings.TrimSpace(s) == "" {
		return series.Interval1d, nil
	}
	return series.ParseInterval(s)
}

// parseTime accepts RFC 3339 or a bare date; empty is the zero time.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, s)
}

func boolParam(s string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(s))
	return b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (a *api) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		a.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(started)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// allowCORS answers preflight requests and lets browsers read /api.
func allowCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *api) recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				a.log.Error("handler panic", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, errors.New("internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
