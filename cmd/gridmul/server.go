package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-gridmul/internal/device"
	"github.com/23skdu/longbow-gridmul/internal/export"
	"github.com/23skdu/longbow-gridmul/internal/grid"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridmul_requests_total",
		Help: "Multiply requests by HTTP status code",
	}, []string{"code"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gridmul_request_duration_seconds",
		Help:    "Time spent processing multiply requests",
		Buckets: prometheus.DefBuckets,
	})
)

// mulRequest is the CBOR body of POST /multiply.
type mulRequest struct {
	A [][]float64 `cbor:"a"`
	B [][]float64 `cbor:"b"`
}

// defaultMaxBody caps a /multiply request body. Two 1000x1000 operands
// encode to roughly 18MB of CBOR.
const defaultMaxBody = 32 << 20

type Server struct {
	lib     device.Library
	sem     *semaphore.Weighted
	maxBody int64
}

func NewServer(lib device.Library, maxConcurrent int) *Server {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Server{
		lib:     lib,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		maxBody: defaultMaxBody,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/multiply", s.handleMultiply)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func startServer(addr string, lib device.Library, maxConcurrent int) error {
	srv := newHTTPServer(addr, NewServer(lib, maxConcurrent).Handler())

	log.Info().Str("addr", addr).Str("library", lib.Name()).Msg("Starting gridmul server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

var tracer = otel.Tracer("gridmul-server")

// statusFor maps grid errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, grid.ErrDimensionMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, device.ErrInvalidShape):
		return http.StatusBadRequest
	case errors.Is(err, grid.ErrAllocation):
		return http.StatusInsufficientStorage
	case errors.Is(err, grid.ErrIndexOutOfBounds):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, code int, msg string) {
	requestsTotal.WithLabelValues(fmt.Sprint(code)).Inc()
	http.Error(w, msg, code)
}

func (s *Server) handleMultiply(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleMultiply")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		s.fail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		span.RecordError(err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.fail(w, http.StatusBadRequest, fmt.Sprintf("Bad Request (read): %v", err))
		return
	}

	var req mulRequest
	if err := cbor.Unmarshal(body, &req); err != nil {
		span.RecordError(err)
		s.fail(w, http.StatusBadRequest, fmt.Sprintf("Bad Request (CBOR decode): %v", err))
		return
	}

	// Admission Control
	if err := s.sem.Acquire(ctx, 1); err != nil {
		log.Error().Err(err).Msg("Failed to acquire semaphore")
		s.fail(w, http.StatusServiceUnavailable, "Server busy")
		return
	}
	defer s.sem.Release(1)

	a, err := grid.FromRows(s.lib, req.A)
	if err != nil {
		span.RecordError(err)
		s.fail(w, statusFor(err), fmt.Sprintf("a: %v", err))
		return
	}
	defer a.Close()

	b, err := grid.FromRows(s.lib, req.B)
	if err != nil {
		span.RecordError(err)
		s.fail(w, statusFor(err), fmt.Sprintf("b: %v", err))
		return
	}
	defer b.Close()

	c, err := grid.MulContext(ctx, a, b)
	if err != nil {
		span.RecordError(err)
		log.Debug().Err(err).Msg("Multiply rejected")
		s.fail(w, statusFor(err), err.Error())
		return
	}
	defer c.Close()

	doc, err := export.Snapshot("a*b", c)
	if err != nil {
		span.RecordError(err)
		s.fail(w, statusFor(err), err.Error())
		return
	}

	span.SetAttributes(
		attribute.Int("rows", doc.Rows),
		attribute.Int("cols", doc.Cols),
	)

	out, err := cbor.Marshal(doc)
	if err != nil {
		span.RecordError(err)
		s.fail(w, http.StatusInternalServerError, err.Error())
		return
	}

	requestsTotal.WithLabelValues(fmt.Sprint(http.StatusOK)).Inc()
	w.Header().Set("Content-Type", "application/cbor")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
