package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/23skdu/longbow-gridmul/internal/device"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

var (
	kernelName    = flag.String("kernel", "blas", "Multiply kernel (blas, naive)")
	allocatorName = flag.String("allocator", "go", "Buffer allocator (go, malloc)")
	flagMaxAlloc  = flag.String("max-alloc", "1GB", "Largest single grid allocation (e.g. 1GB, 512MB; 0 disables the limit)")
	outputFormat  = flag.String("format", "text", "Output format: text, arrow or cbor")
	listenAddr    = flag.String("listen", "", "Address to listen on for HTTP Server (e.g. :8080)")
	maxConcurrent = flag.Int("max-concurrent", 64, "Maximum number of concurrent multiply requests")
	enableOTel    = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	dumpMetrics   = flag.Bool("metrics", false, "Log a metrics snapshot before exiting")
	logLevel      = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
)

// parseBytes reads a byte count such as 1024, 4KB, 512MB or 1GB. Units are
// binary and case-insensitive. "" and "0" mean no limit.
func parseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}

	digits := 0
	for digits < len(s) && s[digits] >= '0' && s[digits] <= '9' {
		digits++
	}
	if digits == 0 {
		return 0, fmt.Errorf("invalid size %q: want a non-negative whole number with an optional unit", s)
	}
	val, err := strconv.ParseInt(s[:digits], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	var mult int64
	switch unit := strings.ToUpper(s[digits:]); unit {
	case "", "B":
		mult = 1
	case "KB", "K":
		mult = 1 << 10
	case "MB", "M":
		mult = 1 << 20
	case "GB", "G":
		mult = 1 << 30
	case "TB", "T":
		mult = 1 << 40
	default:
		return 0, fmt.Errorf("invalid size %q: unknown unit %q", s, s[digits:])
	}
	if val > math.MaxInt64/mult {
		return 0, fmt.Errorf("invalid size %q: overflows int64", s)
	}
	return val * mult, nil
}

func newLibrary(allocator, kernel string, maxBytes int64) (*device.HostLibrary, error) {
	mem, err := device.NewAllocator(allocator)
	if err != nil {
		return nil, err
	}
	k, ok := device.KernelByName(kernel)
	if !ok {
		return nil, fmt.Errorf("unknown kernel: %s", kernel)
	}
	return device.NewHostLibrary(mem, k, maxBytes), nil
}

type config struct {
	kernel        string
	allocator     string
	maxAlloc      string
	format        string
	listen        string
	maxConcurrent int
	otel          bool
	metrics       bool
}

// newTracer installs the global tracer provider and returns its shutdown.
var newTracer = initTracer

func main() {
	// Initialize logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal().Err(err).Str("level", *logLevel).Msg("Invalid log level")
	}
	zerolog.SetGlobalLevel(level)

	cfg := config{
		kernel:        *kernelName,
		allocator:     *allocatorName,
		maxAlloc:      *flagMaxAlloc,
		format:        *outputFormat,
		listen:        *listenAddr,
		maxConcurrent: *maxConcurrent,
		otel:          *enableOTel,
		metrics:       *dumpMetrics,
	}
	// execute returns before the process exits so deferred cleanup,
	// tracer flushing included, runs on failure too.
	if err := execute(context.Background(), cfg, os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("gridmul failed")
	}
}

func execute(ctx context.Context, cfg config, stdout io.Writer) error {
	maxAllocBytes, err := parseBytes(cfg.maxAlloc)
	if err != nil {
		return fmt.Errorf("-max-alloc: %w", err)
	}

	if cfg.otel {
		shutdown, err := newTracer()
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Warn().Err(err).Msg("Failed to shut down tracer")
			}
		}()
	}

	lib, err := newLibrary(cfg.allocator, cfg.kernel, maxAllocBytes)
	if err != nil {
		return fmt.Errorf("failed to create library: %w", err)
	}
	log.Debug().Str("library", lib.Name()).Str("allocator", cfg.allocator).Int64("max_alloc_bytes", maxAllocBytes).Msg("Library ready")

	// Server Mode
	if cfg.listen != "" {
		return startServer(cfg.listen, lib, cfg.maxConcurrent)
	}

	if err := run(ctx, stdout, lib, cfg.format); err != nil {
		return fmt.Errorf("example failed: %w", err)
	}

	if live := lib.Live(); live != 0 {
		log.Error().Int("live", live).Msg("Buffers still allocated at exit")
	}
	if cfg.metrics {
		logMetrics(prometheus.DefaultGatherer)
	}
	return nil
}

// logMetrics writes the gridmul_* series of g to the log.
func logMetrics(g prometheus.Gatherer) {
	families, err := g.Gather()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to gather metrics")
		return
	}
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), "gridmul_") {
			continue
		}
		for _, m := range mf.GetMetric() {
			ev := log.Info().Str("metric", mf.GetName())
			for _, lp := range m.GetLabel() {
				ev = ev.Str(lp.GetName(), lp.GetValue())
			}
			switch {
			case m.GetCounter() != nil:
				ev = ev.Float64("value", m.GetCounter().GetValue())
			case m.GetGauge() != nil:
				ev = ev.Float64("value", m.GetGauge().GetValue())
			case m.GetHistogram() != nil:
				ev = ev.Uint64("count", m.GetHistogram().GetSampleCount()).Float64("sum", m.GetHistogram().GetSampleSum())
			}
			ev.Msg("Metric")
		}
	}
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint(), stdouttrace.WithWriter(os.Stderr))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("gridmul"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
