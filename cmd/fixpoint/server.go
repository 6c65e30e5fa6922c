package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-fixpoint/internal/cache"
	"github.com/23skdu/longbow-fixpoint/internal/client"
	"github.com/23skdu/longbow-fixpoint/internal/config"
	"github.com/23skdu/longbow-fixpoint/internal/convert"
	"github.com/23skdu/longbow-fixpoint/internal/fixedpoint"
	"github.com/23skdu/longbow-fixpoint/internal/profile"
)

var (
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fixpoint_request_duration_seconds",
		Help:    "Time spent serving HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"handler"})

	forwardErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fixpoint_forward_errors_total",
		Help: "Converted batches that could not be forwarded downstream",
	})

	profileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fixpoint_profile_cache_hits_total",
		Help: "Profile requests served from cache",
	})
)

const arrowStreamContentType = "application/vnd.apache.arrow.stream"

// ConvertRequest is the CBOR body of POST /convert.
type ConvertRequest struct {
	Format string    `cbor:"format"`
	Op     string    `cbor:"op"`
	Values []float64 `cbor:"values,omitempty"`
	Codes  []int32   `cbor:"codes,omitempty"`
}

// ConvertResponse is the CBOR reply of POST /convert.
type ConvertResponse struct {
	Format    string    `cbor:"format"`
	Op        string    `cbor:"op"`
	Codes     []int32   `cbor:"codes,omitempty"`
	Values    []float64 `cbor:"values"`
	Saturated int       `cbor:"saturated"`
}

type FlightClientInterface interface {
	DoPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error
	Close() error
}

type Server struct {
	converter    *convert.Converter
	flightClient FlightClientInterface
	datasetName  string
	alloc        memory.Allocator
	builder      *client.RecordBatchBuilder
	sem          *semaphore.Weighted
	maxWeight    int64
	profiles     cache.Cache[*profile.Report]
	sweep        config.ProfileConfig
}

func NewServer(cfg *config.Config, fc FlightClientInterface) *Server {
	alloc := memory.NewGoAllocator()
	return &Server{
		converter:    convert.New(cfg.Server.ChunkSize),
		flightClient: fc,
		datasetName:  cfg.Forward.Dataset,
		alloc:        alloc,
		builder:      client.NewRecordBatchBuilder(alloc),
		sem:          semaphore.NewWeighted(int64(cfg.Server.MaxConcurrent)),
		maxWeight:    int64(cfg.Server.MaxConcurrent),
		// Reports are never mutated after creation, so they are shared.
		profiles: cache.NewBoundedMapCache[*profile.Report](cfg.Profile.CacheSize, nil),
		sweep:    cfg.Profile,
	}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/convert", s.handleConvert)
	mux.HandleFunc("/convert/arrow", s.handleConvertArrow)
	mux.HandleFunc("/profile", s.handleProfile)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// startServer serves srv on addr in the background. Stop it with Shutdown.
func startServer(addr string, srv *Server) *http.Server {
	log.Info().Str("addr", addr).Msg("Starting fixpoint HTTP server")
	if srv.flightClient != nil {
		log.Info().Str("dataset", srv.datasetName).Msg("Forwarding converted batches downstream")
	}

	hs := &http.Server{Addr: addr, Handler: srv.routes()}
	go func() {
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()
	return hs
}

var tracer = otel.Tracer("fixpoint-server")

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleConvert")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues("convert").Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body ConvertRequest
	if err := cbor.NewDecoder(r.Body).Decode(&body); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		return
	}

	req, err := parseRequest(body.Format, body.Op)
	if err != nil {
		span.RecordError(err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.Values, req.Codes = body.Values, body.Codes

	span.SetAttributes(
		attribute.String("format", req.Format.String()),
		attribute.String("op", string(req.Op)),
		attribute.Int("value_count", len(req.Values)+len(req.Codes)),
	)

	res, status, err := s.convert(ctx, req)
	if err != nil {
		span.RecordError(err)
		http.Error(w, err.Error(), status)
		return
	}
	s.forward(ctx, res)

	out, err := cbor.Marshal(ConvertResponse{
		Format:    res.Format.String(),
		Op:        string(res.Op),
		Codes:     res.Codes,
		Values:    res.Values,
		Saturated: res.Saturated,
	})
	if err != nil {
		span.RecordError(err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/cbor")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (s *Server) handleConvertArrow(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleConvertArrow")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues("convert_arrow").Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	base, err := parseRequest(q.Get("format"), q.Get("op"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	reader, err := ipc.NewReader(r.Body, ipc.WithAllocator(s.alloc))
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create IPC reader: %v", err), http.StatusBadRequest)
		return
	}
	defer reader.Release()

	var writer *ipc.Writer
	totalProcessed := 0
	// fail replies with status until the result stream is open. After that
	// the response is aborted so the client never sees a clean end of stream.
	fail := func(err error, status int, msg string) {
		span.RecordError(err)
		if writer == nil {
			http.Error(w, err.Error(), status)
			return
		}
		log.Error().Err(err).Int("rows", totalProcessed).Msg(msg)
		panic(http.ErrAbortHandler)
	}
	write := func(rec arrow.RecordBatch) error {
		if writer == nil {
			w.Header().Set("Content-Type", arrowStreamContentType)
			writer = ipc.NewWriter(w, ipc.WithSchema(client.ResultSchema), ipc.WithAllocator(s.alloc))
		}
		return writer.Write(rec)
	}

	for reader.Next() {
		in := reader.Record()
		res := &convert.Result{Format: base.Format, Op: base.Op}
		if in.NumRows() > 0 {
			values, codes, err := client.InputColumns(in)
			if err != nil {
				fail(err, http.StatusBadRequest, "Batch without input column")
				return
			}
			req := base
			req.Values, req.Codes = values, codes
			var status int
			res, status, err = s.convert(ctx, req)
			if err != nil {
				fail(err, status, "Arrow batch conversion failed mid-stream")
				return
			}
			s.forward(ctx, res)
		}

		rec, err := s.builder.BuildRecordBatch(res)
		if err != nil {
			fail(err, http.StatusInternalServerError, "Failed to build result batch")
			return
		}
		err = write(rec)
		rec.Release()
		if err != nil {
			fail(err, http.StatusInternalServerError, "Failed to write result batch")
			return
		}
		totalProcessed += res.Len()
	}

	if err := reader.Err(); err != nil {
		fail(fmt.Errorf("stream error: %w", err), http.StatusBadRequest, "Error reading Arrow stream")
		return
	}
	if writer == nil {
		// Empty stream: reply with an empty result stream.
		w.Header().Set("Content-Type", arrowStreamContentType)
		writer = ipc.NewWriter(w, ipc.WithSchema(client.ResultSchema), ipc.WithAllocator(s.alloc))
	}
	if err := writer.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close Arrow stream")
	}

	span.SetAttributes(attribute.Int("value_count", totalProcessed))
	log.Debug().Int("rows", totalProcessed).Msg("Arrow conversion complete")
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleProfile")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues("profile").Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	kind := profile.Kind(q.Get("kind"))
	if kind == "" {
		kind = profile.KindTanh
	}
	format := fixedpoint.Format4_9
	if name := q.Get("format"); name != "" {
		f, err := fixedpoint.ParseFormat(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		format = f
	}

	sweep := s.sweep
	for _, p := range []struct {
		name string
		dst  *float64
	}{{"min", &sweep.Min}, {"max", &sweep.Max}, {"step", &sweep.Step}} {
		if v := q.Get(p.name); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid %s: %v", p.name, err), http.StatusBadRequest)
				return
			}
			*p.dst = f
		}
	}

	key := fmt.Sprintf("%s/%s/%v/%v/%v", kind, format, sweep.Min, sweep.Max, sweep.Step)
	if kind == profile.KindTanh {
		key = fmt.Sprintf("%s/%v/%v/%v", kind, sweep.Min, sweep.Max, sweep.Step)
	}

	report, ok := s.profiles.Get(key)
	if ok {
		profileCacheHits.Inc()
	} else {
		var (
			status int
			err    error
		)
		report, status, err = s.buildProfile(ctx, kind, format, sweep)
		if err != nil {
			span.RecordError(err)
			http.Error(w, err.Error(), status)
			return
		}
		s.profiles.Put(key, report)
	}

	span.SetAttributes(
		attribute.String("kind", string(kind)),
		attribute.Int("samples", len(report.Samples)),
	)

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("X-Max-Abs-Error", strconv.FormatFloat(report.MaxAbsError, 'g', -1, 64))
	w.Header().Set("X-Monotonic", strconv.FormatBool(report.Monotonic))
	if err := report.WriteCSV(w); err != nil {
		log.Error().Err(err).Msg("Failed to write profile")
	}
}

// buildProfile computes a report under the same admission control as
// conversions, weighted by the number of samples.
func (s *Server) buildProfile(ctx context.Context, kind profile.Kind, f fixedpoint.Format, sweep config.ProfileConfig) (*profile.Report, int, error) {
	if kind != profile.KindTanh && kind != profile.KindQuantization {
		return nil, http.StatusBadRequest, fmt.Errorf("unknown profile kind %q", kind)
	}
	n, err := profile.SampleCount(sweep.Min, sweep.Max, sweep.Step)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}

	weight := min(int64(n), s.maxWeight)
	if err := s.sem.Acquire(ctx, weight); err != nil {
		log.Error().Err(err).Msg("Failed to acquire semaphore")
		return nil, http.StatusServiceUnavailable, errors.New("server busy")
	}
	defer s.sem.Release(weight)

	var report *profile.Report
	if kind == profile.KindTanh {
		report, err = profile.Tanh(sweep.Min, sweep.Max, sweep.Step)
	} else {
		report, err = profile.Quantization(f, sweep.Min, sweep.Max, sweep.Step)
	}
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	return report, http.StatusOK, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// convert runs req under admission control and maps failures to a status.
func (s *Server) convert(ctx context.Context, req convert.Request) (*convert.Result, int, error) {
	if err := convert.Validate(req); err != nil {
		return nil, http.StatusBadRequest, err
	}

	weight := int64(len(req.Values) + len(req.Codes))
	if weight > s.maxWeight {
		weight = s.maxWeight
	}
	if err := s.sem.Acquire(ctx, weight); err != nil {
		log.Error().Err(err).Msg("Failed to acquire semaphore")
		return nil, http.StatusServiceUnavailable, errors.New("server busy")
	}
	defer s.sem.Release(weight)

	res, err := s.converter.Convert(ctx, req)
	if err != nil {
		if errors.Is(err, convert.ErrUnsupportedOp) || errors.Is(err, convert.ErrEmptyRequest) {
			return nil, http.StatusBadRequest, err
		}
		return nil, http.StatusServiceUnavailable, err
	}
	return res, http.StatusOK, nil
}

// forward sends res downstream when a Flight client is configured. Failures
// are logged and counted but do not fail the request.
func (s *Server) forward(ctx context.Context, res *convert.Result) {
	if s.flightClient == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	rec, err := s.builder.BuildRecordBatch(res)
	if err != nil {
		forwardErrors.Inc()
		span.RecordError(err)
		log.Error().Err(err).Msg("Failed to build batch for forwarding")
		return
	}
	if rec == nil {
		return
	}
	defer rec.Release()

	if err := s.flightClient.DoPut(ctx, s.datasetName, rec); err != nil {
		forwardErrors.Inc()
		span.RecordError(err)
		log.Error().Err(err).Msg("Error forwarding batch downstream")
		return
	}
	span.AddEvent("forwarded", trace.WithAttributes(attribute.Int64("rows", rec.NumRows())))
}

func parseRequest(format, op string) (convert.Request, error) {
	f, err := fixedpoint.ParseFormat(format)
	if err != nil {
		return convert.Request{}, err
	}
	o, err := convert.ParseOp(op)
	if err != nil {
		return convert.Request{}, err
	}
	return convert.Request{Format: f, Op: o}, nil
}
