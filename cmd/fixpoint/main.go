package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/23skdu/longbow-fixpoint/internal/client"
	"github.com/23skdu/longbow-fixpoint/internal/config"
	"github.com/23skdu/longbow-fixpoint/internal/convert"
	"github.com/23skdu/longbow-fixpoint/internal/fixedpoint"
	"github.com/23skdu/longbow-fixpoint/internal/profile"
	"github.com/23skdu/longbow-fixpoint/internal/weights"
)

var (
	configPath    = flag.String("config", "", "Path to YAML config (defaults are embedded)")
	listenAddr    = flag.String("listen", "", "Address to listen on for HTTP Server (e.g. :8080)")
	flightAddr    = flag.String("flight", "", "Address to listen on for Flight Server (e.g. :9090)")
	serverAddr    = flag.String("server", "", "Downstream Flight server to forward converted batches to")
	datasetName   = flag.String("dataset", "", "Target dataset name on the downstream server")
	maxConcurrent = flag.Int("max-concurrent", 0, "Maximum number of values converted concurrently")
	enableOTel    = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	logLevel      = flag.String("log-level", "", "Log level (debug, info, warn, error)")
	logFormat     = flag.String("log-format", "", "Log format (console, json)")

	profileKind  = flag.String("profile", "", "Write an error profile: tanh or quantization")
	quantizePath = flag.String("quantize", "", "Quantize a raw float32 weight file to 4.9 codes")
	multipart    = flag.Bool("multipart", false, "Spread out-of-range weights over several registers")
	outPath      = flag.String("out", "", "Output file for -profile or -quantize (default stdout for profiles)")
	formatName   = flag.String("format", "4.9", "Fixed-point format (1.15, 4.9, 8.24, 17.15)")
	opName       = flag.String("op", "quantize", "Operation (encode, decode, quantize, multipart, tanh)")
	arrowOut     = flag.Bool("arrow", false, "Write results as an Arrow IPC stream to stdout")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	setupLogging(cfg.Log.Level, cfg.Log.Format)

	shutdownTracer := func(context.Context) error { return nil }
	if cfg.Telemetry.OTel {
		shutdownTracer, err = initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Failed to flush traces")
		}
	}()

	switch {
	case *profileKind != "":
		if err := runProfile(cfg, *profileKind, *formatName, *outPath); err != nil {
			log.Fatal().Err(err).Msg("Profile failed")
		}
		return
	case *quantizePath != "":
		if err := runQuantize(*quantizePath, *multipart, *outPath); err != nil {
			log.Fatal().Err(err).Msg("Quantize failed")
		}
		return
	}

	converter := convert.New(cfg.Server.ChunkSize)

	// Server Mode
	var stops []func(context.Context) error
	if cfg.Server.Listen != "" {
		var fcInterface FlightClientInterface
		if cfg.Forward.Server != "" {
			fc, err := client.NewFlightClient(cfg.Forward.Server,
				client.WithCircuitBreaker(cfg.Forward.MaxFailures, cfg.Forward.Timeout))
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to create flight client")
			}
			log.Info().Str("addr", cfg.Forward.Server).Msg("Connected to Flight Server")
			fcInterface = fc
			defer fc.Close()
		}
		hs := startServer(cfg.Server.Listen, NewServer(cfg, fcInterface))
		stops = append(stops, hs.Shutdown)
	}

	if cfg.Server.Flight != "" {
		fs := StartFlightServer(cfg.Server.Flight, converter)
		stops = append(stops, func(context.Context) error {
			fs.Shutdown()
			return nil
		})
	}

	if len(stops) > 0 {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		waitForShutdown(ctx, shutdownTimeout, stops...)
		return
	}

	if err := runConvert(cfg, converter, flag.Args()); err != nil {
		log.Fatal().Err(err).Msg("Conversion failed")
	}
}

const shutdownTimeout = 10 * time.Second

// waitForShutdown blocks until ctx is done, then runs each stop func in order
// with a shared deadline.
func waitForShutdown(ctx context.Context, timeout time.Duration, stops ...func(context.Context) error) {
	<-ctx.Done()
	log.Info().Msg("Shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for _, stop := range stops {
		if err := stop(sctx); err != nil {
			log.Warn().Err(err).Msg("Shutdown incomplete")
		}
	}
}

// loadConfig reads the YAML config and applies flags that were set
// explicitly on the command line.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Server.Listen = *listenAddr
		case "flight":
			cfg.Server.Flight = *flightAddr
		case "server":
			cfg.Forward.Server = *serverAddr
		case "dataset":
			cfg.Forward.Dataset = *datasetName
		case "max-concurrent":
			cfg.Server.MaxConcurrent = *maxConcurrent
		case "otel":
			cfg.Telemetry.OTel = *enableOTel
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-format":
			cfg.Log.Format = *logFormat
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(level, format string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if strings.EqualFold(format, "json") {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()
}

func runProfile(cfg *config.Config, kind, format, out string) error {
	var (
		report *profile.Report
		err    error
	)
	switch profile.Kind(kind) {
	case profile.KindTanh:
		report, err = profile.Tanh(cfg.Profile.Min, cfg.Profile.Max, cfg.Profile.Step)
	case profile.KindQuantization:
		f, perr := fixedpoint.ParseFormat(format)
		if perr != nil {
			return perr
		}
		report, err = profile.Quantization(f, cfg.Profile.Min, cfg.Profile.Max, cfg.Profile.Step)
	default:
		return fmt.Errorf("unknown profile kind %q", kind)
	}
	if err != nil {
		return err
	}

	log.Info().
		Str("kind", string(report.Kind)).
		Str("format", report.Format.String()).
		Int("samples", len(report.Samples)).
		Float64("max_abs_error", report.MaxAbsError).
		Float64("mean_abs_error", report.MeanAbsError).
		Float64("stddev_error", report.StdDevError).
		Int("saturated", report.Saturated).
		Bool("monotonic", report.Monotonic).
		Msg("Error profile")

	return withOutput(out, report.WriteCSV)
}

func runQuantize(path string, multipart bool, out string) error {
	data, err := weights.LoadFile(path)
	if err != nil {
		return err
	}
	summary := weights.Quantize(data, multipart)
	log.Info().
		Int("weights", len(data)).
		Int("saturated", summary.Saturated).
		Int("registers", summary.Registers).
		Float64("max_error", summary.MaxError).
		Bool("multipart", multipart).
		Msg("Quantized weights")

	if out == "" {
		return nil
	}
	image, err := weights.Image(data, multipart)
	if err != nil {
		return err
	}
	return withOutput(out, func(w io.Writer) error {
		return weights.WriteCodes(w, image)
	})
}

func runConvert(cfg *config.Config, converter *convert.Converter, args []string) error {
	f, err := fixedpoint.ParseFormat(*formatName)
	if err != nil {
		return err
	}
	op, err := convert.ParseOp(*opName)
	if err != nil {
		return err
	}
	req := convert.Request{Format: f, Op: op}
	if req.Values, req.Codes, err = parseArgs(op, args); err != nil {
		return err
	}

	start := time.Now()
	res, err := converter.Convert(context.Background(), req)
	if err != nil {
		return err
	}
	log.Debug().Int("count", res.Len()).Dur("elapsed", time.Since(start)).Msg("Converted arguments")

	if cfg.Forward.Server == "" && !*arrowOut {
		return printResult(os.Stdout, res)
	}

	rec, err := client.NewRecordBatchBuilder(memory.NewGoAllocator()).BuildRecordBatch(res)
	if err != nil {
		return err
	}
	defer rec.Release()

	if cfg.Forward.Server == "" {
		return writeArrowStream(os.Stdout, rec)
	}

	log.Info().Int("count", res.Len()).Str("server", cfg.Forward.Server).Str("dataset", cfg.Forward.Dataset).Msg("Sending results downstream")
	flightClient, err := client.NewFlightClient(cfg.Forward.Server)
	if err != nil {
		return err
	}
	defer func() {
		if err := flightClient.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close flight client")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	return flightClient.DoPut(ctx, cfg.Forward.Dataset, rec)
}

// parseArgs reads values, or integer codes for decode. Codes accept any Go
// integer literal, so 0x0FFF works.
func parseArgs(op convert.Op, args []string) ([]float64, []int32, error) {
	if op == convert.OpDecode {
		codes := make([]int32, len(args))
		for i, a := range args {
			c, err := strconv.ParseInt(a, 0, 32)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid code %q: %w", a, err)
			}
			codes[i] = int32(c)
		}
		return nil, codes, nil
	}
	values := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid value %q: %w", a, err)
		}
		values[i] = v
	}
	return values, nil, nil
}

func printResult(w io.Writer, res *convert.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "input\tcode\tvalue\tsaturated")
	for i := range res.Values {
		code := "-"
		if res.Codes != nil {
			code = strconv.FormatInt(int64(res.Codes[i]), 10)
		}
		fmt.Fprintf(tw, "%v\t%s\t%v\t%t\n", res.Inputs[i], code, res.Values[i], res.Flags[i])
	}
	return tw.Flush()
}

func withOutput(path string, write func(io.Writer) error) error {
	if path == "" {
		return write(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func writeArrowStream(w io.Writer, rec arrow.RecordBatch) error {
	writer := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("fixpoint"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
