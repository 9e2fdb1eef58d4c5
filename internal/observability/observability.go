// Package observability wires up process-wide logging.
//
// Instrument installs the default slog logger: a text or JSON handler on
// stderr, optionally teed into an OpenTelemetry log exporter when the
// standard OTel environment variables request one:
//
//	OTEL_LOGS_EXPORTER                otlp | console | none (default: none)
//	OTEL_EXPORTER_OTLP_LOGS_PROTOCOL  grpc | http/protobuf
//	OTEL_EXPORTER_OTLP_PROTOCOL       fallback for the logs-specific variable
//
// Endpoints, headers, and resource attributes follow the usual
// OTEL_EXPORTER_OTLP_* and OTEL_RESOURCE_ATTRIBUTES variables, which the
// exporter packages read themselves.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// instrumentationName identifies records emitted through the OTel bridge.
const instrumentationName = "github.com/medipanel/medigate"

// provider holds the logger provider backing the OTel bridge, nil when
// exporting is disabled. Shutdown flushes it.
var provider *sdklog.LoggerProvider

// Instrument installs the process-wide default logger.
//
// format selects the stderr handler ("text" or "json"), level its minimum
// level. When OTEL_LOGS_EXPORTER selects an exporter, records are
// additionally bridged to OpenTelemetry; call Shutdown before exit to flush.
func Instrument(level slog.Level, format string) error {
	var stderr slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	switch format {
	case "json":
		stderr = slog.NewJSONHandler(os.Stderr, opts)
	case "text", "":
		stderr = slog.NewTextHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("unsupported log format %q", format)
	}

	bridge, err := newBridgeHandler(level)
	if err != nil {
		return err
	}

	if bridge == nil {
		slog.SetDefault(slog.New(stderr))
		return nil
	}

	slog.SetDefault(slog.New(newTeeHandler(stderr, bridge)))
	return nil
}

// Shutdown flushes and stops the log exporter started by Instrument, if any.
func Shutdown(ctx context.Context) error {
	if provider == nil {
		return nil
	}
	return provider.Shutdown(ctx)
}

// newBridgeHandler builds the OTel half of the logger. Returns nil when
// OTEL_LOGS_EXPORTER does not select an exporter.
func newBridgeHandler(level slog.Level) (slog.Handler, error) {
	exporter, err := newLogExporter(context.Background())
	if err != nil {
		return nil, err
	}
	if exporter == nil {
		return nil, nil
	}

	provider = sdklog.NewLoggerProvider(sdklog.WithProcessor(
		minsev.NewLogProcessor(sdklog.NewBatchProcessor(exporter), exportSeverity(level)),
	))

	return otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(provider)), nil
}

func newLogExporter(ctx context.Context) (sdklog.Exporter, error) {
	switch name := strings.ToLower(os.Getenv("OTEL_LOGS_EXPORTER")); name {
	case "", "none":
		return nil, nil
	case "console":
		return stdoutlog.New()
	case "otlp":
		protocol := os.Getenv("OTEL_EXPORTER_OTLP_LOGS_PROTOCOL")
		if protocol == "" {
			protocol = os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL")
		}
		switch protocol {
		case "grpc":
			return otlploggrpc.New(ctx)
		case "", "http/protobuf":
			return otlploghttp.New(ctx)
		default:
			return nil, fmt.Errorf("unsupported OTLP logs protocol %q", protocol)
		}
	default:
		return nil, fmt.Errorf("unsupported logs exporter %q", name)
	}
}

// exportSeverity maps the configured slog level to the minimum severity
// forwarded to the exporter, so both sinks honor the same threshold.
func exportSeverity(level slog.Level) minsev.Severity {
	switch {
	case level <= slog.LevelDebug:
		return minsev.SeverityDebug
	case level <= slog.LevelInfo:
		return minsev.SeverityInfo
	case level <= slog.LevelWarn:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}
