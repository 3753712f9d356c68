package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/buildbuildio/quarry"
	"github.com/buildbuildio/quarry/config"
	"github.com/buildbuildio/quarry/logging"
	"github.com/buildbuildio/quarry/nullability"
	"github.com/buildbuildio/quarry/observability"
	"github.com/buildbuildio/quarry/planner"
	"github.com/buildbuildio/quarry/propagator"
	"github.com/buildbuildio/quarry/queryer"
)

// inputs are the per-run documents named on the command line.
type inputs struct {
	schema    string
	query     string
	operation string
	plan      *planner.Document
	variables map[string]interface{}
}

func readInputs(fs *pflag.FlagSet) (*inputs, error) {
	schemaPath, _ := fs.GetString("schema")
	queryPath, _ := fs.GetString("query")
	planPath, _ := fs.GetString("plan")
	if schemaPath == "" || queryPath == "" || planPath == "" {
		return nil, errors.New("--schema, --query and --plan are required")
	}

	schema, err := os.ReadFile(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	query, err := os.ReadFile(queryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read query: %w", err)
	}
	doc, err := planner.LoadPlanFile(planPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan %q: %w", planPath, err)
	}

	raw, _ := fs.GetString("variables")
	variables, err := parseVariables(raw)
	if err != nil {
		return nil, err
	}

	operation, _ := fs.GetString("operation")

	return &inputs{
		schema:    string(schema),
		query:     string(query),
		operation: operation,
		plan:      doc,
		variables: variables,
	}, nil
}

// parseVariables reads a JSON object given inline or as @path.
func parseVariables(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return nil, nil
	}

	data := []byte(raw)
	if path, ok := strings.CutPrefix(raw, "@"); ok {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("failed to read variables: %w", err)
		}
	}

	var variables map[string]interface{}
	if err := json.Unmarshal(data, &variables); err != nil {
		return nil, fmt.Errorf("variables must be a JSON object: %w", err)
	}
	return variables, nil
}

type app struct {
	engine *quarry.Engine
	logger *logging.Logger

	meterProvider  *observability.MeterProvider
	tracerProvider *observability.TracerProvider
	loggerProvider *observability.LoggerProvider
}

func newApp(cfg *config.Config, logOutput io.Writer) (*app, error) {
	a := &app{}
	telemetry := cfg.Observability.Telemetry()

	logCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: logOutput,
	}
	if cfg.Observability.Logging.ExportsEnabled {
		lp, err := observability.InitLoggerProvider(telemetry)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize log export: %w", err)
		}
		a.loggerProvider = lp
		logCfg.LoggerProvider = lp.Provider()
	}
	a.logger = logging.NewLogger(logCfg)

	if cfg.Observability.TracingEnabled {
		tp, err := observability.InitTracerProvider(telemetry)
		if err != nil {
			a.shutdown(context.Background())
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		a.tracerProvider = tp
	}

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		mp, err := observability.InitMeterProvider(telemetry)
		if err != nil {
			a.shutdown(context.Background())
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
		a.meterProvider = mp
		if metrics, err = observability.NewMetrics(); err != nil {
			a.shutdown(context.Background())
			return nil, err
		}
	}

	a.engine = quarry.NewEngine(newRegistry(cfg),
		quarry.WithLogger(a.logger),
		quarry.WithMetrics(metrics),
		quarry.WithTimeout(cfg.Execution.Timeout),
		quarry.WithLeafErrorPolicy(propagator.LeafErrorPolicy(cfg.Execution.LeafErrors)),
		quarry.WithNonNullPolicy(propagator.NonNullPolicy(cfg.Execution.NonNullViolations)),
	)

	return a, nil
}

// newRegistry creates one batching HTTP queryer per configured source.
func newRegistry(cfg *config.Config) queryer.Registry {
	registry := make(queryer.Registry, len(cfg.Sources))
	for _, name := range cfg.SourceNames() {
		src := cfg.Sources[name]
		q := queryer.NewMultiOpQueryer(src.URL, src.MaxBatchSize).
			WithHTTPClient(queryer.NewHTTPClient(src.Timeout))
		if len(src.Headers) > 0 {
			q = q.WithMiddlewares([]queryer.RequestMiddleware{queryer.HeadersMiddleware(src.Headers)})
		}
		registry[name] = q
	}
	return registry
}

func (a *app) execute(ctx context.Context, in *inputs) (*quarry.Result, error) {
	overrides, err := nullability.WithOverrides(in.plan.Nullability)
	if err != nil {
		return nil, err
	}
	m, err := nullability.FromSource(in.schema, in.query, in.operation, overrides)
	if err != nil {
		return nil, err
	}

	return a.engine.Execute(ctx, &quarry.Request{
		Plan:        in.plan.Plan,
		Nullability: m,
		Variables:   in.variables,
	})
}

func (a *app) dumpMetrics(w io.Writer) error {
	return observability.DumpMetrics(w, a.meterProvider.Gatherer())
}

func (a *app) shutdown(ctx context.Context) {
	if a.meterProvider != nil {
		_ = a.meterProvider.Shutdown(ctx, a.logger.Logger)
	}
	if a.tracerProvider != nil {
		_ = a.tracerProvider.Shutdown(ctx, a.logger.Logger)
	}
	if a.loggerProvider != nil {
		_ = a.loggerProvider.Shutdown(ctx, a.logger.Logger)
	}
}
