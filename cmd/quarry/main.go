// Command quarry executes one federated query plan against the configured
// sources and prints the GraphQL response.
//
//	quarry --config quarry.yaml --schema schema.graphql --query query.graphql \
//	    --plan plan.yaml --variables '{"first": 5}'
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/buildbuildio/quarry/config"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
	Commit  = "none"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		slog.Error("quarry failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("quarry", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	config.DefineFlags(fs)
	fs.Bool("version", false, "Print version and exit")
	fs.String("schema", "", "Path to the schema SDL the client operation is validated against")
	fs.String("query", "", "Path to the client operation")
	fs.String("operation", "", "Operation name, required when the document holds several")
	fs.String("plan", "", "Path to the plan document")
	fs.String("variables", "", "Client variables as a JSON object, or @path to read them from a file")
	fs.Bool("pretty", false, "Indent the printed response")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion, _ := fs.GetBool("version"); showVersion {
		fmt.Fprintf(stdout, "quarry %s (%s)\n", Version, Commit)
		return nil
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = Version
	}

	validationResult := cfg.Validate()
	for _, warn := range validationResult.Warnings {
		slog.Warn("configuration warning",
			slog.String("field", warn.Field),
			slog.String("message", warn.Message),
			slog.String("hint", warn.Hint),
		)
	}
	if validationResult.HasErrors() {
		for _, err := range validationResult.Errors {
			slog.Error("configuration error",
				slog.String("field", err.Field),
				slog.String("message", err.Message),
				slog.String("hint", err.Hint),
			)
		}
		return fmt.Errorf("configuration validation failed")
	}

	in, err := readInputs(fs)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, stderr)
	if err != nil {
		return err
	}
	defer a.shutdown(context.Background())

	res, err := a.execute(ctx, in)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	if pretty, _ := fs.GetBool("pretty"); pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}

	if cfg.Observability.MetricsDump && a.meterProvider != nil {
		return a.dumpMetrics(stderr)
	}
	return nil
}
