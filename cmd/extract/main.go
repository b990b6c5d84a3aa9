// Command extract runs one extraction outside the service. With -author,
// -name and -version it prints the extracted metadata as JSON. With -event
// it ingests a saved queue batch or S3 event against the configured bucket.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/GoCodeAlone/forgedocs/config"
	"github.com/GoCodeAlone/forgedocs/extract"
	"github.com/GoCodeAlone/forgedocs/ingest"
	"github.com/GoCodeAlone/forgedocs/record"
	"github.com/GoCodeAlone/forgedocs/store"
)

// Replaced in tests.
var (
	newRunner = func() extract.Runner { return extract.NewExecRunner() }
	newStore  = func(ctx context.Context, cfg *config.Config) (store.ObjectStore, error) {
		awsCfg, err := store.LoadAWSConfig(ctx, store.ClientOptions{
			Region:          cfg.Storage.Region,
			Endpoint:        cfg.Storage.Endpoint,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		return store.NewS3Store(store.NewS3Client(awsCfg, cfg.Storage.Endpoint)), nil
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "extract:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", os.Getenv("FORGEDOCS_CONFIG"), "Path to YAML configuration file")
	author := fs.String("author", "", "Module author")
	name := fs.String("name", "", "Module name")
	version := fs.String("version", "", "Module version")
	eventFile := fs.String("event", "", "Saved queue batch or S3 event to ingest")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	ex := extract.NewExtractor(extract.Config{
		PuppetCommand:  cfg.Tools.Puppet,
		SidecarCommand: cfg.Tools.Sidecar,
		WorkDir:        cfg.Tools.WorkDir,
		Timeout:        cfg.Tools.Timeout,
	}, newRunner(), logger)

	if *eventFile != "" {
		return ingestFile(ctx, cfg, ex, *eventFile, stdout, logger)
	}

	id := record.Identity{Author: *author, Name: *name, Version: *version}
	if err := id.Validate(); err != nil {
		fs.Usage()
		return err
	}
	md, err := ex.Extract(ctx, id)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(md.Content())
}

// ingestFile accepts either a queue batch, whose envelopes carry event
// bodies, or a bare S3 event.
func ingestFile(ctx context.Context, cfg *config.Config, ex *extract.Extractor, path string, stdout io.Writer, logger *slog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	st, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	h := ingest.NewHandler(st, ex, logger)
	h.SetEditorServicesVersion(cfg.Tools.EditorServicesVersion)

	var outcomes []string
	batch, err := ingest.ParseBatch(data)
	if err == nil && hasBodies(batch) {
		outcomes = h.Ingest(ctx, batch)
	} else {
		ev, perr := ingest.ParseEvent(data)
		if perr != nil {
			return errors.Join(err, perr)
		}
		outcomes = h.IngestEvent(ctx, ev)
	}
	for _, o := range outcomes {
		fmt.Fprintln(stdout, o)
	}
	return nil
}

func hasBodies(b ingest.Batch) bool {
	for _, env := range b.Records {
		if env.Body != "" {
			return true
		}
	}
	return false
}
