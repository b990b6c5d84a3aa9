// Package extract downloads a module release into a scratch workspace and
// runs the documentation sidecar against it once per aspect.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/GoCodeAlone/forgedocs/record"
)

// ErrToolFailed marks a tool run that exited non-zero.
var ErrToolFailed = errors.New("tool exited with non-zero status")

// Aspect is one category of extracted documentation.
type Aspect string

const (
	AspectClasses   Aspect = "classes"
	AspectFunctions Aspect = "functions"
	AspectTypes     Aspect = "types"
)

// Aspects lists every aspect in a fixed order.
var Aspects = []Aspect{AspectClasses, AspectFunctions, AspectTypes}

// Action is the sidecar --action value for the aspect.
func (a Aspect) Action() string { return "workspace_" + string(a) }

const metadataFileName = "metadata.json"

// ModuleMetadata is the result of one extraction.
type ModuleMetadata struct {
	Readme       string          `json:"readme"`
	MetadataJSON json.RawMessage `json:"metadata_json"`
	Functions    []record.Item   `json:"functions"`
	Classes      []record.Item   `json:"classes"`
	Types        []record.Item   `json:"types"`

	// Downloaded is false when the download tool failed.
	Downloaded bool `json:"-"`
	// AspectErrors records why an aspect came back empty.
	AspectErrors map[Aspect]error `json:"-"`
}

func emptyMetadata() *ModuleMetadata {
	return &ModuleMetadata{
		Functions:    []record.Item{},
		Classes:      []record.Item{},
		Types:        []record.Item{},
		AspectErrors: map[Aspect]error{},
	}
}

func (m *ModuleMetadata) set(a Aspect, items []record.Item) {
	switch a {
	case AspectClasses:
		m.Classes = items
	case AspectFunctions:
		m.Functions = items
	case AspectTypes:
		m.Types = items
	}
}

// Content converts the result into the stored record content.
func (m *ModuleMetadata) Content() record.Content {
	return record.Content{
		Readme:       m.Readme,
		MetadataJSON: m.MetadataJSON,
		Functions:    m.Functions,
		Classes:      m.Classes,
		Types:        m.Types,
	}
}

// Observer receives per-extraction measurements.
type Observer interface {
	ObserveAspect(aspect string, ok bool)
	ObserveExtraction(downloaded bool, d time.Duration)
}

// Config locates the external tools. Each command is the executable
// followed by any fixed leading arguments.
type Config struct {
	PuppetCommand  []string
	SidecarCommand []string
	// WorkDir is the parent of per-extraction workspaces.
	WorkDir string
	// Timeout bounds each tool run; zero means no limit.
	Timeout time.Duration
}

// DefaultConfig returns the commands found on a standard PDK install.
func DefaultConfig() Config {
	return Config{
		PuppetCommand:  []string{"puppet"},
		SidecarCommand: []string{"puppet-languageserver-sidecar"},
	}
}

// Extractor orchestrates download and per-aspect extraction.
type Extractor struct {
	cfg      Config
	runner   Runner
	logger   *slog.Logger
	observer Observer
	tracer   trace.Tracer
}

// NewExtractor creates an Extractor. Empty commands fall back to
// DefaultConfig and a nil logger uses slog.Default.
func NewExtractor(cfg Config, runner Runner, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if len(cfg.PuppetCommand) == 0 {
		cfg.PuppetCommand = def.PuppetCommand
	}
	if len(cfg.SidecarCommand) == 0 {
		cfg.SidecarCommand = def.SidecarCommand
	}
	return &Extractor{
		cfg:    cfg,
		runner: runner,
		logger: logger,
		tracer: otel.GetTracerProvider().Tracer("forgedocs/extract"),
	}
}

// SetObserver attaches a metrics observer.
func (e *Extractor) SetObserver(o Observer) { e.observer = o }

// Extract downloads id and extracts its classes, functions and types.
//
// Tool failures never produce an error: a failed download yields empty
// metadata and a failed aspect yields an empty list for that aspect only.
// An error is returned only when the workspace cannot be created or a tool
// cannot be started.
func (e *Extractor) Extract(ctx context.Context, id record.Identity) (*ModuleMetadata, error) {
	ctx, span := e.tracer.Start(ctx, "extract.Extract", trace.WithAttributes(
		attribute.String("module.key", id.Key()),
	))
	defer span.End()
	start := time.Now()

	ws, err := NewWorkspace(e.cfg.WorkDir)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("extract %s: %w", id, err)
	}
	defer func() {
		if cerr := ws.Close(); cerr != nil {
			e.logger.Warn("Workspace cleanup failed", "module", id.Key(), "error", cerr)
		}
	}()

	result := emptyMetadata()

	downloaded, err := e.download(ctx, id, ws)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("extract %s: %w", id, err)
	}
	span.SetAttributes(attribute.Bool("module.downloaded", downloaded))
	if !downloaded {
		e.observeExtraction(false, time.Since(start))
		return result, nil
	}
	result.Downloaded = true

	moduleDir := ws.ModuleDir(id)
	if err := e.extractAspects(ctx, id, ws, moduleDir, result); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("extract %s: %w", id, err)
	}

	result.MetadataJSON = e.readMetadataFile(id, moduleDir)
	result.Readme = e.readReadme(id, moduleDir)

	e.observeExtraction(true, time.Since(start))
	e.logger.Info("Module extracted",
		"module", id.Key(),
		"classes", len(result.Classes),
		"functions", len(result.Functions),
		"types", len(result.Types),
		"duration", time.Since(start),
	)
	return result, nil
}

func (e *Extractor) download(ctx context.Context, id record.Identity, ws *Workspace) (bool, error) {
	args := []string{
		"module", "install", id.Slug(),
		"--version", id.Version,
		"--modulepath", ws.ModulePath,
		"--ignore-dependencies",
		"--force",
		"--confdir", ws.ConfDir,
		"--vardir", ws.VarDir,
	}
	res, err := e.run(ctx, e.cfg.PuppetCommand, args...)
	if err != nil {
		return false, fmt.Errorf("download: %w", err)
	}
	if !res.Success() {
		e.logger.Warn("Module download failed",
			"module", id.Key(),
			"exit_code", res.ExitCode,
			"stdout", truncate(res.Stdout),
			"stderr", truncate(res.Stderr),
		)
		return false, nil
	}
	e.logger.Debug("Module downloaded", "module", id.Key(), "stdout", truncate(res.Stdout))
	return true, nil
}

// extractAspects runs the sidecar for every aspect concurrently. Results are
// placed by aspect, so completion order does not matter.
func (e *Extractor) extractAspects(ctx context.Context, id record.Identity, ws *Workspace, moduleDir string, result *ModuleMetadata) error {
	outcomes := make([]aspectOutcome, len(Aspects))

	var g errgroup.Group
	for i, aspect := range Aspects {
		g.Go(func() error {
			out, err := e.extractAspect(ctx, aspect, ws, moduleDir)
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, aspect := range Aspects {
		out := outcomes[i]
		result.set(aspect, out.items)
		if out.failure != nil {
			result.AspectErrors[aspect] = out.failure
			e.logger.Warn("Aspect extraction failed",
				"module", id.Key(), "aspect", string(aspect), "error", out.failure)
		}
		if e.observer != nil {
			e.observer.ObserveAspect(string(aspect), out.failure == nil)
		}
	}
	return nil
}

// aspectOutcome is what one sidecar run produced. failure explains an empty
// list; it is never propagated.
type aspectOutcome struct {
	items   []record.Item
	failure error
}

// extractAspect returns the sanitized items, or an empty list and the reason
// when the tool failed or printed something unusable.
func (e *Extractor) extractAspect(ctx context.Context, aspect Aspect, ws *Workspace, moduleDir string) (aspectOutcome, error) {
	ctx, span := e.tracer.Start(ctx, "extract.aspect", trace.WithAttributes(
		attribute.String("aspect", string(aspect)),
	))
	defer span.End()

	args := []string{
		"--action=" + aspect.Action(),
		"--local-workspace=" + moduleDir,
		"--puppet-settings=--vardir," + ws.VarDir + ",--confdir," + ws.ConfDir,
	}
	res, err := e.run(ctx, e.cfg.SidecarCommand, args...)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return aspectOutcome{}, fmt.Errorf("%s: %w", aspect, err)
	}
	if !res.Success() {
		failure := fmt.Errorf("%w (exit %d): %s", ErrToolFailed, res.ExitCode, truncate(res.Stderr))
		span.SetStatus(codes.Error, failure.Error())
		return aspectOutcome{items: []record.Item{}, failure: failure}, nil
	}

	items, err := Sanitize(res.Stdout)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return aspectOutcome{items: []record.Item{}, failure: err}, nil
	}
	span.SetAttributes(attribute.Int("items", len(items)))
	return aspectOutcome{items: items}, nil
}

func (e *Extractor) run(ctx context.Context, command []string, args ...string) (RunResult, error) {
	if len(command) == 0 {
		return RunResult{}, errors.New("no command configured")
	}
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}
	full := append(append([]string{}, command[1:]...), args...)
	return e.runner.Run(ctx, command[0], full...)
}

// readMetadataFile returns the module's metadata.json verbatim, or nil when
// it is missing or not valid JSON.
func (e *Extractor) readMetadataFile(id record.Identity, moduleDir string) json.RawMessage {
	data, err := os.ReadFile(filepath.Join(moduleDir, metadataFileName))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			e.logger.Warn("Reading metadata.json failed", "module", id.Key(), "error", err)
		}
		return nil
	}
	if !json.Valid(data) {
		e.logger.Warn("metadata.json is not valid JSON", "module", id.Key())
		return nil
	}
	return json.RawMessage(data)
}

// readReadme returns the first README file at the module root, preferring
// README.md.
func (e *Extractor) readReadme(id record.Identity, moduleDir string) string {
	entries, err := os.ReadDir(moduleDir)
	if err != nil {
		return ""
	}
	var candidate string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		lower := strings.ToLower(name)
		if lower == "readme.md" {
			candidate = name
			break
		}
		if candidate == "" && strings.HasPrefix(lower, "readme") {
			candidate = name
		}
	}
	if candidate == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(moduleDir, candidate))
	if err != nil {
		e.logger.Warn("Reading README failed", "module", id.Key(), "file", candidate, "error", err)
		return ""
	}
	return string(data)
}

func (e *Extractor) observeExtraction(downloaded bool, d time.Duration) {
	if e.observer != nil {
		e.observer.ObserveExtraction(downloaded, d)
	}
}

const maxLoggedOutput = 2048

func truncate(b []byte) string {
	if len(b) > maxLoggedOutput {
		return string(b[:maxLoggedOutput]) + "...(truncated)"
	}
	return string(b)
}
