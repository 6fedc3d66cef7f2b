// Package runner drives a full sync: it selects streams, emits their
// schemas, runs every stream through the fan-out controller, and persists
// state between streams.
package runner

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/search-console-tap/internal/catalog"
	"github.com/JakeFAU/search-console-tap/internal/extract"
	"github.com/JakeFAU/search-console-tap/internal/progress"
	"github.com/JakeFAU/search-console-tap/internal/state"
	"github.com/JakeFAU/search-console-tap/internal/streams"
	"github.com/JakeFAU/search-console-tap/internal/tap"
)

// Options wires a Runner.
type Options struct {
	Registry *streams.Registry
	// Catalog defaults to the discovered catalog of Registry.
	Catalog  catalog.Catalog
	Client   extract.Querier
	States   state.Store
	Emitter  tap.Emitter
	Hasher   extract.FieldHasher
	Clock    tap.Clock
	Progress progress.Emitter
	Settings extract.Settings
	Sites    []string
	// Streams is the configured selection; it wins over catalog selection.
	Streams           []string
	SearchAppearances string
	StrictAppearances bool
	Logger            *zap.Logger
}

// Runner executes sync runs. Runs must not overlap.
type Runner struct {
	registry   *streams.Registry
	catalog    catalog.Catalog
	validator  *catalog.Validator
	client     extract.Querier
	states     state.Store
	emitter    tap.Emitter
	hasher     extract.FieldHasher
	clock      tap.Clock
	progress   progress.Emitter
	settings   extract.Settings
	sites      []string
	streams    []string
	controller *streams.Controller
	logger     *zap.Logger
}

// New validates opts and builds a Runner.
func New(opts Options) (*Runner, error) {
	switch {
	case opts.Registry == nil:
		return nil, errors.New("runner: registry is required")
	case opts.Client == nil:
		return nil, errors.New("runner: client is required")
	case opts.States == nil:
		return nil, errors.New("runner: state store is required")
	case opts.Emitter == nil:
		return nil, errors.New("runner: emitter is required")
	case opts.Clock == nil:
		return nil, errors.New("runner: clock is required")
	}
	cat := opts.Catalog
	if len(cat.Streams) == 0 {
		cat = catalog.Discover(opts.Registry)
	}
	validator, err := catalog.NewValidator(cat)
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	prog := opts.Progress
	if prog == nil {
		prog = progress.Discard
	}
	return &Runner{
		registry:   opts.Registry,
		catalog:    cat,
		validator:  validator,
		client:     opts.Client,
		states:     opts.States,
		emitter:    opts.Emitter,
		hasher:     opts.Hasher,
		clock:      opts.Clock,
		progress:   prog,
		settings:   opts.Settings,
		sites:      append([]string(nil), opts.Sites...),
		streams:    append([]string(nil), opts.Streams...),
		controller: streams.NewController(opts.SearchAppearances, opts.StrictAppearances, logger),
		logger:     logger,
	}, nil
}

// Catalog returns the catalog the runner validates against.
func (r *Runner) Catalog() catalog.Catalog {
	return r.catalog
}

// Run syncs the streams req selects and returns the totals. State is saved
// after every stream, so a failed run resumes from the last good bookmark.
func (r *Runner) Run(ctx context.Context, runID string, req tap.RunRequest) (tap.RunCounters, error) {
	id, err := progress.ParseRunID(runID)
	if err != nil {
		return tap.RunCounters{}, err
	}
	started := r.clock.Now()
	logger := r.logger.With(zap.String("run_id", runID))
	r.emit(progress.Event{RunID: id, Stage: progress.StageRunStart})

	counters, err := r.run(ctx, id, req, logger)
	if err != nil {
		r.emit(progress.Event{RunID: id, Stage: progress.StageRunError, Dur: r.clock.Now().Sub(started), Note: err.Error()})
		logger.Error("sync failed", zap.Error(err))
		return counters, err
	}
	r.emit(progress.Event{
		RunID:   id,
		Stage:   progress.StageRunDone,
		Pages:   int64(counters.Pages),
		Records: int64(counters.Records),
		Dur:     r.clock.Now().Sub(started),
	})
	logger.Info("sync finished",
		zap.Int("streams", counters.Streams),
		zap.Int("passes", counters.Passes),
		zap.Int("records", counters.Records))
	return counters, nil
}

func (r *Runner) run(ctx context.Context, runID [16]byte, req tap.RunRequest, logger *zap.Logger) (tap.RunCounters, error) {
	var counters tap.RunCounters
	selected, err := r.selectStreams(req)
	if err != nil {
		return counters, err
	}
	sites := r.sites
	if len(req.Sites) > 0 {
		sites = req.Sites
	}
	if len(sites) == 0 {
		return counters, errors.New("no sites to sync")
	}

	st, err := r.states.Load(ctx)
	if err != nil {
		return counters, fmt.Errorf("load state: %w", err)
	}
	selected = resumeOrder(selected, st.CurrentlySyncing())

	for _, d := range selected {
		entry, _ := r.catalog.Entry(d.ID)
		if err := r.emitter.WriteSchema(ctx, d.ID, entry.Schema, entry.KeyProperties, d.ReplicationKeys); err != nil {
			return counters, fmt.Errorf("write schema %s: %w", d.ID, err)
		}
	}

	for _, d := range selected {
		stats, err := r.syncStream(ctx, runID, d, sites, st, logger)
		counters.Passes += stats.Passes
		counters.Pages += stats.Pages
		counters.Records += stats.Records
		if err != nil {
			// Keep the bookmarks of the windows that did finish.
			if saveErr := r.states.Save(ctx, st); saveErr != nil {
				err = errors.Join(err, fmt.Errorf("save state: %w", saveErr))
			}
			if flushErr := r.emitter.Flush(ctx); flushErr != nil {
				err = errors.Join(err, fmt.Errorf("flush output: %w", flushErr))
			}
			return counters, err
		}
		counters.Streams++
		if err := r.states.Save(ctx, st); err != nil {
			return counters, fmt.Errorf("save state: %w", err)
		}
	}

	st.SetCurrentlySyncing("")
	if err := r.emitter.WriteState(ctx, st); err != nil {
		return counters, fmt.Errorf("write state: %w", err)
	}
	if err := r.states.Save(ctx, st); err != nil {
		return counters, fmt.Errorf("save state: %w", err)
	}
	if err := r.emitter.Flush(ctx); err != nil {
		return counters, fmt.Errorf("flush output: %w", err)
	}
	return counters, nil
}

func (r *Runner) syncStream(
	ctx context.Context,
	runID [16]byte,
	d streams.Descriptor,
	sites []string,
	st *state.State,
	logger *zap.Logger,
) (extract.Stats, error) {
	st.SetCurrentlySyncing(d.ID)
	if err := r.emitter.WriteState(ctx, st); err != nil {
		return extract.Stats{}, fmt.Errorf("write state: %w", err)
	}
	ext, err := extract.New(d, extract.Options{
		Client:    r.client,
		State:     st,
		Emitter:   r.emitter,
		Validator: r.validator,
		Hasher:    r.hasher,
		Clock:     r.clock,
		Progress:  r.progress,
		RunID:     runID,
		Settings:  r.settings,
		Logger:    logger,
	})
	if err != nil {
		return extract.Stats{}, err
	}
	logger.Info("syncing stream", zap.String("stream", d.ID), zap.Int("sites", len(sites)))
	err = r.controller.Run(ctx, d, sites, ext)
	return ext.Stats(), err
}

// selectStreams resolves the request, then the configured list, then the
// catalog's selection.
func (r *Runner) selectStreams(req tap.RunRequest) ([]streams.Descriptor, error) {
	ids := req.Streams
	if len(ids) == 0 {
		ids = r.streams
	}
	if len(ids) == 0 {
		ids = r.catalog.Selected()
		if len(ids) == 0 {
			return nil, errors.New("no streams selected")
		}
	}
	for _, id := range ids {
		if _, ok := r.catalog.Entry(id); !ok {
			return nil, fmt.Errorf("%w: %s is not in the catalog", streams.ErrUnknownStream, id)
		}
	}
	selected, err := r.registry.Select(ids)
	if err != nil {
		return nil, fmt.Errorf("select streams: %w", err)
	}
	return selected, nil
}

func (r *Runner) emit(evt progress.Event) {
	evt.TS = r.clock.Now()
	r.progress.Emit(evt)
}

// resumeOrder rotates selected so an interrupted stream runs first.
func resumeOrder(selected []streams.Descriptor, current string) []streams.Descriptor {
	for i, d := range selected {
		if d.ID == current && i > 0 {
			out := make([]streams.Descriptor, 0, len(selected))
			out = append(out, selected[i:]...)
			return append(out, selected[:i]...)
		}
	}
	return selected
}
