// Package extract runs the incremental date-windowed extraction for one
// stream pass: it pages through searchAnalytics results, turns rows into
// records, and advances the per-site bookmark.
package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/search-console-tap/internal/metrics"
	"github.com/JakeFAU/search-console-tap/internal/progress"
	"github.com/JakeFAU/search-console-tap/internal/searchconsole"
	"github.com/JakeFAU/search-console-tap/internal/state"
	"github.com/JakeFAU/search-console-tap/internal/streams"
	"github.com/JakeFAU/search-console-tap/internal/tap"
	"github.com/JakeFAU/search-console-tap/internal/telemetry"
)

// DateLayout is the calendar-day format of requests, records and bookmarks.
const DateLayout = "2006-01-02"

// Querier fetches one page of report rows.
type Querier interface {
	Query(ctx context.Context, site string, q searchconsole.Query) (searchconsole.Page, error)
}

// Validator checks a record against its stream schema.
type Validator interface {
	Validate(stream string, record tap.Record) error
}

// FieldHasher digests a name/value mapping into dimensions_hash_key.
type FieldHasher interface {
	HashFields(fields map[string]string) (string, error)
}

// Settings bound the extraction range and page size.
type Settings struct {
	StartDate time.Time
	// EndDate is inclusive; zero means today (UTC).
	EndDate      time.Time
	WindowDays   int
	LookbackDays int
	RowLimit     int
	DataState    string
}

// Options wires an Extractor.
type Options struct {
	Client    Querier
	State     *state.State
	Emitter   tap.Emitter
	Validator Validator
	Hasher    FieldHasher
	Clock     tap.Clock
	Progress  progress.Emitter
	RunID     [16]byte
	Settings  Settings
	Logger    *zap.Logger
}

// Stats totals the work done by an Extractor.
type Stats struct {
	Passes  int
	Pages   int
	Records int
}

// Extractor implements streams.SiteFetcher for one stream.
type Extractor struct {
	desc      streams.Descriptor
	client    Querier
	state     *state.State
	emitter   tap.Emitter
	validator Validator
	hasher    FieldHasher
	clock     tap.Clock
	progress  progress.Emitter
	runID     [16]byte
	settings  Settings
	logger    *zap.Logger
	tracer    trace.Tracer

	stats Stats
}

var _ streams.SiteFetcher = (*Extractor)(nil)

// New binds an Extractor to d.
func New(d streams.Descriptor, opts Options) (*Extractor, error) {
	switch {
	case opts.Client == nil:
		return nil, errors.New("extract: client is required")
	case opts.State == nil:
		return nil, errors.New("extract: state is required")
	case opts.Emitter == nil:
		return nil, errors.New("extract: emitter is required")
	case opts.Clock == nil:
		return nil, errors.New("extract: clock is required")
	case d.HasHashKey() && opts.Hasher == nil:
		return nil, fmt.Errorf("extract: stream %s needs a hasher", d.ID)
	case len(d.ReplicationKeys) == 0:
		return nil, fmt.Errorf("extract: stream %s has no replication key", d.ID)
	}
	s := opts.Settings
	if s.WindowDays <= 0 {
		return nil, errors.New("extract: window days must be > 0")
	}
	if s.RowLimit <= 0 {
		return nil, errors.New("extract: row limit must be > 0")
	}
	if s.StartDate.IsZero() {
		return nil, errors.New("extract: start date is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	prog := opts.Progress
	if prog == nil {
		prog = progress.Discard
	}
	metrics.Init()
	return &Extractor{
		desc:      d.Clone(),
		client:    opts.Client,
		state:     opts.State,
		emitter:   opts.Emitter,
		validator: opts.Validator,
		hasher:    opts.Hasher,
		clock:     opts.Clock,
		progress:  prog,
		runID:     opts.RunID,
		settings:  s,
		logger:    logger.With(zap.String("stream", d.ID)),
		tracer:    otel.Tracer(telemetry.TracerName),
	}, nil
}

// Stats returns the totals so far.
func (e *Extractor) Stats() Stats {
	return e.stats
}

// FetchSite syncs every search type of pass.
func (e *Extractor) FetchSite(ctx context.Context, pass streams.Pass) (err error) {
	ctx, span := e.tracer.Start(ctx, "extract.pass", trace.WithAttributes(
		attribute.String("stream", pass.Stream),
		attribute.String("site", pass.Site),
		attribute.String("search_appearance", pass.SearchAppearance),
	))
	started := e.clock.Now()
	before := e.stats
	e.emit(progress.Event{Stage: progress.StagePassStart, Stream: pass.Stream, Site: pass.Site, SearchAppearance: pass.SearchAppearance})
	defer func() {
		metrics.ObservePass(pass.Stream, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			e.stats.Passes++
			e.emit(progress.Event{
				Stage:            progress.StagePassDone,
				Stream:           pass.Stream,
				Site:             pass.Site,
				SearchAppearance: pass.SearchAppearance,
				Pages:            int64(e.stats.Pages - before.Pages),
				Records:          int64(e.stats.Records - before.Records),
				Dur:              e.clock.Now().Sub(started),
			})
		}
		span.End()
	}()

	for _, st := range pass.SearchTypes {
		if err := e.syncSearchType(ctx, pass, st); err != nil {
			return fmt.Errorf("search type %s: %w", st, err)
		}
	}
	return nil
}

func (e *Extractor) syncSearchType(ctx context.Context, pass streams.Pass, st streams.SearchType) error {
	key := state.BookmarkKey(string(st), pass.SearchAppearance, pass.Filtered)
	bookmark, hasBookmark := e.state.Bookmark(pass.Stream, pass.Site, key)

	start := e.settings.StartDate
	if hasBookmark {
		t, err := time.Parse(DateLayout, bookmark)
		if err != nil {
			return fmt.Errorf("bookmark %q for %s: %w", bookmark, key, err)
		}
		start = t
	}
	start = start.AddDate(0, 0, -e.settings.LookbackDays)
	end := e.settings.EndDate
	if end.IsZero() {
		end = e.clock.Now().UTC().Truncate(24 * time.Hour)
	}
	if start.After(end) {
		e.logger.Debug("nothing to sync",
			zap.String("site", pass.Site), zap.String("search_type", string(st)),
			zap.String("start", start.Format(DateLayout)), zap.String("end", end.Format(DateLayout)))
		return nil
	}

	for windowStart := start; !windowStart.After(end); windowStart = windowStart.AddDate(0, 0, e.settings.WindowDays) {
		windowEnd := windowStart.AddDate(0, 0, e.settings.WindowDays-1)
		if windowEnd.After(end) {
			windowEnd = end
		}
		maxSeen, err := e.syncWindow(ctx, pass, st, windowStart, windowEnd)
		if err != nil {
			return err
		}
		if maxSeen != "" && (!hasBookmark || maxSeen > bookmark) {
			bookmark, hasBookmark = maxSeen, true
			e.state.SetBookmark(pass.Stream, pass.Site, key, bookmark)
		}
		if err := e.emitter.WriteState(ctx, e.state); err != nil {
			return fmt.Errorf("write state: %w", err)
		}
	}
	return nil
}

// syncWindow pages through one date window and returns the largest
// replication value it emitted.
func (e *Extractor) syncWindow(ctx context.Context, pass streams.Pass, st streams.SearchType, from, to time.Time) (string, error) {
	replicationKey := e.desc.ReplicationKeys[0]
	var maxSeen string
	for startRow := 0; ; startRow += e.settings.RowLimit {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page, err := e.client.Query(ctx, pass.Site, searchconsole.Query{
			Body:       pass.Body,
			SearchType: st,
			StartDate:  from.Format(DateLayout),
			EndDate:    to.Format(DateLayout),
			StartRow:   startRow,
			RowLimit:   e.settings.RowLimit,
			DataState:  e.settings.DataState,
		})
		if err != nil {
			return "", err
		}
		extracted := e.clock.Now()
		for _, row := range page.Rows {
			rec, err := e.buildRecord(pass, st, row)
			if err != nil {
				return "", err
			}
			if e.validator != nil {
				if err := e.validator.Validate(pass.Stream, rec); err != nil {
					return "", err
				}
			}
			if err := e.emitter.WriteRecord(ctx, pass.Stream, rec, extracted); err != nil {
				return "", fmt.Errorf("write record: %w", err)
			}
			if v, ok := rec[replicationKey].(string); ok && v > maxSeen {
				maxSeen = v
			}
		}
		e.stats.Pages++
		e.stats.Records += len(page.Rows)
		metrics.ObserveRecords(pass.Stream, pass.Site, len(page.Rows))
		e.emit(progress.Event{
			Stage:            progress.StagePageDone,
			Stream:           pass.Stream,
			Site:             pass.Site,
			SearchAppearance: pass.SearchAppearance,
			SearchType:       string(st),
			Pages:            1,
			Records:          int64(len(page.Rows)),
		})
		if len(page.Rows) < e.settings.RowLimit {
			return maxSeen, nil
		}
	}
}

func (e *Extractor) buildRecord(pass streams.Pass, st streams.SearchType, row searchconsole.Row) (tap.Record, error) {
	dims := pass.Body.Dimensions
	if len(row.Keys) != len(dims) {
		return nil, fmt.Errorf("row has %d keys for %d dimensions", len(row.Keys), len(dims))
	}
	rec := tap.Record{
		streams.FieldSiteURL:     pass.Site,
		streams.FieldSearchType:  string(st),
		streams.FieldClicks:      int64(row.Clicks),
		streams.FieldImpressions: int64(row.Impressions),
		streams.FieldCTR:         row.CTR,
		streams.FieldPosition:    row.Position,
	}
	if pass.Filtered {
		rec[streams.FieldSearchAppearance] = pass.SearchAppearance
	}
	values := make(map[string]string, len(dims))
	for i, dim := range dims {
		rec[dim] = row.Keys[i]
		values[dim] = row.Keys[i]
	}
	if e.desc.HasHashKey() {
		h, err := e.hasher.HashFields(values)
		if err != nil {
			return nil, err
		}
		rec[streams.FieldDimensionsHashKey] = h
	}
	return rec, nil
}

func (e *Extractor) emit(evt progress.Event) {
	evt.RunID = e.runID
	evt.TS = e.clock.Now()
	e.progress.Emit(evt)
}
