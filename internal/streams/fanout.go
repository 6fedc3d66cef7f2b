package streams

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrEmptySearchAppearance is returned in strict mode when a pass would send
// an empty searchAppearance filter.
var ErrEmptySearchAppearance = errors.New("empty search appearance filter")

// ParseSearchAppearances turns the comma-separated config value into filter
// values. Every space is removed, not only leading and trailing ones, and an
// empty input yields a single empty value.
func ParseSearchAppearances(raw string) []string {
	return strings.Split(strings.ReplaceAll(raw, " ", ""), ",")
}

// Pass is one unit of extraction: a stream, a site and the request body to
// send for it.
type Pass struct {
	Stream string
	Site   string
	// SearchAppearance is the filter value when Filtered is true.
	SearchAppearance string
	Filtered         bool
	Body             Body
	SearchTypes      []SearchType
}

// SiteFetcher performs the extraction for a single pass.
type SiteFetcher interface {
	FetchSite(ctx context.Context, pass Pass) error
}

// SiteFetcherFunc adapts a function to SiteFetcher.
type SiteFetcherFunc func(ctx context.Context, pass Pass) error

// FetchSite calls f.
func (f SiteFetcherFunc) FetchSite(ctx context.Context, pass Pass) error {
	return f(ctx, pass)
}

// Controller expands a stream into passes and runs them one after another.
type Controller struct {
	appearances []string
	strict      bool
	logger      *zap.Logger
}

// NewController builds a Controller for the raw search-appearance setting.
func NewController(rawAppearances string, strict bool, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		appearances: ParseSearchAppearances(rawAppearances),
		strict:      strict,
		logger:      logger,
	}
}

// Appearances returns the parsed search-appearance values.
func (c *Controller) Appearances() []string {
	return append([]string(nil), c.appearances...)
}

// Plan lists the passes for d over sites. Search-appearance streams yield one
// pass per (site, appearance) pair with sites as the outer loop; every other
// stream yields one unfiltered pass per site.
func (c *Controller) Plan(d Descriptor, sites []string) ([]Pass, error) {
	if !d.PerSearchAppearance {
		passes := make([]Pass, 0, len(sites))
		for _, site := range sites {
			passes = append(passes, Pass{
				Stream:      d.ID,
				Site:        site,
				Body:        d.Body.Clone(),
				SearchTypes: d.SearchTypes(),
			})
		}
		return passes, nil
	}
	if c.strict {
		for _, appearance := range c.appearances {
			if appearance == "" {
				return nil, fmt.Errorf("stream %s: %w", d.ID, ErrEmptySearchAppearance)
			}
		}
	}
	passes := make([]Pass, 0, len(sites)*len(c.appearances))
	for _, site := range sites {
		for _, appearance := range c.appearances {
			passes = append(passes, Pass{
				Stream:           d.ID,
				Site:             site,
				SearchAppearance: appearance,
				Filtered:         true,
				Body:             d.Body.WithFilterExpression(DimensionSearchAppearance, appearance),
				SearchTypes:      d.SearchTypes(),
			})
		}
	}
	return passes, nil
}

// Run executes every planned pass sequentially. The first failing pass stops
// the stream and its error is returned wrapped.
func (c *Controller) Run(ctx context.Context, d Descriptor, sites []string, fetcher SiteFetcher) error {
	passes, err := c.Plan(d, sites)
	if err != nil {
		return err
	}
	for _, pass := range passes {
		if err := ctx.Err(); err != nil {
			return err
		}
		fields := []zap.Field{zap.String("stream", pass.Stream), zap.String("site", pass.Site)}
		if pass.Filtered {
			fields = append(fields, zap.String("search_appearance", pass.SearchAppearance))
		}
		c.logger.Info("starting sync", fields...)
		if err := fetcher.FetchSite(ctx, pass); err != nil {
			if pass.Filtered {
				return fmt.Errorf("stream %s site %s search appearance %q: %w", pass.Stream, pass.Site, pass.SearchAppearance, err)
			}
			return fmt.Errorf("stream %s site %s: %w", pass.Stream, pass.Site, err)
		}
		c.logger.Info("finished sync", fields...)
	}
	return nil
}
