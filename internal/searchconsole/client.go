// Package searchconsole wraps the Search Console API with pacing, retries,
// metrics and tracing.
package searchconsole

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/api/searchconsole/v1"

	"github.com/JakeFAU/search-console-tap/internal/metrics"
	"github.com/JakeFAU/search-console-tap/internal/streams"
	"github.com/JakeFAU/search-console-tap/internal/telemetry"
)

const (
	opQuery     = "searchanalytics.query"
	opListSites = "sites.list"
)

// Waiter paces calls per property.
type Waiter interface {
	Wait(ctx context.Context, site string) error
}

// Query is one searchAnalytics.query page request.
type Query struct {
	Body       streams.Body
	SearchType streams.SearchType
	StartDate  string
	EndDate    string
	StartRow   int
	RowLimit   int
	DataState  string
}

// Row is one result row; Keys follow the order of Body.Dimensions.
type Row struct {
	Keys        []string
	Clicks      float64
	Impressions float64
	CTR         float64
	Position    float64
}

// Page is one page of query results.
type Page struct {
	Rows            []Row
	AggregationType string
}

// Site is a property the credentials can read.
type Site struct {
	URL             string `json:"site_url"`
	PermissionLevel string `json:"permission_level"`
}

// Options configures a Client.
type Options struct {
	HTTPClient *http.Client
	Endpoint   string
	UserAgent  string
	Limiter    Waiter
	Retry      *RetryPolicy
	Logger     *zap.Logger
}

// Client issues Search Console requests.
type Client struct {
	svc     *searchconsole.Service
	limiter Waiter
	retry   *RetryPolicy
	logger  *zap.Logger
	tracer  trace.Tracer
	sleep   func(ctx context.Context, d time.Duration) error
}

// New builds a Client. A nil HTTPClient means application default
// credentials are used.
func New(ctx context.Context, opts Options) (*Client, error) {
	var clientOpts []option.ClientOption
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}
	if opts.UserAgent != "" {
		clientOpts = append(clientOpts, option.WithUserAgent(opts.UserAgent))
	}
	svc, err := searchconsole.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create search console service: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	retry := opts.Retry
	if retry == nil {
		retry = NewRetryPolicy(0, 0, 0)
	}
	metrics.Init()
	return &Client{
		svc:     svc,
		limiter: opts.Limiter,
		retry:   retry,
		logger:  logger,
		tracer:  otel.Tracer(telemetry.TracerName),
		sleep:   sleepCtx,
	}, nil
}

// Query fetches one page of searchAnalytics rows for site.
func (c *Client) Query(ctx context.Context, site string, q Query) (Page, error) {
	ctx, span := c.tracer.Start(ctx, opQuery, trace.WithAttributes(
		attribute.String("site", site),
		attribute.String("search_type", string(q.SearchType)),
		attribute.String("start_date", q.StartDate),
		attribute.String("end_date", q.EndDate),
		attribute.Int("start_row", q.StartRow),
	))
	defer span.End()

	req := buildRequest(q)
	var resp *searchconsole.SearchAnalyticsQueryResponse
	err := c.do(ctx, opQuery, site, func(ctx context.Context) error {
		var callErr error
		resp, callErr = c.svc.Searchanalytics.Query(site, req).Context(ctx).Do()
		return callErr
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Page{}, fmt.Errorf("query %s (%s %s..%s row %d): %w",
			site, q.SearchType, q.StartDate, q.EndDate, q.StartRow, err)
	}

	page := Page{AggregationType: resp.ResponseAggregationType, Rows: make([]Row, 0, len(resp.Rows))}
	for _, r := range resp.Rows {
		if r == nil {
			continue
		}
		page.Rows = append(page.Rows, Row{
			Keys:        r.Keys,
			Clicks:      r.Clicks,
			Impressions: r.Impressions,
			CTR:         r.Ctr,
			Position:    r.Position,
		})
	}
	span.SetAttributes(attribute.Int("rows", len(page.Rows)))
	return page, nil
}

// ListSites returns the properties visible to the credentials.
func (c *Client) ListSites(ctx context.Context) ([]Site, error) {
	ctx, span := c.tracer.Start(ctx, opListSites)
	defer span.End()

	var resp *searchconsole.SitesListResponse
	err := c.do(ctx, opListSites, "", func(ctx context.Context) error {
		var callErr error
		resp, callErr = c.svc.Sites.List().Context(ctx).Do()
		return callErr
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list sites: %w", err)
	}
	sites := make([]Site, 0, len(resp.SiteEntry))
	for _, entry := range resp.SiteEntry {
		if entry == nil {
			continue
		}
		sites = append(sites, Site{URL: entry.SiteUrl, PermissionLevel: entry.PermissionLevel})
	}
	return sites, nil
}

func (c *Client) do(ctx context.Context, op, site string, call func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, site); err != nil {
				return err
			}
		}
		start := time.Now()
		err := call(ctx)
		metrics.ObserveAPICall(op, err, time.Since(start))
		if err == nil {
			return nil
		}
		if !c.retry.ShouldRetry(err, attempt+1) {
			return err
		}
		wait := c.retry.Backoff(attempt)
		c.logger.Warn("retrying search console call",
			zap.String("operation", op),
			zap.String("site", site),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		metrics.ObserveAPIRetry(op)
		if sleepErr := c.sleep(ctx, wait); sleepErr != nil {
			return errors.Join(sleepErr, err)
		}
	}
}

func buildRequest(q Query) *searchconsole.SearchAnalyticsQueryRequest {
	req := &searchconsole.SearchAnalyticsQueryRequest{
		AggregationType: q.Body.AggregationType,
		Dimensions:      append([]string(nil), q.Body.Dimensions...),
		StartDate:       q.StartDate,
		EndDate:         q.EndDate,
		Type:            string(q.SearchType),
		RowLimit:        int64(q.RowLimit),
		StartRow:        int64(q.StartRow),
		DataState:       q.DataState,
	}
	for _, group := range q.Body.FilterGroups {
		g := &searchconsole.ApiDimensionFilterGroup{GroupType: group.GroupType}
		for _, f := range group.Filters {
			g.Filters = append(g.Filters, &searchconsole.ApiDimensionFilter{
				Dimension:  f.Dimension,
				Operator:   f.Operator,
				Expression: f.Expression,
				// An empty expression must still be sent.
				ForceSendFields: []string{"Expression"},
			})
		}
		req.DimensionFilterGroups = append(req.DimensionFilterGroups, g)
	}
	return req
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
