package streams

import "slices"

// Aggregation modes accepted by searchAnalytics.query.
const (
	AggregationAuto       = "auto"
	AggregationByProperty = "byProperty"
	AggregationByPage     = "byPage"
)

// Dimensions the API can group or filter by.
const (
	DimensionDate             = "date"
	DimensionCountry          = "country"
	DimensionDevice           = "device"
	DimensionPage             = "page"
	DimensionQuery            = "query"
	DimensionSearchAppearance = "searchAppearance"
)

// OperatorEquals is the only filter operator the tap sends.
const OperatorEquals = "equals"

// Filter is a single dimension/operator/expression triple.
type Filter struct {
	Dimension  string `json:"dimension"`
	Operator   string `json:"operator"`
	Expression string `json:"expression"`
}

// FilterGroup ANDs its filters together.
type FilterGroup struct {
	GroupType string   `json:"groupType,omitempty"`
	Filters   []Filter `json:"filters"`
}

// Body is the request-shape template for a stream. Values are treated as
// immutable: every method returns a fresh Body that shares no slices with the
// receiver.
type Body struct {
	AggregationType string        `json:"aggregationType"`
	Type            SearchType    `json:"type,omitempty"`
	Dimensions      []string      `json:"dimensions,omitempty"`
	FilterGroups    []FilterGroup `json:"dimensionFilterGroups,omitempty"`
}

// Clone returns a deep copy of b.
func (b Body) Clone() Body {
	out := Body{
		AggregationType: b.AggregationType,
		Type:            b.Type,
		Dimensions:      cloneStrings(b.Dimensions),
	}
	if b.FilterGroups != nil {
		out.FilterGroups = make([]FilterGroup, len(b.FilterGroups))
		for i, group := range b.FilterGroups {
			out.FilterGroups[i] = FilterGroup{GroupType: group.GroupType}
			if group.Filters != nil {
				out.FilterGroups[i].Filters = append([]Filter(nil), group.Filters...)
			}
		}
	}
	return out
}

// WithFilterExpression returns a copy of b where every filter on dimension
// carries expression.
func (b Body) WithFilterExpression(dimension, expression string) Body {
	out := b.Clone()
	for gi := range out.FilterGroups {
		for fi := range out.FilterGroups[gi].Filters {
			if out.FilterGroups[gi].Filters[fi].Dimension == dimension {
				out.FilterGroups[gi].Filters[fi].Expression = expression
			}
		}
	}
	return out
}

// FilterExpression reports the expression of the first filter on dimension.
func (b Body) FilterExpression(dimension string) (string, bool) {
	for _, group := range b.FilterGroups {
		for _, f := range group.Filters {
			if f.Dimension == dimension {
				return f.Expression, true
			}
		}
	}
	return "", false
}

// HasDimension reports whether name is one of the grouping dimensions.
func (b Body) HasDimension(name string) bool {
	return slices.Contains(b.Dimensions, name)
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
