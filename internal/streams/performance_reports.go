package streams

// Stream ids of the performance reports.
const (
	PerformanceReportCustom           = "performance_report_custom"
	PerformanceReportDate             = "performance_report_date"
	PerformanceReportCountry          = "performance_report_country"
	PerformanceReportSearchAppearance = "performance_report_search_appearance"
	PerformanceReportDevice           = "performance_report_device"
	PerformanceReportPage             = "performance_report_page"
	PerformanceReportQuery            = "performance_report_query"
)

func defaultDescriptors() []Descriptor {
	return []Descriptor{
		{
			ID:              PerformanceReportCustom,
			KeyProperties:   []string{FieldSiteURL, FieldSearchType, DimensionDate, FieldDimensionsHashKey},
			ReplicationKeys: []string{DimensionDate},
			SubTypes:        DefaultSubTypes(),
			Body: Body{
				AggregationType: AggregationAuto,
				Dimensions: []string{
					DimensionDate, DimensionCountry, DimensionDevice, DimensionPage, DimensionQuery,
				},
			},
		},
		{
			ID:              PerformanceReportDate,
			KeyProperties:   []string{FieldSiteURL, FieldSearchType, DimensionDate},
			ReplicationKeys: []string{DimensionDate},
			SubTypes:        DefaultSubTypes(),
			Body: Body{
				AggregationType: AggregationByProperty,
				Dimensions:      []string{DimensionDate},
			},
		},
		{
			ID:              PerformanceReportCountry,
			KeyProperties:   []string{FieldSiteURL, FieldSearchType, DimensionDate, DimensionCountry},
			ReplicationKeys: []string{DimensionDate},
			SubTypes:        DefaultSubTypes(),
			Body: Body{
				AggregationType: AggregationByProperty,
				Dimensions:      []string{DimensionDate, DimensionCountry},
			},
		},
		{
			ID:              PerformanceReportSearchAppearance,
			KeyProperties:   []string{FieldSiteURL, FieldSearchType, DimensionDate, DimensionPage},
			ReplicationKeys: []string{DimensionDate},
			SubTypes:        DefaultSubTypes(),
			Body: Body{
				AggregationType: AggregationByProperty,
				Type:            SearchTypeWeb,
				Dimensions:      []string{DimensionDate, DimensionPage},
				FilterGroups: []FilterGroup{{
					Filters: []Filter{{
						Dimension: DimensionSearchAppearance,
						Operator:  OperatorEquals,
					}},
				}},
			},
			PerSearchAppearance: true,
		},
		{
			// discover cannot be grouped by device.
			ID:              PerformanceReportDevice,
			KeyProperties:   []string{FieldSiteURL, FieldSearchType, DimensionDate, DimensionDevice},
			ReplicationKeys: []string{DimensionDate},
			SubTypes: []SearchType{
				SearchTypeGoogleNews, SearchTypeImage, SearchTypeNews, SearchTypeVideo, SearchTypeWeb,
			},
			Body: Body{
				AggregationType: AggregationByProperty,
				Dimensions:      []string{DimensionDate, DimensionDevice},
			},
		},
		{
			ID:              PerformanceReportPage,
			KeyProperties:   []string{FieldSiteURL, FieldSearchType, DimensionDate, DimensionPage},
			ReplicationKeys: []string{DimensionDate, DimensionPage},
			SubTypes:        DefaultSubTypes(),
			Body: Body{
				AggregationType: AggregationByPage,
				Dimensions:      []string{DimensionDate, DimensionPage},
			},
		},
		{
			// Query grouping is rejected for discover and googleNews.
			ID:              PerformanceReportQuery,
			KeyProperties:   []string{FieldSiteURL, FieldSearchType, DimensionDate, DimensionQuery},
			ReplicationKeys: []string{DimensionDate},
			SubTypes: []SearchType{
				SearchTypeImage, SearchTypeNews, SearchTypeVideo, SearchTypeWeb,
			},
			Body: Body{
				AggregationType: AggregationByProperty,
				Dimensions:      []string{DimensionDate, DimensionQuery},
			},
		},
	}
}
