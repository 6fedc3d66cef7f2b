package streams

// SearchType scopes a query to one category of search result.
type SearchType string

// Search types understood by the API.
const (
	SearchTypeWeb        SearchType = "web"
	SearchTypeImage      SearchType = "image"
	SearchTypeVideo      SearchType = "video"
	SearchTypeNews       SearchType = "news"
	SearchTypeGoogleNews SearchType = "googleNews"
	SearchTypeDiscover   SearchType = "discover"
)

// DefaultSubTypes returns the full search-type set in sync order.
func DefaultSubTypes() []SearchType {
	return []SearchType{
		SearchTypeWeb,
		SearchTypeImage,
		SearchTypeVideo,
		SearchTypeNews,
		SearchTypeGoogleNews,
		SearchTypeDiscover,
	}
}

// Valid reports whether t is a known search type.
func (t SearchType) Valid() bool {
	switch t {
	case SearchTypeWeb, SearchTypeImage, SearchTypeVideo, SearchTypeNews, SearchTypeGoogleNews, SearchTypeDiscover:
		return true
	default:
		return false
	}
}
