package querysync

// QueryState is the rendered view of one query engine instance. Bindings
// read it to decide between skeleton, spinner, data, and error presentation.
type QueryState[T any] struct {
	// Data is the last successfully resolved value, kept through later
	// failures so the binding can keep rendering something useful.
	Data T

	// HasData distinguishes the zero value of T from "nothing resolved yet".
	HasData bool

	// IsLoading is true only until the first resolution, whether that came
	// from the source of truth or from adopting a cached value. Later
	// revalidations never flip it back.
	IsLoading bool

	// IsFetching is true whenever a fetch is in flight, including background
	// revalidation and every attempt of a retry chain.
	IsFetching bool

	// IsError is true once a fetch has exhausted its retry budget. It is
	// cleared when the next fetch starts.
	IsError bool

	// Err is the most recent fetch error. It can be non-nil while IsError is
	// still false during an ongoing retry chain.
	Err error
}

// MutationState is the rendered view of one mutation engine instance. It
// only changes when the mutation runs or Reset is called.
type MutationState[T any] struct {
	// Data is the result of the last successful mutation.
	Data T

	// HasData reports whether Data is valid.
	HasData bool

	// IsLoading is true while the mutation function runs.
	IsLoading bool

	// IsError reports that the last run failed.
	IsError bool

	// Err is the failure of the last run.
	Err error
}

// PaginationState describes where a paginated query currently stands.
type PaginationState struct {
	// Page is the current 1-based page.
	Page int

	// PageSize is the number of items per page.
	PageSize int

	// Total is the total item count reported by the most recent page fetch.
	Total int

	// TotalPages derives from Total and PageSize.
	TotalPages int

	// HasNext reports whether a page after the current one exists.
	HasNext bool

	// HasPrev reports whether a page before the current one exists.
	HasPrev bool
}
