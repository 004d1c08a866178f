package domain

// PaginationParams carries the page window for paged listings, chiefly the
// open-request pool. Page is 1-indexed; NewPaginationParams caps Limit at 100.
type PaginationParams struct {
	// Page is the 1-indexed page number.
	Page int
	// Limit is the page size.
	Limit int
}

// NewPaginationParams builds a PaginationParams from optional query values.
// Nil or out-of-range inputs fall back to page=1, limit=20; the limit is
// capped at 100.
func NewPaginationParams(page, limit *int) PaginationParams {
	p := PaginationParams{Page: 1, Limit: 20}
	if page != nil && *page >= 1 {
		p.Page = *page
	}
	if limit != nil && *limit >= 1 {
		p.Limit = *limit
		if p.Limit > 100 {
			p.Limit = 100
		}
	}
	return p
}

// Offset returns the zero-based row offset matching the page window.
func (p PaginationParams) Offset() int {
	return (p.Page - 1) * p.Limit
}
