package storage

// Pagination describes one page of a listing.
type Pagination struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	Total   int  `json:"total"`
	Pages   int  `json:"pages"`
	HasMore bool `json:"hasMore"`
}

// NewPagination builds the pagination for a 1-based page. A limit below 1 is
// treated as 1.
func NewPagination(page, limit, total int) Pagination {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 1
	}
	return NewOffsetPagination(limit, (page-1)*limit, total)
}

// NewOffsetPagination builds the pagination for an explicit offset. Page is
// the page the offset falls in.
func NewOffsetPagination(limit, offset, total int) Pagination {
	if limit < 1 {
		limit = 1
	}
	if offset < 0 {
		offset = 0
	}
	if total < 0 {
		total = 0
	}
	return Pagination{
		Page:    offset/limit + 1,
		Limit:   limit,
		Offset:  offset,
		Total:   total,
		Pages:   (total + limit - 1) / limit,
		HasMore: offset+limit < total,
	}
}
