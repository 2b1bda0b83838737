package common

import (
	"net/http"
	"strconv"
)

// MaxPerPage caps the page size clients may request.
const MaxPerPage = 100

// Pagination holds pagination metadata for list responses.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

// ParsePagination reads ?page and ?limit, defaulting to page 1 and
// defaultPerPage, and caps the page size at MaxPerPage.
func ParsePagination(r *http.Request, defaultPerPage int) Pagination {
	p := Pagination{Page: 1, PerPage: defaultPerPage}
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		p.Page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		p.PerPage = v
	}
	p.PerPage = min(p.PerPage, MaxPerPage)
	return p
}

// Offset returns the number of items before the current page.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// WithTotal fills in the item and page counts.
func (p Pagination) WithTotal(total int) Pagination {
	p.TotalItems = total
	if p.PerPage > 0 {
		p.TotalPages = (total + p.PerPage - 1) / p.PerPage
	}
	return p
}
