package query

import (
	"context"

	"github.com/edgeflare/advres/pkg/httputil"
	"github.com/edgeflare/advres/pkg/store"
)

// Pagination is the paging state of one request.
type Pagination struct {
	Page       int
	Limit      int
	StartIndex int64
	EndIndex   int64
	Total      int64
}

// NewPagination computes the window for page and limit.
func NewPagination(page, limit int, total int64) Pagination {
	return Pagination{
		Page:       page,
		Limit:      limit,
		StartIndex: int64(page-1) * int64(limit),
		EndIndex:   int64(page) * int64(limit),
		Total:      total,
	}
}

// PageRef points at a neighbouring page.
type PageRef struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// Links holds the neighbouring pages; absent neighbours are nil.
type Links struct {
	Next *PageRef `json:"next,omitempty"`
	Prev *PageRef `json:"prev,omitempty"`
}

// Links returns next when more documents follow this page and prev when
// this is not the first page.
func (p Pagination) Links() Links {
	var l Links
	if p.EndIndex < p.Total {
		l.Next = &PageRef{Page: p.Page + 1, Limit: p.Limit}
	}
	if p.StartIndex > 0 {
		l.Prev = &PageRef{Page: p.Page - 1, Limit: p.Limit}
	}
	return l
}

// Results is the response envelope. Count always equals len(Data).
type Results struct {
	Success    bool           `json:"success"`
	Count      int            `json:"count"`
	Pagination Links          `json:"pagination"`
	Data       []store.Record `json:"data"`
}

func newResults(data []store.Record, p Pagination) *Results {
	if data == nil {
		data = []store.Record{}
	}
	return &Results{
		Success:    true,
		Count:      len(data),
		Pagination: p.Links(),
		Data:       data,
	}
}

// ResultsFrom returns the results attached by AdvancedResults.
func ResultsFrom(ctx context.Context) (*Results, bool) {
	res, ok := ctx.Value(httputil.ResultsCtxKey).(*Results)
	return res, ok && res != nil
}

// WithResults returns a copy of ctx carrying res.
func WithResults(ctx context.Context, res *Results) context.Context {
	return context.WithValue(ctx, httputil.ResultsCtxKey, res)
}
