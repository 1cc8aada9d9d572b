package query

import (
	"go.uber.org/zap"

	"github.com/edgeflare/advres/pkg/store"
)

const (
	DefaultPage  = 1
	DefaultLimit = 25
	DefaultSort  = "-createdAt"
)

// Option configures AdvancedResults.
type Option func(*options)

type options struct {
	name          string
	populate      []store.Populate
	defaultSort   string
	defaultLimit  int
	maxLimit      int
	filteredTotal bool
	logger        *zap.Logger
}

func newOptions(opts []Option) *options {
	o := &options{
		defaultSort:  DefaultSort,
		defaultLimit: DefaultLimit,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithName labels the resource in logs and metrics.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithPopulate expands the given relations on every result.
func WithPopulate(p ...store.Populate) Option {
	return func(o *options) { o.populate = append(o.populate, p...) }
}

// WithDefaultSort sets the sort used when the request has none. An empty
// string disables default sorting.
func WithDefaultSort(sort string) Option {
	return func(o *options) { o.defaultSort = sort }
}

// WithDefaultLimit sets the page size used when limit is absent or invalid.
func WithDefaultLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.defaultLimit = n
		}
	}
}

// WithMaxLimit caps the requested page size. Zero means uncapped.
func WithMaxLimit(n int) Option {
	return func(o *options) { o.maxLimit = max(n, 0) }
}

// WithFilteredTotal makes pagination count only the documents matching the
// filter instead of the whole collection.
func WithFilteredTotal() Option {
	return func(o *options) { o.filteredTotal = true }
}

// WithLogger sets the logger used when the request context carries none.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
