package query

import (
	"context"
	"net/http"
	"net/url"
	"slices"

	"go.uber.org/zap"

	"github.com/edgeflare/advres/pkg/httputil"
	"github.com/edgeflare/advres/pkg/metrics"
	"github.com/edgeflare/advres/pkg/store"
)

// Request is a parsed query string.
type Request struct {
	Filter store.Filter
	Select []string
	Sort   []store.SortField
	Page   int
	Limit  int
}

// ParseRequest translates values into a Request. Page and limit fall back to
// their defaults when absent, unparseable or below 1.
func ParseRequest(values url.Values, opts ...Option) (*Request, error) {
	return parseRequest(values, newOptions(opts))
}

func parseRequest(values url.Values, o *options) (*Request, error) {
	filter, err := Translate(values)
	if err != nil {
		return nil, err
	}

	req := &Request{
		Filter: filter,
		Page:   parseIntParam(values.Get(ParamPage), DefaultPage),
		Limit:  parseIntParam(values.Get(ParamLimit), o.defaultLimit),
	}
	if o.maxLimit > 0 && req.Limit > o.maxLimit {
		req.Limit = o.maxLimit
	}

	if sel := values.Get(ParamSelect); sel != "" {
		req.Select = splitList(sel)
	}
	if sort := values.Get(ParamSort); sort != "" {
		req.Sort = store.ParseSort(splitList(sort)...)
	} else if o.defaultSort != "" {
		req.Sort = store.ParseSort(splitList(o.defaultSort)...)
	}
	return req, nil
}

// Execute runs the query described by values against model and returns the
// envelope.
func Execute(ctx context.Context, model store.Model, values url.Values, opts ...Option) (*Results, error) {
	return execute(ctx, model, values, newOptions(opts), nil)
}

func execute(ctx context.Context, model store.Model, values url.Values, o *options, logger *zap.Logger) (*Results, error) {
	if logger == nil {
		logger = o.logger
	}

	req, err := parseRequest(values, o)
	if err != nil {
		return nil, err
	}

	q := model.Find(req.Filter)
	if len(req.Select) > 0 {
		q = q.Select(req.Select...)
	}
	if values.Get(ParamSort) == "" {
		req.Sort = knownFields(model, req.Sort)
	}
	if len(req.Sort) > 0 {
		q = q.Sort(req.Sort...)
	}

	var countFilter store.Filter
	if o.filteredTotal {
		countFilter = req.Filter
	}
	total, err := model.CountDocuments(ctx, countFilter)
	if err != nil {
		logger.Debug("count documents failed", zap.String("resource", o.name), zap.Error(err))
		return nil, err
	}

	p := NewPagination(req.Page, req.Limit, total)
	q = q.Skip(p.StartIndex).Limit(int64(p.Limit))
	if len(o.populate) > 0 {
		q = q.Populate(o.populate...)
	}

	data, err := q.Exec(ctx)
	if err != nil {
		logger.Debug("find failed", zap.String("resource", o.name), zap.Error(err))
		return nil, err
	}

	res := newResults(data, p)
	logger.Debug("advanced results",
		zap.String("resource", o.name),
		zap.Any("filter", req.Filter),
		zap.Int("page", p.Page),
		zap.Int("limit", p.Limit),
		zap.Int64("total", total),
		zap.Int("count", res.Count),
	)
	metrics.ResultsReturned.WithLabelValues(o.name).Observe(float64(res.Count))
	return res, nil
}

// AdvancedResults returns a middleware that runs the request's query string
// against model and attaches the envelope to the request context for the
// next handler (see ResultsFrom). On failure the error is rendered and next
// is not called.
func AdvancedResults(model store.Model, opts ...Option) httputil.Middleware {
	o := newOptions(opts)
	return func(next http.Handler) http.Handler {
		return httputil.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
			res, err := execute(r.Context(), model, r.URL.Query(), o, httputil.Logger(r, o.logger))
			if err != nil {
				return err
			}
			next.ServeHTTP(w, r.WithContext(WithResults(r.Context(), res)))
			return nil
		})
	}
}

// WriteResults answers 200 with the envelope attached to the request.
func WriteResults(w http.ResponseWriter, r *http.Request) {
	res, ok := ResultsFrom(r.Context())
	if !ok {
		httputil.RenderError(w, r, httputil.NewErrorResponse("Server Error", http.StatusInternalServerError))
		return
	}
	httputil.JSON(w, http.StatusOK, res)
}

// Handler serves the advanced results of model as JSON.
func Handler(model store.Model, opts ...Option) http.Handler {
	return AdvancedResults(model, opts...)(http.HandlerFunc(WriteResults))
}

// Mount registers GET /<name> on router serving the advanced results of model.
func Mount(router *httputil.Router, name string, model store.Model, opts ...Option) {
	opts = append([]Option{WithName(name)}, opts...)
	router.Handle("GET /"+name, Handler(model, opts...))
}

// knownFields drops default sort fields the model does not have, so a table
// without createdAt is served unsorted instead of failing.
func knownFields(model store.Model, sort []store.SortField) []store.SortField {
	fc, ok := model.(store.FieldChecker)
	if !ok {
		return sort
	}
	return slices.DeleteFunc(sort, func(f store.SortField) bool { return !fc.HasField(f.Field) })
}
