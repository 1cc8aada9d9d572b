// Package query translates HTTP query strings into store queries and wraps
// the results in a paginated envelope ("advanced results").
//
// Query parameters:
//
//	Parameter             | Description
//	----------------------|------------------------------------------------
//	?select=name,age      | Project fields (prefix with - to exclude)
//	?sort=-price,name     | Order results (- for descending, default -createdAt)
//	?page=2               | Page number (default 1)
//	?limit=10             | Page size (default 25)
//	?name=Devworks        | Filter by equality
//	?price[gt]=100        | Comparison operators: gt, gte, lt, lte, in
//	?careers[in]=a,b      | Membership, comma separated or repeated careers[in]=...
//	?tags[]=a&tags[]=b    | Match any of the listed values
//	?location[state]=MA   | Sub-document match
//
// Operator keywords are rewritten to their prefixed form ($gt, $in, ...) by
// walking the parsed filter. Keywords outside that set are left as literal
// keys and mean whatever the backend makes of a literal key.
//
// The response envelope:
//
//	{
//	  "success": true,
//	  "count": 2,
//	  "pagination": {"next": {"page": 3, "limit": 2}, "prev": {"page": 1, "limit": 2}},
//	  "data": [...]
//	}
//
// pagination.next is present iff page*limit < total and pagination.prev iff
// (page-1)*limit > 0. total counts the whole collection, not the filtered
// set, unless WithFilteredTotal is given.
//
// Example usage:
//
//	r := httputil.NewRouter()
//	query.Mount(r, "bootcamps", bootcamps, query.WithPopulate(store.Populate{Path: "courses"}))
package query
