// Package httputil provides HTTP handler utilities for consistent error handling,
// JSON encoding/decoding, and request parsing.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, page)
//	httputil.WriteBadRequest(w, "invalid filter")
//
// Error bodies follow the negotiated representation:
//
//	httputil.WriteFormattedError(w, http.StatusInternalServerError, httputil.ContentTypeJSONLD, msg)
//
// # Request Parsing
//
//	id, err := httputil.ParsePathInt64(r, "id")
//	perPage, err := httputil.ParseQueryInt(r, "per_page", 30)
//	after, err := httputil.ParseQueryTime(r, "created_after")
//	categories := httputil.ParseQueryList(r, "category")
package httputil
