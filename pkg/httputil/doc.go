// Package httputil provides the JSON envelope, request parsing and HTTP
// middleware shared by the API handlers.
//
// Every API response uses the same envelope:
//
//	{"ok": true, "status": 200, "data": {...}}
//	{"ok": false, "status": 400, "error": "quantity is required"}
//
// Provider failures carry the provider's response body in "detail":
//
//	httputil.WriteErrorDetail(w, http.StatusInternalServerError, "provider rejected request", res.Data)
package httputil
