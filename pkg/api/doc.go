// Package api exposes the billing service over HTTP.
//
// Routes are grouped the same way the service is: BillingHandlers serve the
// provider-facing endpoints (webhook, sync, cancel, plan ensure, quotes) and
// OrgHandlers serve tenant-facing ones (registration, checkout, usage,
// downgrade). Server wires both onto a gorilla/mux router together with
// health, metrics and the request middleware chain:
//
//	server := api.NewServer(api.Deps{
//		Service: synchronizer,
//		Logger:  logger,
//		Metrics: metrics,
//	})
//	http.ListenAndServe(":8080", server)
//
// All responses use the httputil envelope. Webhook deliveries that change
// nothing (unknown tenant, unhandled type, duplicate, stale) still answer 200
// so the provider stops retrying.
package api
