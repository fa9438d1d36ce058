// Package gateway is the fleet's control endpoint.
//
// # Routes
//
// Every route below is also mounted under /api/:
//
//	GET  /install   redirect to the platform authorize page (signed state)
//	GET  /start     OAuth callback: exchange, activate, persist
//	POST /stop      reserved, answers 400 "not implemented yet"
//	GET  /status    {"botsCount": n, "sessions": m, "status": {...}}
//
// plus GET /health, /success.html, /error.html and /static/*. Responses
// carry permissive CORS headers.
//
// # Onboarding
//
// /start never returns an error body once the code is present: it ends on
// /success.html, or on /error.html?message=... with the failure text. A
// token that is already live is rejected before activation, and the
// supervisor's reservation catches concurrent duplicates. The tenant is
// stored after the connection is up, using the connection's copy so a
// completed welcome is not stored as first-run again.
//
// # Health
//
// When server.grpc_addr is set (or tailscale is enabled) a grpc.health.v1
// service reports coven.fleet as SERVING while at least one bot is
// connected. Pass Health.Update as the supervisor's OnChange hook.
//
// # Listeners
//
// With tailscale.enabled the gateway joins the tailnet through tsnet and
// listens on :80 (or :443 with https/funnel) and :50051 for gRPC; the
// server addresses are ignored.
package gateway
