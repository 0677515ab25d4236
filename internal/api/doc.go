// Package api serves the management HTTP API.
//
// All /api/ routes require a bearer token when a token hash is configured.
// Mutating routes are rate limited per client address. /metrics exposes
// Prometheus metrics and /healthz reports liveness; neither requires a
// token.
//
//	GET    /api/status
//	GET    /api/rules
//	POST   /api/rules/reload
//	GET    /api/blocklist
//	POST   /api/blocklist                   {"ip": "...", "duration": "1h"}
//	DELETE /api/blocklist/{ip}
//	GET    /api/geo
//	POST   /api/geo/enabled                 {"enabled": true}
//	POST   /api/geo/countries               {"code": "CN"}
//	DELETE /api/geo/countries/{code}
//	POST   /api/geo/threat-protection
//	POST   /api/firewall/start
//	POST   /api/firewall/stop
//	GET    /api/logs?limit=100&component=traffic
//	GET    /api/events?types=blocklist.added,decision.block   (websocket)
package api
