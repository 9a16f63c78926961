// Package api provides the HTTP REST API and WebSocket event stream for
// Gray Logic Dispatch.
//
// Routes (all under /api/v1 except /metrics):
//
//	POST   /commands                 submit a command
//	GET    /commands                 list commands (status, device_id, source, since, until, limit, offset)
//	GET    /commands/stats           queue, processor, adapter, ack and store statistics
//	DELETE /commands?older_than=24h  remove old terminal records
//	GET    /commands/{id}            command record
//	POST   /commands/{id}/cancel     cancel a queued or retrying command
//	POST   /commands/{id}/retry      re-submit a failed command
//	POST   /acks                     acknowledgement from an HTTP device
//	GET    /devices, /devices/{id}   device registry
//	GET    /audit                    lifecycle audit trail
//	GET    /health                   component health
//	GET    /ws                       lifecycle event stream (types, device_id, command_id filters)
//	GET    /metrics                  Prometheus exposition
//
// Errors are returned as {"error": {"code": "...", "message": "..."}}.
//
// The server follows the same lifecycle as the infrastructure components:
//
//	srv, err := api.New(deps)
//	srv.Start(ctx)
//	defer srv.Close()
package api
