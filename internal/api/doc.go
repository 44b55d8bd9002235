// Package api provides the operations HTTP API and WebSocket event feed for
// the serial bridge.
//
// Routes (all under /api/v1):
//
//	GET  /health                  liveness and version
//	GET  /status                  session states and pending command count
//	GET  /pending                 commands awaiting acknowledgment
//	GET  /devices                 configured devices with session state
//	GET  /devices/{id}            one device
//	POST /devices/{id}/commands   route a manual command to a device
//	GET  /ws                      live readings and command outcomes
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
