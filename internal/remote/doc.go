// Package remote talks to the cloud device service.
//
// The Adapter interface is the whole contract the engine depends on: read
// one device, write a batch of actions. Two implementations exist:
//
//   - HTTPClient: the production client for the cloud REST API
//     (GET /v1.0/devices/{id}, POST /v1.0/devices/actions, bearer token)
//   - Simulator: an in-memory device farm with scriptable failures
//
// # Failure Classification
//
//	timeout (deadline exceeded)         → fault.KindTimeout
//	transport error, 5xx, non-JSON body → fault.KindServer
//	undecodable JSON                    → fault.KindServer
//	404                                 → fault.KindOffline
//	other 4xx, status != "ok"           → fault.KindClient
//	state != "online"                   → fault.KindOffline
//	property with last_updated == 0     → fault.KindOffline
//	action status != "DONE"             → fault.KindOffline (per device)
//
// Devices flagged as slow-link get the long timeout (60s by default)
// instead of the normal 3s.
package remote
