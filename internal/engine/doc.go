// Package engine arbitrates device actions between concurrent automations and
// verifies that devices actually did what they were told.
//
// The engine sits between automation code and a remote.Adapter. It owns four
// per-device stores:
//
//   - State cache: snapshots memoized per freshness bucket, with
//     concurrent reads of one bucket collapsed into one remote call
//   - Quarantine: devices excluded after a surfaced failure, optionally
//     holding the last denied action for replay on recovery
//   - Locks: priority-levelled, expiring claims; expired locks are ignored
//     on access, never swept
//   - Expected state: what the engine last commanded, keyed by a fingerprint
//     of the actions and exclusions so races can be told from real drift
//
// # Dispatch and verification
//
// DevicesAction filters actions through AskPermissions, records expected
// state for checkable actions before the write, applies each device's
// mutation hook and sends the batch under the retry policy.
// ChangeDevicesCapabilities wraps dispatch and Verify in one retried unit.
//
// # Supervisors
//
// Start runs four periodic loops and two worker pools:
//
//	drift     every DriftInterval   Checked -> Suspect -> Checked | OverrideConfirmed
//	recovery  every RecoveryInterval probe quarantined devices, replay or re-baseline
//	ping      every PingInterval    read pinged devices, seed expected state
//	stats     every StatsInterval   request, queue and failure-ratio metrics
//
// A confirmed override locks the device at OverridePriority until the
// device's human-control window ends and adopts the observed state as the
// new baseline.
package engine
