// Package device defines the vocabulary shared by every part of the arbiter:
// what a device is, what we want it to do, and what the remote service says
// it is currently doing.
//
// # Key Types
//
//   - Device: static identity (ID, display name, ping membership, override window)
//   - Action: desired capability triples for one device
//   - AnyOf: a set of acceptable values for one capability
//   - Exclusions: (type, instance) pairs whose values are never compared
//   - Snapshot: the remote view of a device, with per-entry timestamps
//   - Registry: thread-safe catalogue with per-device mutation and override hooks
//
// # Value Comparison
//
// Values travel through JSON decoders, so 50 and 50.0 must compare equal.
// Equal and Accepts normalise both sides before comparing. Fingerprint gives a
// canonical string for an action sequence plus exclusions, used to decide
// whether two expected-state records describe the same intent.
//
// # Usage
//
//	reg := device.NewRegistry(15 * time.Minute)
//	cat, err := device.LoadCatalog("configs/devices.yaml")
//	if err != nil {
//	    return err
//	}
//	if _, err := cat.Apply(reg); err != nil {
//	    return err
//	}
//
//	action := device.OnTemperature("4f1c", 4500, 80)
//	sent := reg.Mutate(action) // brightness becomes AnyOf{80, 81} for big lamps
package device
