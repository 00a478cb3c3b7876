// Package trust keeps the per-contact trust ledger: trust on first use,
// out-of-band fingerprint verification, key-change detection and per-device
// approval.
//
// # Levels
//
//	Unknown    --verify-->  Verified
//	KeyChanged --verify-->  Verified
//	any        --block--->  Blocked
//	Blocked    --unblock->  Unknown
//	any        --new keys-> KeyChanged
//
// A key change is never suppressed, not even for a Blocked contact. Every
// OnKeyChanged listener receives a KeyChangeWarning that should be shown as
// a blocking prompt.
//
//	store := trust.NewStore(persister)
//	if err := store.Load(ctx); err != nil {
//	    return err
//	}
//	obs, err := store.Observe(ctx, contact, pub)
//	if obs.KeyChanged {
//	    // ask the user before continuing
//	}
//
// # Devices
//
// A device absent from a record is pending. ApproveDevice and RejectDevice
// change only that device's entry, and a forged device key never changes a
// record.
package trust
