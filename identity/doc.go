// Package identity implements long-term identities, peer identifiers and the
// root-identity/device-key trust chain.
//
// An Identity holds an Ed25519 signing key pair and a separate X25519
// agreement key pair. Its PublicIdentity is what peers exchange; the PeerID
// is a BLAKE2b-256 digest of both public keys under a domain tag.
//
//	id, err := identity.Generate()
//	if err != nil {
//	    return err
//	}
//	defer id.Wipe()
//	fmt.Println(id.PeerID(), identity.Fingerprint(id.Public()))
//
// # Devices
//
// A RootIdentity signs DeviceKeys for the devices it provisions. Signature
// verification and revocation are separate checks so a caller can tell a
// forged key from a revoked one; CheckDeviceKey performs both:
//
//	switch err := identity.CheckDeviceKey(rootPub.SigningKey, dk); {
//	case errors.Is(err, fault.SignatureInvalid):
//	    // forged, refuse the session
//	case errors.Is(err, identity.ErrDeviceRevoked):
//	    // legitimately revoked, refuse the session
//	}
//
// # Persistence
//
// Private keys leave the process only through Seal, which encrypts them under
// a passphrase with crypto.SealSecret.
package identity
