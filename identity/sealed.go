package identity

import (
	"encoding/json"
	"fmt"

	"github.com/opd-ai/otter/crypto"
)

// exported is the plaintext inside a sealed identity blob.
type exported struct {
	SigningSeed      []byte      `json:"signing_seed"`
	AgreementPrivate []byte      `json:"agreement_private"`
	Devices          []DeviceKey `json:"devices,omitempty"`
}

// Seal exports the identity's private keys encrypted under passphrase.
func (id *Identity) Seal(passphrase []byte) ([]byte, error) {
	return sealExport(id, nil, passphrase)
}

// Seal exports the root identity and its device keys under passphrase.
func (r *RootIdentity) Seal(passphrase []byte) ([]byte, error) {
	return sealExport(r.root, r.Devices(), passphrase)
}

func sealExport(id *Identity, devices []DeviceKey, passphrase []byte) ([]byte, error) {
	id.mu.RLock()
	if id.wiped {
		id.mu.RUnlock()
		return nil, ErrWiped
	}
	seed := id.signing.Seed()
	agreement := id.agreement.Private
	id.mu.RUnlock()
	defer crypto.ZeroBytes(seed)

	plain, err := json.Marshal(exported{
		SigningSeed:      seed,
		AgreementPrivate: agreement[:],
		Devices:          devices,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal identity: %w", err)
	}
	defer crypto.ZeroBytes(plain)
	crypto.ZeroBytes(agreement[:])

	return crypto.SealSecret(passphrase, plain)
}

// OpenSealed restores an Identity sealed by Seal. Any device keys in the
// blob are ignored; use OpenSealedRoot to keep them.
func OpenSealed(passphrase, sealed []byte) (*Identity, error) {
	root, err := OpenSealedRoot(passphrase, sealed, nil)
	if err != nil {
		return nil, err
	}
	return root.Root(), nil
}

// OpenSealedRoot restores a RootIdentity and its device keys.
func OpenSealedRoot(passphrase, sealed []byte, tp crypto.TimeProvider) (*RootIdentity, error) {
	plain, err := crypto.OpenSecret(passphrase, sealed)
	if err != nil {
		return nil, err
	}
	defer crypto.ZeroBytes(plain)

	var exp exported
	if err := json.Unmarshal(plain, &exp); err != nil {
		return nil, fmt.Errorf("unmarshal identity: %w", err)
	}
	defer crypto.ZeroBytes(exp.SigningSeed)
	defer crypto.ZeroBytes(exp.AgreementPrivate)

	if len(exp.AgreementPrivate) != crypto.KeySize {
		return nil, fmt.Errorf("invalid agreement key length: %d", len(exp.AgreementPrivate))
	}
	var agreement [crypto.KeySize]byte
	copy(agreement[:], exp.AgreementPrivate)
	defer crypto.ZeroBytes(agreement[:])

	id, err := fromSecrets(exp.SigningSeed, agreement)
	if err != nil {
		return nil, fmt.Errorf("restore identity: %w", err)
	}

	root := NewRootIdentityWithTimeProvider(id, tp)
	if err := root.Restore(exp.Devices); err != nil {
		id.Wipe()
		return nil, err
	}
	return root, nil
}
