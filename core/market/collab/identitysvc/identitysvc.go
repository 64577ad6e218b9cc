// Package identitysvc implements collab.Identity using nhbchain's own
// ecdsa key material (crypto.PrivateKey/PublicKey), the same secp256k1
// curve and recoverable-signature scheme the rest of nhbchain uses for
// transaction signing.
package identitysvc

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"nhbchain/crypto"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Registry is a per-node keystore: it signs on behalf of node ids it holds
// the private key for, and verifies signatures from any node id whose
// public key has been registered.
type Registry struct {
	mu       sync.RWMutex
	signers  map[string]*crypto.PrivateKey
	verifiers map[string]*crypto.PublicKey
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		signers:   make(map[string]*crypto.PrivateKey),
		verifiers: make(map[string]*crypto.PublicKey),
	}
}

// RegisterSigner associates nodeID with a private key this process can sign
// with, and implicitly registers the matching public key for verification.
func (r *Registry) RegisterSigner(nodeID string, key *crypto.PrivateKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signers[nodeID] = key
	r.verifiers[nodeID] = key.PubKey()
}

// RegisterVerifier associates nodeID with a public key learned from a peer,
// without the ability to sign on its behalf.
func (r *Registry) RegisterVerifier(nodeID string, key *crypto.PublicKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifiers[nodeID] = key
}

// Sign implements collab.Identity.
func (r *Registry) Sign(_ context.Context, nodeID string, payload []byte) ([]byte, error) {
	r.mu.RLock()
	key, ok := r.signers[nodeID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("identitysvc: no signing key registered for %q", nodeID)
	}
	digest := ethcrypto.Keccak256(payload)
	return ethcrypto.Sign(digest, key.PrivateKey)
}

// Verify implements collab.Identity.
func (r *Registry) Verify(_ context.Context, nodeID string, payload, signature []byte) (bool, error) {
	r.mu.RLock()
	key, ok := r.verifiers[nodeID]
	r.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("identitysvc: no verification key registered for %q", nodeID)
	}
	if len(signature) != 65 {
		return false, fmt.Errorf("identitysvc: signature must be 65 bytes, got %d", len(signature))
	}
	digest := ethcrypto.Keccak256(payload)
	recovered, err := ethcrypto.SigToPub(digest, signature)
	if err != nil {
		return false, fmt.Errorf("identitysvc: recover signer: %w", err)
	}
	recoveredAddr := (&crypto.PublicKey{PublicKey: recovered}).Address()
	return bytes.Equal(recoveredAddr.Bytes(), key.Address().Bytes()), nil
}
