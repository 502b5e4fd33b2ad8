package order

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignedDigest is the EIP-191 prefixed hash the proposer signs:
// keccak256("\x19Ethereum Signed Message:\n32" || Hash(order)).
func SignedDigest(o *Order) []byte {
	h := Hash(o)
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(h))
	return crypto.Keccak256([]byte(prefix), h[:])
}

// Sign signs the order in place with the proposer's key. The signature is
// 65 bytes R || S || V with V in {27,28} for ecrecover compatibility.
func Sign(o *Order, key *ecdsa.PrivateKey) error {
	sig, err := crypto.Sign(SignedDigest(o), key)
	if err != nil {
		return fmt.Errorf("sign order: %w", err)
	}
	sig[64] += 27
	o.Signature = sig
	return nil
}

// RecoverSigner extracts the signing address from the order's signature.
// The signature covers every economically meaningful field (parties, asset,
// amount, expirations, duration), so altering any of them after signing
// yields a different recovered address.
func RecoverSigner(o *Order) (common.Address, error) {
	if len(o.Signature) != 65 {
		return common.Address{}, errors.New("invalid signature length")
	}

	// Normalize V: wallets emit 27/28, ecrecover expects 0/1
	sig := make([]byte, 65)
	copy(sig, o.Signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(SignedDigest(o), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("ecrecover: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify reports whether the order was signed by claimedSigner. Malformed
// signatures and recovery mismatches both report false.
func Verify(o *Order, claimedSigner common.Address) bool {
	recovered, err := RecoverSigner(o)
	if err != nil {
		return false
	}
	return recovered == claimedSigner
}
