package order

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Canonical encoding: abi.encodePacked-compatible concatenation. Addresses
// are their 20 raw bytes, integers are 32-byte big-endian words. Field order
// is fixed; identical logical orders always produce identical bytes.

// packedLen = 4 addresses * 20 + 5 uint256 words * 32.
const packedLen = 4*common.AddressLength + 5*32

// Pack returns the canonical byte encoding of every order field except the
// signature. This is the message body the proposer signs.
func Pack(o *Order) []byte {
	buf := make([]byte, 0, packedLen)
	buf = append(buf, o.Lender.Bytes()...)
	buf = append(buf, o.Borrower.Bytes()...)
	buf = append(buf, o.NFT.Bytes()...)
	buf = appendWord(buf, o.TokenID)
	buf = append(buf, o.PayToken.Bytes()...)
	buf = appendWord(buf, o.Amount)
	buf = appendWord(buf, big.NewInt(o.ListingExpiration))
	buf = appendWord(buf, big.NewInt(o.BiddingExpiration))
	buf = appendWord(buf, big.NewInt(o.Duration))
	return buf
}

// Hash is keccak256 over the canonical encoding.
func Hash(o *Order) common.Hash {
	return crypto.Keccak256Hash(Pack(o))
}

// ID names a rental position.
type ID = common.Hash

// IDOf computes the deterministic identifier of a resolved rental position.
// The two expiration fields and the signature are deliberately excluded: the
// identifier names the position (parties, asset, terms), not a specific
// signed message, so orders differing only in their acceptance windows
// collide to the same identifier.
func IDOf(lender, borrower, nft common.Address, tokenID *big.Int, payToken common.Address, amount *big.Int, duration int64) ID {
	buf := make([]byte, 0, 4*common.AddressLength+3*32)
	buf = append(buf, lender.Bytes()...)
	buf = append(buf, borrower.Bytes()...)
	buf = append(buf, nft.Bytes()...)
	buf = appendWord(buf, tokenID)
	buf = append(buf, payToken.Bytes()...)
	buf = appendWord(buf, amount)
	buf = appendWord(buf, big.NewInt(duration))
	return crypto.Keccak256Hash(buf)
}

// FitsUint256 reports whether v is a non-negative value representable in a
// single 32-byte word. Values that fail this check must never reach Pack or
// IDOf; FillBytes panics on anything wider than the word.
func FitsUint256(v *big.Int) bool {
	return v != nil && v.Sign() >= 0 && v.BitLen() <= 256
}

func appendWord(b []byte, v *big.Int) []byte {
	var word [32]byte
	if v != nil {
		v.FillBytes(word[:])
	}
	return append(b, word[:]...)
}
