package order

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Order is a signed off-chain rental intent ("bidding"). Exactly one of
// Lender/Borrower is the zero address in a freshly authored order; the
// counterparty is filled in when the order is fulfilled. Exactly one of
// ListingExpiration/BiddingExpiration is nonzero and identifies which party
// authored (and signed) the order.
type Order struct {
	Lender            common.Address `json:"lender"`
	Borrower          common.Address `json:"borrower"`
	NFT               common.Address `json:"nft"`
	TokenID           *big.Int       `json:"token_id"`
	PayToken          common.Address `json:"pay_token"`
	Amount            *big.Int       `json:"amount"`
	ListingExpiration int64          `json:"listing_expiration"`
	BiddingExpiration int64          `json:"bidding_expiration"`
	Duration          int64          `json:"duration"`
	Signature         []byte         `json:"signature"`
}

// ErrMalformed is returned for orders whose party/expiration sentinels do not
// identify exactly one proposer, or whose terms fail basic validation.
var ErrMalformed = errors.New("order: malformed")

// Proposer identifies which party authored and signed an order.
type Proposer int

const (
	ProposedByLender Proposer = iota + 1
	ProposedByBorrower
)

func (p Proposer) String() string {
	switch p {
	case ProposedByLender:
		return "lender"
	case ProposedByBorrower:
		return "borrower"
	default:
		return "unknown"
	}
}

// Proposer validates the order's sentinel layout and terms, and reports which
// side authored it. Invariants checked:
//   - exactly one of Lender/Borrower is the zero address
//   - the expiration matching the set party is nonzero, the other is zero
//   - Duration > 0 (fee accrual divides by it) and Amount > 0
//   - Amount and TokenID fit in a uint256 word (orders arrive as untrusted
//     JSON; oversized values would panic the codec)
func (o *Order) Proposer() (Proposer, error) {
	lenderSet := o.Lender != (common.Address{})
	borrowerSet := o.Borrower != (common.Address{})
	if lenderSet == borrowerSet {
		return 0, ErrMalformed
	}
	if o.Duration <= 0 {
		return 0, ErrMalformed
	}
	if !FitsUint256(o.Amount) || o.Amount.Sign() == 0 {
		return 0, ErrMalformed
	}
	if !FitsUint256(o.TokenID) {
		return 0, ErrMalformed
	}
	if lenderSet {
		if o.ListingExpiration == 0 || o.BiddingExpiration != 0 {
			return 0, ErrMalformed
		}
		return ProposedByLender, nil
	}
	if o.BiddingExpiration == 0 || o.ListingExpiration != 0 {
		return 0, ErrMalformed
	}
	return ProposedByBorrower, nil
}
