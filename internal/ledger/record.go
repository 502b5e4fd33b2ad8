package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Record is the state of a rental position, created once per identifier at
// fulfillment and transitioned to Claimed exactly once.
type Record struct {
	Lender    common.Address `json:"lender"`
	Borrower  common.Address `json:"borrower"`
	NFT       common.Address `json:"nft"`
	TokenID   *big.Int       `json:"token_id"`
	PayToken  common.Address `json:"pay_token"`
	Amount    *big.Int       `json:"amount"`
	Duration  int64          `json:"duration"`
	StartTime int64          `json:"start_time"`
	ExpiresAt int64          `json:"expires_at"`
	Claimed   bool           `json:"claimed"`
}

// UsagePeriod is the rental time consumed at now, in seconds, clamped to
// [0, Duration]. It is non-decreasing in now and equals Duration for any
// now >= ExpiresAt.
func (r *Record) UsagePeriod(now int64) int64 {
	end := now
	if end > r.ExpiresAt {
		end = r.ExpiresAt
	}
	used := end - r.StartTime
	if used < 0 {
		used = 0
	}
	if used > r.Duration {
		used = r.Duration
	}
	return used
}

// Fee is the usage fee owed at now: Amount * UsagePeriod / Duration with
// truncating integer division in the token's smallest unit. Monotone
// non-decreasing in now, never exceeds Amount, and reaches exactly Amount at
// or after ExpiresAt. Duration > 0 is guaranteed by order validation before
// a record is ever created.
func (r *Record) Fee(now int64) *big.Int {
	fee := new(big.Int).Mul(r.Amount, big.NewInt(r.UsagePeriod(now)))
	return fee.Div(fee, big.NewInt(r.Duration))
}
