package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/polyjuicelabs/polyjuice/internal/ledger"
	"github.com/polyjuicelabs/polyjuice/internal/order"
)

var (
	// ErrOrderExpired: the authoring party's acceptance window has passed.
	ErrOrderExpired = errors.New("escrow: order window expired")
	// ErrSignatureInvalid: the order signature does not recover to the
	// proposing party.
	ErrSignatureInvalid = errors.New("escrow: order signature invalid")
	// ErrTransferFailed: an external asset transfer was rejected; the
	// operation aborted with no state change.
	ErrTransferFailed = errors.New("escrow: asset transfer failed")
	// ErrUnauthorized: claim attempted by someone other than the lender.
	ErrUnauthorized = errors.New("escrow: caller is not the lender")
	// ErrNotExpired: claim attempted before the rental window ended.
	ErrNotExpired = errors.New("escrow: rental window still open")
)

// FungibleTransfer moves pay-token value between accounts. Implementations
// must report failure synchronously; the engine never mutates the ledger
// before the transfer outcome is known.
type FungibleTransfer interface {
	TransferFrom(ctx context.Context, token, from, to common.Address, amount *big.Int) error
}

// CustodyTransfer moves a non-fungible token between accounts. The escrow
// account must be approved to move the token on the owner's behalf.
type CustodyTransfer interface {
	TransferCustody(ctx context.Context, nft, from, to common.Address, tokenID *big.Int) error
}

// Engine is the settlement state machine. Per identifier the lifecycle is
// Unfulfilled -> Active -> Claimed; Fulfill and Claim for the same identifier
// are serialized by a keyed lock, so each call observes and produces a
// consistent ledger state. Fee and usage queries are pure reads.
type Engine struct {
	store      *ledger.Store
	funds      FungibleTransfer
	custody    CustodyTransfer
	escrowAcct common.Address
	nowFn      func() int64
	log        *zap.Logger

	locks keyedLocks
}

// NewEngine wires the engine to its ledger and asset capabilities.
// escrowAcct is the account that holds custody of rented assets and collects
// payment at fulfillment.
func NewEngine(store *ledger.Store, funds FungibleTransfer, custody CustodyTransfer, escrowAcct common.Address, log *zap.Logger) *Engine {
	return &Engine{
		store:      store,
		funds:      funds,
		custody:    custody,
		escrowAcct: escrowAcct,
		nowFn:      func() int64 { return time.Now().Unix() },
		log:        log,
	}
}

// SetNowFunc overrides the engine's time source. Intended for tests; passing
// nil restores the wall clock.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// EscrowAccount returns the custody/collection account.
func (e *Engine) EscrowAccount() common.Address { return e.escrowAcct }

// Fulfill resolves, authenticates, and settles an order on behalf of
// actingParty, returning the identifier of the created rental position.
//
// Payment policy: the full amount is collected from the borrower into the
// escrow account at fulfillment, not trickled over the rental window. Funds
// move before custody; if the custody transfer then fails, the funds are
// returned to the borrower so a failed fulfillment leaves balances untouched.
func (e *Engine) Fulfill(ctx context.Context, o *order.Order, actingParty common.Address) (order.ID, error) {
	proposer, err := o.Proposer()
	if err != nil {
		return order.ID{}, err
	}

	now := e.nowFn()
	var lender, borrower, signer common.Address
	switch proposer {
	case order.ProposedByLender:
		lender, signer = o.Lender, o.Lender
		borrower = actingParty
		if now > o.ListingExpiration {
			return order.ID{}, ErrOrderExpired
		}
	case order.ProposedByBorrower:
		borrower, signer = o.Borrower, o.Borrower
		lender = actingParty
		if now > o.BiddingExpiration {
			return order.ID{}, ErrOrderExpired
		}
	}
	if actingParty == signer || actingParty == (common.Address{}) {
		return order.ID{}, order.ErrMalformed
	}

	if !order.Verify(o, signer) {
		return order.ID{}, ErrSignatureInvalid
	}

	id := order.IDOf(lender, borrower, o.NFT, o.TokenID, o.PayToken, o.Amount, o.Duration)

	unlock := e.locks.lock(id)
	defer unlock()

	existing, err := e.store.Get(ctx, id)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return order.ID{}, err
	}
	if existing != nil && !existing.Claimed {
		return order.ID{}, ledger.ErrAlreadyExists
	}

	if err := e.funds.TransferFrom(ctx, o.PayToken, borrower, e.escrowAcct, o.Amount); err != nil {
		return order.ID{}, fmt.Errorf("%w: collect payment: %v", ErrTransferFailed, err)
	}
	if err := e.custody.TransferCustody(ctx, o.NFT, lender, e.escrowAcct, o.TokenID); err != nil {
		e.refundPayment(ctx, o.PayToken, borrower, o.Amount, id)
		return order.ID{}, fmt.Errorf("%w: take custody: %v", ErrTransferFailed, err)
	}

	rec := &ledger.Record{
		Lender:    lender,
		Borrower:  borrower,
		NFT:       o.NFT,
		TokenID:   o.TokenID,
		PayToken:  o.PayToken,
		Amount:    o.Amount,
		Duration:  o.Duration,
		StartTime: now,
		ExpiresAt: now + o.Duration,
	}
	if err := e.store.Insert(ctx, id, rec); err != nil {
		// Unwind both transfers so the failed call leaves no partial state.
		if cerr := e.custody.TransferCustody(ctx, o.NFT, e.escrowAcct, lender, o.TokenID); cerr != nil {
			e.log.Error("fulfill: custody unwind failed",
				zap.String("id", id.Hex()), zap.Error(cerr))
		}
		e.refundPayment(ctx, o.PayToken, borrower, o.Amount, id)
		return order.ID{}, err
	}

	e.log.Info("rental fulfilled",
		zap.String("id", id.Hex()),
		zap.String("lender", lender.Hex()),
		zap.String("borrower", borrower.Hex()),
		zap.Int64("duration", o.Duration),
	)
	return id, nil
}

// Claim returns custody of the rented asset to the lender and closes the
// position. Only the lender may claim, and only once the rental window has
// ended: payment was collected in full at fulfillment, so an early claim
// would take back the asset the borrower already paid for.
func (e *Engine) Claim(ctx context.Context, id order.ID, actingParty common.Address) error {
	unlock := e.locks.lock(id)
	defer unlock()

	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Claimed {
		return ledger.ErrAlreadyClaimed
	}
	if actingParty != rec.Lender {
		return ErrUnauthorized
	}
	if e.nowFn() < rec.ExpiresAt {
		return ErrNotExpired
	}

	if err := e.custody.TransferCustody(ctx, rec.NFT, e.escrowAcct, rec.Lender, rec.TokenID); err != nil {
		return fmt.Errorf("%w: return custody: %v", ErrTransferFailed, err)
	}
	if err := e.store.MarkClaimed(ctx, id); err != nil {
		// Re-take custody so the still-open record keeps matching asset
		// ownership and the claim can simply be retried.
		if cerr := e.custody.TransferCustody(ctx, rec.NFT, rec.Lender, e.escrowAcct, rec.TokenID); cerr != nil {
			e.log.Error("claim: custody unwind failed",
				zap.String("id", id.Hex()), zap.Error(cerr))
		}
		return err
	}

	e.log.Info("rental claimed",
		zap.String("id", id.Hex()),
		zap.String("lender", rec.Lender.Hex()),
	)
	return nil
}

// Rental returns the record for id.
func (e *Engine) Rental(ctx context.Context, id order.ID) (*ledger.Record, error) {
	return e.store.Get(ctx, id)
}

// UsagePeriod returns the seconds of rental time consumed so far.
func (e *Engine) UsagePeriod(ctx context.Context, id order.ID) (int64, error) {
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return rec.UsagePeriod(e.nowFn()), nil
}

// Fee returns the usage fee accrued so far.
func (e *Engine) Fee(ctx context.Context, id order.ID) (*big.Int, error) {
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.Fee(e.nowFn()), nil
}

func (e *Engine) refundPayment(ctx context.Context, token, borrower common.Address, amount *big.Int, id order.ID) {
	if err := e.funds.TransferFrom(ctx, token, e.escrowAcct, borrower, amount); err != nil {
		e.log.Error("fulfill: payment refund failed",
			zap.String("id", id.Hex()),
			zap.String("borrower", borrower.Hex()),
			zap.Error(err))
	}
}
