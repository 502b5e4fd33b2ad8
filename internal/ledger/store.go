package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

const recordKeyPrefix = "rental:record:"

var (
	// ErrNotFound: no record exists for the identifier.
	ErrNotFound = errors.New("ledger: rental not found")
	// ErrAlreadyExists: an unclaimed record holds the identifier. A claimed
	// record is terminal and may be replaced by a fresh fulfillment of the
	// same position.
	ErrAlreadyExists = errors.New("ledger: rental already active")
	// ErrAlreadyClaimed: the record was already transitioned to claimed.
	ErrAlreadyClaimed = errors.New("ledger: rental already claimed")
)

// Store is the authoritative ledger of rental records, keyed by order
// identifier. All mutation goes through the settlement engine, which
// serializes calls per identifier; Store itself performs no cross-call
// locking.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func recordKey(id common.Hash) string {
	return recordKeyPrefix + id.Hex()
}

// Get returns the record for id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id common.Hash) (*Record, error) {
	vals, err := s.rdb.HGetAll(ctx, recordKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("ledger get %s: %w", id.Hex(), err)
	}
	if len(vals) == 0 {
		return nil, ErrNotFound
	}
	return recordFromMap(vals)
}

// Insert creates the record for id. Fails with ErrAlreadyExists while an
// unclaimed record holds the identifier; a terminal (claimed) record is
// overwritten, which re-opens the position for a new rental of the same
// terms.
func (s *Store) Insert(ctx context.Context, id common.Hash, r *Record) error {
	existing, err := s.Get(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if existing != nil && !existing.Claimed {
		return ErrAlreadyExists
	}
	return s.write(ctx, id, r)
}

// MarkClaimed transitions the record to its terminal state exactly once.
func (s *Store) MarkClaimed(ctx context.Context, id common.Hash) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Claimed {
		return ErrAlreadyClaimed
	}
	if err := s.rdb.HSet(ctx, recordKey(id), "claimed", 1).Err(); err != nil {
		return fmt.Errorf("ledger mark claimed %s: %w", id.Hex(), err)
	}
	return nil
}

func (s *Store) write(ctx context.Context, id common.Hash, r *Record) error {
	claimed := 0
	if r.Claimed {
		claimed = 1
	}
	err := s.rdb.HSet(ctx, recordKey(id),
		"lender", r.Lender.Hex(),
		"borrower", r.Borrower.Hex(),
		"nft", r.NFT.Hex(),
		"token_id", r.TokenID.String(),
		"pay_token", r.PayToken.Hex(),
		"amount", r.Amount.String(),
		"duration", r.Duration,
		"start_time", r.StartTime,
		"expires_at", r.ExpiresAt,
		"claimed", claimed,
	).Err()
	if err != nil {
		return fmt.Errorf("ledger write %s: %w", id.Hex(), err)
	}
	return nil
}

func recordFromMap(m map[string]string) (*Record, error) {
	tokenID, ok := new(big.Int).SetString(m["token_id"], 10)
	if !ok {
		return nil, fmt.Errorf("ledger: bad token_id %q", m["token_id"])
	}
	amount, ok := new(big.Int).SetString(m["amount"], 10)
	if !ok {
		return nil, fmt.Errorf("ledger: bad amount %q", m["amount"])
	}
	// Duration feeds a division in Record.Fee; a corrupt or zero value must
	// surface here instead of decoding to a record that panics later.
	duration, err := strconv.ParseInt(m["duration"], 10, 64)
	if err != nil || duration <= 0 {
		return nil, fmt.Errorf("ledger: bad duration %q", m["duration"])
	}
	startTime, err := strconv.ParseInt(m["start_time"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("ledger: bad start_time %q", m["start_time"])
	}
	expiresAt, err := strconv.ParseInt(m["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("ledger: bad expires_at %q", m["expires_at"])
	}
	return &Record{
		Lender:    common.HexToAddress(m["lender"]),
		Borrower:  common.HexToAddress(m["borrower"]),
		NFT:       common.HexToAddress(m["nft"]),
		TokenID:   tokenID,
		PayToken:  common.HexToAddress(m["pay_token"]),
		Amount:    amount,
		Duration:  duration,
		StartTime: startTime,
		ExpiresAt: expiresAt,
		Claimed:   m["claimed"] == "1",
	}, nil
}
