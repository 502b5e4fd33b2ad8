// orderctl authors and signs a rental order with a local key, the offline
// half of the settlement flow. The signed JSON can be submitted to rentald's
// fulfill endpoint by the counterparty.
package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/polyjuicelabs/polyjuice/internal/order"
)

func main() {
	var (
		keyHex       = flag.String("key", "", "proposer private key (hex)")
		side         = flag.String("side", "lender", "proposing side: lender or borrower")
		nft          = flag.String("nft", "", "NFT contract address")
		tokenID      = flag.Int64("token-id", 0, "token id")
		payToken     = flag.String("pay-token", "", "payment token contract address")
		amount       = flag.String("amount", "", "price for the full duration (smallest unit)")
		duration     = flag.Int64("duration", 86400, "rental duration in seconds")
		window       = flag.Int64("window", 86400, "acceptance window in seconds from now")
		counterparty = flag.String("counterparty", "", "optional: counterparty address, prints the position id")
	)
	flag.Parse()

	key, err := crypto.HexToECDSA(strings.TrimPrefix(*keyHex, "0x"))
	if err != nil {
		fatalf("parse key: %v", err)
	}
	proposer := crypto.PubkeyToAddress(key.PublicKey)

	amt, ok := new(big.Int).SetString(*amount, 10)
	if !ok {
		fatalf("invalid amount %q", *amount)
	}

	o := &order.Order{
		NFT:      common.HexToAddress(*nft),
		TokenID:  big.NewInt(*tokenID),
		PayToken: common.HexToAddress(*payToken),
		Amount:   amt,
		Duration: *duration,
	}
	expiration := time.Now().Unix() + *window
	switch *side {
	case "lender":
		o.Lender = proposer
		o.ListingExpiration = expiration
	case "borrower":
		o.Borrower = proposer
		o.BiddingExpiration = expiration
	default:
		fatalf("side must be lender or borrower, got %q", *side)
	}
	if _, err := o.Proposer(); err != nil {
		fatalf("invalid order: %v", err)
	}

	if err := order.Sign(o, key); err != nil {
		fatalf("sign: %v", err)
	}

	out, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		fatalf("marshal: %v", err)
	}
	fmt.Println(string(out))
	fmt.Printf("proposer:  %s\n", proposer.Hex())
	fmt.Printf("signature: 0x%s\n", hex.EncodeToString(o.Signature))

	if *counterparty != "" {
		lender, borrower := o.Lender, o.Borrower
		if *side == "lender" {
			borrower = common.HexToAddress(*counterparty)
		} else {
			lender = common.HexToAddress(*counterparty)
		}
		id := order.IDOf(lender, borrower, o.NFT, o.TokenID, o.PayToken, o.Amount, o.Duration)
		fmt.Printf("position:  %s\n", id.Hex())
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
