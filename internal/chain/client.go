package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/polyjuicelabs/polyjuice/internal/config"
)

// Minimal ABI surface: the engine only ever calls the two standard transfer
// entry points on arbitrary token contracts named in each order.
const (
	erc20ABIJSON = `[
		{"type":"function","name":"transferFrom","stateMutability":"nonpayable",
		 "inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"}],
		 "outputs":[{"name":"","type":"bool"}]},
		{"type":"function","name":"transfer","stateMutability":"nonpayable",
		 "inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],
		 "outputs":[{"name":"","type":"bool"}]}
	]`
	erc721ABIJSON = `[
		{"type":"function","name":"safeTransferFrom","stateMutability":"nonpayable",
		 "inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],
		 "outputs":[]}
	]`
)

// Client implements the engine's fungible and custody transfer capabilities
// against an EVM chain. The operator key doubles as the escrow account: it
// collects payment at fulfillment and holds custody of rented assets.
type Client struct {
	eth         *ethclient.Client
	chainID     *big.Int
	operatorKey *ecdsa.PrivateKey
	operator    common.Address
	erc20ABI    abi.ABI
	erc721ABI   abi.ABI
}

func NewClient(cfg *config.Config) (*Client, error) {
	eth, err := ethclient.Dial(cfg.Chain.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	operatorKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.Chain.OperatorKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}

	erc20, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	erc721, err := abi.JSON(strings.NewReader(erc721ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse erc721 abi: %w", err)
	}

	return &Client{
		eth:         eth,
		chainID:     big.NewInt(cfg.Chain.ChainID),
		operatorKey: operatorKey,
		operator:    crypto.PubkeyToAddress(operatorKey.PublicKey),
		erc20ABI:    erc20,
		erc721ABI:   erc721,
	}, nil
}

// EscrowAccount returns the operator address used for custody and payment
// collection.
func (c *Client) EscrowAccount() common.Address { return c.operator }

// TransferFrom moves amount of the ERC-20 at token from from to to. When the
// sender is the escrow account itself (payment refunds), plain transfer is
// used so no self-allowance is required.
func (c *Client) TransferFrom(ctx context.Context, token, from, to common.Address, amount *big.Int) error {
	if from == c.operator {
		return c.transact(ctx, token, c.erc20ABI, "transfer", to, amount)
	}
	return c.transact(ctx, token, c.erc20ABI, "transferFrom", from, to, amount)
}

// TransferCustody moves the ERC-721 token between accounts. The escrow
// account must be approved on the owner's behalf before fulfillment.
func (c *Client) TransferCustody(ctx context.Context, nft, from, to common.Address, tokenID *big.Int) error {
	return c.transact(ctx, nft, c.erc721ABI, "safeTransferFrom", from, to, tokenID)
}

func (c *Client) transact(ctx context.Context, addr common.Address, contractABI abi.ABI, method string, args ...interface{}) error {
	opts, err := c.transactOpts(ctx)
	if err != nil {
		return fmt.Errorf("build tx opts: %w", err)
	}

	contract := bind.NewBoundContract(addr, contractABI, c.eth, c.eth, c.eth)
	tx, err := contract.Transact(opts, method, args...)
	if err != nil {
		return fmt.Errorf("%s tx: %w", method, err)
	}

	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return fmt.Errorf("wait mined: %w", err)
	}
	if receipt.Status == 0 {
		return fmt.Errorf("%s reverted: %s", method, tx.Hash().Hex())
	}
	return nil
}

// transactOpts builds a *bind.TransactOpts signed by the operator key.
func (c *Client) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(c.operatorKey, c.chainID)
	if err != nil {
		return nil, err
	}
	auth.Context = ctx
	return auth, nil
}
