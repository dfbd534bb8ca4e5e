// internal/chain/gateway.go
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/chainbazaar/marketplace-backend/internal/apperrors"
	"github.com/chainbazaar/marketplace-backend/internal/config"
)

// marketplaceABI covers the contract surface the backend drives. The
// contract's internal accounting is opaque to this service.
const marketplaceABI = `[
	{"type":"function","name":"listItem","stateMutability":"nonpayable","inputs":[{"name":"_price","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"transferItemOwnership","stateMutability":"nonpayable","inputs":[{"name":"_itemId","type":"uint256"},{"name":"_newOwner","type":"address"}],"outputs":[]},
	{"type":"function","name":"transferValue","stateMutability":"payable","inputs":[{"name":"_itemId","type":"uint256"},{"name":"_from","type":"address"},{"name":"_to","type":"address"}],"outputs":[]},
	{"type":"function","name":"deposit","stateMutability":"nonpayable","inputs":[{"name":"_wallet","type":"address"},{"name":"_amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"_wallet","type":"address"},{"name":"_amount","type":"uint256"}],"outputs":[]},
	{"type":"event","name":"ItemListed","inputs":[{"name":"id","type":"uint256","indexed":true},{"name":"price","type":"uint256","indexed":false},{"name":"owner","type":"address","indexed":true}],"anonymous":false}
]`

// CustodyDirection selects deposit (mint) or withdraw (burn) on the
// custody side of the contract.
type CustodyDirection string

const (
	CustodyDeposit  CustodyDirection = "deposit"
	CustodyWithdraw CustodyDirection = "withdraw"
)

// TransferGateway is the sole component that submits state-changing
// calls to the on-chain ledger. Every call blocks until finality and
// returns a transaction reference. The gateway never retries: blind
// retransmission of a value transfer risks double payment, so retry
// policy belongs to the caller and must be keyed by an idempotency
// token.
type TransferGateway interface {
	// ListItem records a new listing on-chain and returns the id the
	// contract assigned, recovered from the confirmation event.
	ListItem(ctx context.Context, price *big.Int) (onChainID uint64, txRef string, err error)
	TransferOwnership(ctx context.Context, onChainID uint64, newOwnerWallet string) (txRef string, err error)
	TransferValue(ctx context.Context, onChainID uint64, fromWallet, toWallet string, value *big.Int, signer *ecdsa.PrivateKey) (txRef string, err error)
	AdjustCustodyBalance(ctx context.Context, walletID string, amount *big.Int, direction CustodyDirection) (txRef string, err error)
}

// Gateway drives the marketplace contract through a JSON-RPC client.
// It is constructed once at startup and injected; it holds no ambient
// global state.
type Gateway struct {
	client         *ethclient.Client
	contract       *bind.BoundContract
	contractABI    abi.ABI
	address        common.Address
	operatorKey    *ecdsa.PrivateKey
	chainID        *big.Int
	gasLimit       uint64
	confirmTimeout time.Duration
}

func NewGateway(cfg config.ChainConfig) (*Gateway, error) {
	client, err := ethclient.Dial(cfg.RPC_URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain RPC at %s: %w", cfg.RPC_URL, err)
	}

	parsed, err := abi.JSON(strings.NewReader(marketplaceABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse marketplace ABI: %w", err)
	}

	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid marketplace contract address %q", cfg.ContractAddress)
	}
	address := common.HexToAddress(cfg.ContractAddress)

	operatorKey, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.OperatorKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse operator key: %w", err)
	}

	return &Gateway{
		client:         client,
		contract:       bind.NewBoundContract(address, parsed, client, client, client),
		contractABI:    parsed,
		address:        address,
		operatorKey:    operatorKey,
		chainID:        big.NewInt(cfg.ChainID),
		gasLimit:       cfg.GasLimit,
		confirmTimeout: time.Duration(cfg.ConfirmTimeout) * time.Second,
	}, nil
}

func (g *Gateway) Close() {
	g.client.Close()
}

func (g *Gateway) ListItem(ctx context.Context, price *big.Int) (uint64, string, error) {
	opts, err := g.transactOpts(ctx, g.operatorKey, nil)
	if err != nil {
		return 0, "", err
	}

	tx, err := g.contract.Transact(opts, "listItem", price)
	if err != nil {
		return 0, "", apperrors.Wrap(apperrors.CodeOnChainFailure, "listItem submission failed", err)
	}

	receipt, err := g.waitMined(ctx, tx)
	if err != nil {
		return 0, "", err
	}

	id, ok := g.listedItemID(receipt)
	if !ok {
		// The transaction may have succeeded without the caller being
		// able to prove which id it produced. Surface that, don't guess.
		return 0, "", apperrors.New(apperrors.CodeListingConfirmationMissing,
			fmt.Sprintf("ItemListed event not found in receipt %s", tx.Hash().Hex()))
	}

	logrus.WithFields(logrus.Fields{
		"on_chain_id": id,
		"tx":          tx.Hash().Hex(),
	}).Info("Listing recorded on-chain")

	return id, tx.Hash().Hex(), nil
}

func (g *Gateway) TransferOwnership(ctx context.Context, onChainID uint64, newOwnerWallet string) (string, error) {
	if !common.IsHexAddress(newOwnerWallet) {
		return "", apperrors.New(apperrors.CodeValidation, fmt.Sprintf("invalid wallet address %q", newOwnerWallet))
	}

	opts, err := g.transactOpts(ctx, g.operatorKey, nil)
	if err != nil {
		return "", err
	}

	tx, err := g.contract.Transact(opts, "transferItemOwnership",
		new(big.Int).SetUint64(onChainID), common.HexToAddress(newOwnerWallet))
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeOnChainFailure, "ownership transfer submission failed", err)
	}

	if _, err := g.waitMined(ctx, tx); err != nil {
		return "", err
	}

	return tx.Hash().Hex(), nil
}

func (g *Gateway) TransferValue(ctx context.Context, onChainID uint64, fromWallet, toWallet string, value *big.Int, signer *ecdsa.PrivateKey) (string, error) {
	if !common.IsHexAddress(fromWallet) || !common.IsHexAddress(toWallet) {
		return "", apperrors.New(apperrors.CodeValidation, "invalid wallet address on value transfer")
	}
	if signer == nil {
		return "", apperrors.New(apperrors.CodeValidation, "buyer signing credential not available")
	}

	// The buyer signs, so the value moves from the buyer's account.
	opts, err := g.transactOpts(ctx, signer, value)
	if err != nil {
		return "", err
	}

	tx, err := g.contract.Transact(opts, "transferValue",
		new(big.Int).SetUint64(onChainID),
		common.HexToAddress(fromWallet), common.HexToAddress(toWallet))
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeOnChainFailure, "value transfer submission failed", err)
	}

	if _, err := g.waitMined(ctx, tx); err != nil {
		return "", err
	}

	return tx.Hash().Hex(), nil
}

func (g *Gateway) AdjustCustodyBalance(ctx context.Context, walletID string, amount *big.Int, direction CustodyDirection) (string, error) {
	if !common.IsHexAddress(walletID) {
		return "", apperrors.New(apperrors.CodeValidation, fmt.Sprintf("invalid wallet address %q", walletID))
	}

	method := "deposit"
	if direction == CustodyWithdraw {
		method = "withdraw"
	}

	opts, err := g.transactOpts(ctx, g.operatorKey, nil)
	if err != nil {
		return "", err
	}

	tx, err := g.contract.Transact(opts, method, common.HexToAddress(walletID), amount)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeOnChainFailure, method+" submission failed", err)
	}

	if _, err := g.waitMined(ctx, tx); err != nil {
		return "", err
	}

	return tx.Hash().Hex(), nil
}

func (g *Gateway) transactOpts(ctx context.Context, key *ecdsa.PrivateKey, value *big.Int) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(key, g.chainID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeOnChainFailure, "building transactor", err)
	}
	opts.Context = ctx
	opts.GasLimit = g.gasLimit
	if value != nil {
		opts.Value = value
	}
	return opts, nil
}

// waitMined blocks until the transaction reaches finality or the
// confirmation timeout elapses, and verifies it did not revert.
func (g *Gateway) waitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, g.confirmTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, g.client, tx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeOnChainFailure,
			fmt.Sprintf("confirmation of %s failed", tx.Hash().Hex()), err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, apperrors.New(apperrors.CodeOnChainFailure,
			fmt.Sprintf("transaction %s reverted", tx.Hash().Hex()))
	}

	return receipt, nil
}

// listedItemID extracts the contract-assigned listing id from the
// ItemListed event in the receipt.
func (g *Gateway) listedItemID(receipt *types.Receipt) (uint64, bool) {
	eventID := g.contractABI.Events["ItemListed"].ID
	for _, entry := range receipt.Logs {
		if entry.Address != g.address || len(entry.Topics) == 0 || entry.Topics[0] != eventID {
			continue
		}
		if len(entry.Topics) < 2 {
			continue
		}
		return new(big.Int).SetBytes(entry.Topics[1].Bytes()).Uint64(), true
	}
	return 0, false
}
