package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const anchorFallbackGasLimit = 100_000

// AnchorConfig holds parameters for the on-chain anchor writer.
type AnchorConfig struct {
	RPCURL        string
	AnchorAddress string
	ChainID       int64
	CallTimeout   time.Duration
	Retry         RetryConfig
}

// Anchor writes the digest of a settled bond's event history into a
// transaction to the anchor address, giving the off-chain ledger a public,
// tamper-evident commitment.
type Anchor struct {
	client  *ethclient.Client
	to      common.Address
	chainID *big.Int
	key     *ecdsa.PrivateKey
	from    common.Address
	timeout time.Duration
	retry   RetryConfig
	logger  *slog.Logger
}

// NewAnchor dials the RPC endpoint and derives the sender address from the
// hex-encoded private key.
func NewAnchor(ctx context.Context, cfg AnchorConfig, privateKeyHex string, logger *slog.Logger) (*Anchor, error) {
	if !common.IsHexAddress(cfg.AnchorAddress) {
		return nil, fmt.Errorf("chain: anchor address %q is not an address", cfg.AnchorAddress)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain: parse anchor key: %w", err)
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}

	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Anchor{
		client:  client,
		to:      common.HexToAddress(cfg.AnchorAddress),
		chainID: big.NewInt(cfg.ChainID),
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		timeout: timeout,
		retry:   cfg.Retry.withDefaults(),
		logger:  logger.With(slog.String("component", "chain_anchor")),
	}, nil
}

// Close releases the RPC connection.
func (a *Anchor) Close() {
	a.client.Close()
}

// AnchorDigest signs and sends a transaction carrying the digest as
// calldata, returning the transaction hash.
func (a *Anchor) AnchorDigest(ctx context.Context, bondID uint64, digest [32]byte) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	nonce, err := a.client.PendingNonceAt(callCtx, a.from)
	if err != nil {
		return "", fmt.Errorf("chain: nonce for %s: %w", a.from.Hex(), err)
	}
	gasPrice, err := a.client.SuggestGasPrice(callCtx)
	if err != nil {
		return "", fmt.Errorf("chain: gas price: %w", err)
	}

	data := digest[:]
	gasLimit, err := a.client.EstimateGas(callCtx, ethereum.CallMsg{From: a.from, To: &a.to, Data: data})
	if err != nil {
		gasLimit = anchorFallbackGasLimit
	}

	tx := types.NewTransaction(nonce, a.to, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(a.chainID), a.key)
	if err != nil {
		return "", fmt.Errorf("chain: sign anchor tx: %w", err)
	}

	err = retryWithBackoff(ctx, a.retry, func() error {
		sendCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		return a.client.SendTransaction(sendCtx, signed)
	})
	if err != nil {
		return "", fmt.Errorf("chain: send anchor tx: %w", err)
	}

	a.logger.InfoContext(ctx, "anchored bond history",
		slog.Uint64("bond_id", bondID),
		slog.String("tx", signed.Hash().Hex()),
	)
	return signed.Hash().Hex(), nil
}
