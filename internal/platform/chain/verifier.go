// Package chain talks to the EVM chain holding the collateral assets: it
// verifies collateral references at issuance and anchors settled bond
// histories on-chain.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/knowton/bondledger/internal/domain"
)

// ownerOf is the only ERC-721 function the verifier needs.
const erc721ABI = `[{"constant":true,"inputs":[{"name":"tokenId","type":"uint256"}],"name":"ownerOf","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"}]`

// VerifierConfig holds connection parameters for the collateral verifier.
type VerifierConfig struct {
	RPCURL      string
	CallTimeout time.Duration
	Retry       RetryConfig
}

// Verifier checks that a bond's collateral reference points at a real
// ERC-721 token owned by the issuer before the ledger accepts the bond.
type Verifier struct {
	client  *ethclient.Client
	abi     abi.ABI
	timeout time.Duration
	retry   RetryConfig
	logger  *slog.Logger
}

// NewVerifier dials the RPC endpoint and prepares the ERC-721 ABI.
func NewVerifier(ctx context.Context, cfg VerifierConfig, logger *slog.Logger) (*Verifier, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}

	parsed, err := abi.JSON(strings.NewReader(erc721ABI))
	if err != nil {
		return nil, fmt.Errorf("chain: parse erc721 abi: %w", err)
	}

	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Verifier{
		client:  client,
		abi:     parsed,
		timeout: timeout,
		retry:   cfg.Retry.withDefaults(),
		logger:  logger.With(slog.String("component", "chain_verifier")),
	}, nil
}

// Close releases the RPC connection.
func (v *Verifier) Close() {
	v.client.Close()
}

// VerifyCollateral checks the collateral contract exists on-chain and that
// the referenced token is owned by the issuer. Transient RPC failures are
// retried with backoff; a definitive mismatch fails with InvalidParameters.
func (v *Verifier) VerifyCollateral(ctx context.Context, ref domain.CollateralRef, issuer string) error {
	if !common.IsHexAddress(ref.Contract) {
		return fmt.Errorf("%w: collateral contract %q is not an address", domain.ErrInvalidParameters, ref.Contract)
	}
	if !common.IsHexAddress(issuer) {
		return fmt.Errorf("%w: issuer %q is not an address", domain.ErrInvalidParameters, issuer)
	}
	contractAddr := common.HexToAddress(ref.Contract)

	var code []byte
	err := retryWithBackoff(ctx, v.retry, func() error {
		callCtx, cancel := context.WithTimeout(ctx, v.timeout)
		defer cancel()
		var err error
		code, err = v.client.CodeAt(callCtx, contractAddr, nil)
		return err
	})
	if err != nil {
		return fmt.Errorf("chain: code at %s: %w", ref.Contract, err)
	}
	if len(code) == 0 {
		return fmt.Errorf("%w: no contract deployed at %s", domain.ErrInvalidParameters, ref.Contract)
	}

	owner, err := v.ownerOf(ctx, contractAddr, ref)
	if err != nil {
		return err
	}
	if owner != common.HexToAddress(issuer) {
		return fmt.Errorf("%w: collateral token %s of %s is owned by %s, not the issuer",
			domain.ErrInvalidParameters, domain.AmountString(ref.TokenID), ref.Contract, owner.Hex())
	}

	v.logger.DebugContext(ctx, "collateral verified",
		slog.String("contract", ref.Contract),
		slog.String("token_id", domain.AmountString(ref.TokenID)),
		slog.String("owner", owner.Hex()),
	)
	return nil
}

func (v *Verifier) ownerOf(ctx context.Context, contractAddr common.Address, ref domain.CollateralRef) (common.Address, error) {
	data, err := v.abi.Pack("ownerOf", cloneTokenID(ref))
	if err != nil {
		return common.Address{}, fmt.Errorf("chain: pack ownerOf: %w", err)
	}

	var raw []byte
	err = retryWithBackoff(ctx, v.retry, func() error {
		callCtx, cancel := context.WithTimeout(ctx, v.timeout)
		defer cancel()
		var err error
		raw, err = v.client.CallContract(callCtx, ethereum.CallMsg{To: &contractAddr, Data: data}, nil)
		return err
	})
	if err != nil {
		return common.Address{}, fmt.Errorf("chain: ownerOf call: %w", err)
	}

	out, err := v.abi.Unpack("ownerOf", raw)
	if err != nil || len(out) != 1 {
		return common.Address{}, fmt.Errorf("%w: token %s does not exist on %s",
			domain.ErrInvalidParameters, domain.AmountString(ref.TokenID), contractAddr.Hex())
	}
	owner, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("chain: unexpected ownerOf result type %T", out[0])
	}
	return owner, nil
}

func cloneTokenID(ref domain.CollateralRef) *big.Int {
	if ref.TokenID == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(ref.TokenID)
}
