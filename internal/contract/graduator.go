package contract

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/curvewatch/indexer/internal/common"
	"github.com/curvewatch/indexer/internal/rpc"
	"github.com/ethereum/go-ethereum/accounts/abi"
	gethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"
)

// ErrGraduationReverted means the contract refused graduate(token), e.g. because
// the market already graduated. Retrying will not help.
var ErrGraduationReverted = errors.New("graduation reverted")

// IGraduator submits the on-chain graduation of a completed market.
type IGraduator interface {
	Graduate(ctx context.Context, token string) (txHash string, err error)
}

type GraduatorConfig struct {
	ContractAddress string
	PrivateKey      string
	ChainID         int64
	GasLimit        uint64
}

type Graduator struct {
	chain    rpc.IChainClient
	abi      *abi.ABI
	contract gethCommon.Address
	key      *ecdsa.PrivateKey
	from     gethCommon.Address
	chainID  *big.Int
	gasLimit uint64

	// serializes nonce allocation
	mu        sync.Mutex
	// nonce after the last accepted send; 0 until one succeeds
	nextNonce uint64
}

func NewGraduator(chain rpc.IChainClient, cfg GraduatorConfig) (*Graduator, error) {
	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("graduation requires a signing key")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signing key: %w", err)
	}
	g := &Graduator{
		chain:    chain,
		abi:      MarketABI(),
		contract: gethCommon.HexToAddress(cfg.ContractAddress),
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		gasLimit: cfg.GasLimit,
	}
	if cfg.ChainID > 0 {
		g.chainID = big.NewInt(cfg.ChainID)
	}
	return g, nil
}

func (g *Graduator) From() string {
	return common.NormalizeAddress(g.from.Hex())
}

// Graduate simulates graduate(token) and, if it does not revert, signs and
// broadcasts it.
func (g *Graduator) Graduate(ctx context.Context, token string) (string, error) {
	data, err := g.abi.Pack("graduate", gethCommon.HexToAddress(token))
	if err != nil {
		return "", fmt.Errorf("failed to pack graduate: %w", err)
	}
	msg := rpc.CallMsg{From: g.from.Hex(), To: g.contract.Hex(), Data: data}
	if _, err := g.chain.Call(ctx, msg); err != nil {
		if rpc.IsReverted(err) {
			return "", fmt.Errorf("graduate(%s): %w: %v", token, ErrGraduationReverted, err)
		}
		return "", fmt.Errorf("graduate(%s) simulation failed: %w", token, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	chainID := g.chainID
	if chainID == nil {
		if chainID, err = g.chain.ChainID(ctx); err != nil {
			return "", fmt.Errorf("failed to get chain id: %w", err)
		}
		g.chainID = chainID
	}
	nonce, err := g.allocateNonce(ctx)
	if err != nil {
		return "", err
	}
	gasPrice, err := g.chain.GasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}
	gas := g.gasLimit
	if gas == 0 {
		if gas, err = g.chain.EstimateGas(ctx, msg); err != nil {
			return "", fmt.Errorf("failed to estimate gas: %w", err)
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &g.contract,
		Value:    new(big.Int),
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), g.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign graduate: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to encode graduate: %w", err)
	}
	hash, err := g.chain.SendRawTransaction(ctx, raw)
	if err != nil {
		return "", fmt.Errorf("failed to send graduate: %w", err)
	}
	g.nextNonce = nonce + 1
	log.Info().Str("token", token).Str("tx", hash).Uint64("nonce", nonce).Msg("Submitted graduation")
	return hash, nil
}

// allocateNonce never hands out a nonce below one already used by this signer.
// The pool may answer from a provider that has not seen our last send yet.
// Callers hold g.mu.
func (g *Graduator) allocateNonce(ctx context.Context) (uint64, error) {
	pending, err := g.chain.GetPendingNonce(ctx, g.from.Hex())
	if err != nil {
		return 0, fmt.Errorf("failed to get nonce: %w", err)
	}
	if pending < g.nextNonce {
		log.Debug().Uint64("pending", pending).Uint64("next", g.nextNonce).Msg("Provider is behind on our nonce, using the local one")
		return g.nextNonce, nil
	}
	return pending, nil
}
