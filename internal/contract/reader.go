package contract

import (
	"context"
	"fmt"
	"math/big"

	"github.com/curvewatch/indexer/internal/common"
	"github.com/curvewatch/indexer/internal/rpc"
	"github.com/ethereum/go-ethereum/accounts/abi"
	gethCommon "github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

// IContractReader reads per-market state from the contract.
type IContractReader interface {
	VirtualReserves(ctx context.Context, token string) (virtualX *big.Int, virtualY *big.Int, err error)
	CurveParams(ctx context.Context, token string) (common.CurveParams, error)
}

type Reader struct {
	chain   rpc.IChainClient
	address string
	abi     *abi.ABI
}

func NewReader(chain rpc.IChainClient, contractAddress string) *Reader {
	return &Reader{
		chain:   chain,
		address: common.NormalizeAddress(contractAddress),
		abi:     MarketABI(),
	}
}

func (r *Reader) readUint(ctx context.Context, method string, token string) (*big.Int, error) {
	data, err := r.abi.Pack(method, gethCommon.HexToAddress(token))
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	out, err := r.chain.Call(ctx, rpc.CallMsg{To: r.address, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s(%s): %w", method, token, err)
	}
	values, err := r.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%s returned %d values", method, len(values))
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s returned %T", method, values[0])
	}
	return v, nil
}

func (r *Reader) VirtualReserves(ctx context.Context, token string) (*big.Int, *big.Int, error) {
	var x, y *big.Int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		x, err = r.readUint(gctx, "virtualX", token)
		return err
	})
	g.Go(func() (err error) {
		y, err = r.readUint(gctx, "virtualY", token)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return x, y, nil
}

func (r *Reader) CurveParams(ctx context.Context, token string) (common.CurveParams, error) {
	var params common.CurveParams
	targets := map[string]**big.Int{
		"K":  &params.K,
		"X0": &params.X0,
		"Y0": &params.Y0,
		"X1": &params.X1,
		"Y1": &params.Y1,
	}
	g, gctx := errgroup.WithContext(ctx)
	for method, target := range targets {
		g.Go(func() error {
			v, err := r.readUint(gctx, method, token)
			if err != nil {
				return err
			}
			*target = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return common.CurveParams{}, err
	}
	return params, nil
}
