package rpc

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/curvewatch/indexer/internal/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// CallMsg is the argument of eth_call and eth_estimateGas.
type CallMsg struct {
	From  string
	To    string
	Data  []byte
	Value *big.Int
	Gas   uint64
}

func (m CallMsg) toArg() map[string]interface{} {
	arg := map[string]interface{}{
		"to": m.To,
	}
	if m.From != "" {
		arg["from"] = m.From
	}
	if len(m.Data) > 0 {
		arg["data"] = hexutil.Bytes(m.Data)
	}
	if m.Value != nil {
		arg["value"] = (*hexutil.Big)(m.Value)
	}
	if m.Gas > 0 {
		arg["gas"] = hexutil.Uint64(m.Gas)
	}
	return arg
}

// IChainClient is the typed view of the chain used by the scanner and the
// contract layer. Every call goes through the pool.
type IChainClient interface {
	GetLatestBlockNumber(ctx context.Context) (uint64, error)
	GetBlockTimestamps(ctx context.Context, blockNumbers []uint64) (map[uint64]time.Time, error)
	GetLogs(ctx context.Context, fromBlock, toBlock uint64, address string) ([]common.RawLog, error)
	Call(ctx context.Context, msg CallMsg) ([]byte, error)
	EstimateGas(ctx context.Context, msg CallMsg) (uint64, error)
	GetPendingNonce(ctx context.Context, address string) (uint64, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SendRawTransaction(ctx context.Context, rawTx []byte) (string, error)
}

type ChainClient struct {
	pool *Pool
}

func NewChainClient(pool *Pool) *ChainClient {
	return &ChainClient{pool: pool}
}

type rpcBlockHeader struct {
	Number    hexutil.Uint64 `json:"number"`
	Hash      string         `json:"hash"`
	Timestamp hexutil.Uint64 `json:"timestamp"`
}

type rpcLog struct {
	Address          string         `json:"address"`
	Topics           []string       `json:"topics"`
	Data             string         `json:"data"`
	BlockNumber      hexutil.Uint64 `json:"blockNumber"`
	BlockHash        string         `json:"blockHash"`
	TransactionHash  string         `json:"transactionHash"`
	TransactionIndex hexutil.Uint64 `json:"transactionIndex"`
	LogIndex         hexutil.Uint64 `json:"logIndex"`
	Removed          bool           `json:"removed"`
}

func (c *ChainClient) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	res, err := c.pool.Call(ctx, "eth_blockNumber")
	if err != nil {
		return 0, err
	}
	return res.Uint64()
}

func (c *ChainClient) GetBlockTimestamps(ctx context.Context, blockNumbers []uint64) (map[uint64]time.Time, error) {
	results := FetchConcurrently[uint64, *rpcBlockHeader](ctx, c.pool, blockNumbers, "eth_getBlockByNumber", func(n uint64) []interface{} {
		return []interface{}{hexutil.EncodeUint64(n), false}
	})
	timestamps := make(map[uint64]time.Time, len(results))
	for _, r := range results {
		if r.Error != nil {
			return nil, fmt.Errorf("failed to fetch block %d: %w", r.Key, r.Error)
		}
		if r.Result == nil {
			return nil, fmt.Errorf("block %d not found", r.Key)
		}
		timestamps[r.Key] = time.Unix(int64(r.Result.Timestamp), 0).UTC()
	}
	return timestamps, nil
}

// GetLogs returns the logs of address in [fromBlock, toBlock]. Block timestamps
// are left zero; the scanner fills them in.
func (c *ChainClient) GetLogs(ctx context.Context, fromBlock, toBlock uint64, address string) ([]common.RawLog, error) {
	filter := map[string]interface{}{
		"fromBlock": hexutil.EncodeUint64(fromBlock),
		"toBlock":   hexutil.EncodeUint64(toBlock),
		"address":   address,
	}
	res, err := c.pool.Call(ctx, "eth_getLogs", filter)
	if err != nil {
		return nil, err
	}
	var raw []rpcLog
	if err := res.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding logs: %w", err)
	}
	logs := make([]common.RawLog, 0, len(raw))
	for _, l := range raw {
		logs = append(logs, common.RawLog{
			Address:          common.NormalizeAddress(l.Address),
			Topics:           l.Topics,
			Data:             l.Data,
			BlockNumber:      uint64(l.BlockNumber),
			BlockHash:        l.BlockHash,
			TransactionHash:  l.TransactionHash,
			TransactionIndex: uint64(l.TransactionIndex),
			LogIndex:         uint64(l.LogIndex),
			Removed:          l.Removed,
		})
	}
	return logs, nil
}

func (c *ChainClient) Call(ctx context.Context, msg CallMsg) ([]byte, error) {
	res, err := c.pool.Call(ctx, "eth_call", msg.toArg(), "latest")
	if err != nil {
		return nil, err
	}
	return res.Bytes()
}

func (c *ChainClient) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	res, err := c.pool.Call(ctx, "eth_estimateGas", msg.toArg())
	if err != nil {
		return 0, err
	}
	return res.Uint64()
}

func (c *ChainClient) GetPendingNonce(ctx context.Context, address string) (uint64, error) {
	res, err := c.pool.Call(ctx, "eth_getTransactionCount", address, "pending")
	if err != nil {
		return 0, err
	}
	return res.Uint64()
}

func (c *ChainClient) GasPrice(ctx context.Context) (*big.Int, error) {
	res, err := c.pool.Call(ctx, "eth_gasPrice")
	if err != nil {
		return nil, err
	}
	return res.BigInt()
}

func (c *ChainClient) ChainID(ctx context.Context) (*big.Int, error) {
	res, err := c.pool.Call(ctx, "eth_chainId")
	if err != nil {
		return nil, err
	}
	return res.BigInt()
}

func (c *ChainClient) SendRawTransaction(ctx context.Context, rawTx []byte) (string, error) {
	res, err := c.pool.Call(ctx, "eth_sendRawTransaction", hexutil.Bytes(rawTx))
	if err != nil {
		return "", err
	}
	var hash string
	if err := res.Decode(&hash); err != nil {
		return "", fmt.Errorf("decoding transaction hash: %w", err)
	}
	return hash, nil
}
