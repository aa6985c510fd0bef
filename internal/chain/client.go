// Package chain provides the gateway's JSON-RPC access to the Base network.
// All chain traffic funnels through one client so circuit breaking, retries
// and metrics apply uniformly.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/tachi-protocol/gateway/internal/circuitbreaker"
	"github.com/tachi-protocol/gateway/internal/config"
	"github.com/tachi-protocol/gateway/internal/metrics"
)

// Client is the subset of Ethereum JSON-RPC the gateway needs. Signatures
// mirror ethclient so the production implementation is a thin wrapper and
// tests can substitute a fake.
type Client interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	Close()
}

// RPCClient wraps ethclient with circuit breaking and per-method metrics.
type RPCClient struct {
	eth      *ethclient.Client
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
	network  string
}

// Dial connects to the configured RPC endpoint and verifies the remote chain
// id matches configuration. A mismatch here means payments would be verified
// against the wrong network, so it is fatal.
func Dial(ctx context.Context, cfg config.ChainConfig, breakers *circuitbreaker.Manager, m *metrics.Metrics) (*RPCClient, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}

	remoteID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain: fetch chain id: %w", err)
	}
	if remoteID.Int64() != cfg.ChainID {
		eth.Close()
		return nil, fmt.Errorf("chain: endpoint reports chain id %d, configured %d", remoteID.Int64(), cfg.ChainID)
	}

	return &RPCClient{
		eth:      eth,
		breakers: breakers,
		metrics:  m,
		network:  cfg.Network(),
	}, nil
}

func (c *RPCClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return call(c, "eth_getTransactionReceipt", func() (*types.Receipt, error) {
		return c.eth.TransactionReceipt(ctx, txHash)
	})
}

func (c *RPCClient) BlockNumber(ctx context.Context) (uint64, error) {
	return call(c, "eth_blockNumber", func() (uint64, error) {
		return c.eth.BlockNumber(ctx)
	})
}

func (c *RPCClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return call(c, "eth_getBlockByNumber", func() (*types.Header, error) {
		return c.eth.HeaderByNumber(ctx, number)
	})
}

func (c *RPCClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return call(c, "eth_getTransactionCount", func() (uint64, error) {
		return c.eth.PendingNonceAt(ctx, account)
	})
}

func (c *RPCClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return call(c, "eth_maxPriorityFeePerGas", func() (*big.Int, error) {
		return c.eth.SuggestGasTipCap(ctx)
	})
}

func (c *RPCClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	_, err := call(c, "eth_sendRawTransaction", func() (struct{}, error) {
		return struct{}{}, c.eth.SendTransaction(ctx, tx)
	})
	return err
}

func (c *RPCClient) Close() {
	c.eth.Close()
}

// call runs one RPC method through the chain breaker and records metrics.
// ethereum.NotFound is a valid verification outcome, not an endpoint failure,
// so it neither counts against the breaker nor the error metric.
func call[T any](c *RPCClient, method string, fn func() (T, error)) (T, error) {
	start := time.Now()

	var result T
	var callErr error
	_, breakerErr := c.breakers.Execute(circuitbreaker.ServiceChainRPC, func() (interface{}, error) {
		result, callErr = fn()
		if callErr == ethereum.NotFound {
			return nil, nil
		}
		return nil, callErr
	})

	err := callErr
	if breakerErr != nil && circuitbreaker.ErrOpen(breakerErr) {
		err = breakerErr
	}
	if err == ethereum.NotFound {
		c.metrics.ObserveRPCCall(method, c.network, time.Since(start), nil)
	} else {
		c.metrics.ObserveRPCCall(method, c.network, time.Since(start), err)
	}

	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
