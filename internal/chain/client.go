package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"hedgeflow/internal/model"
)

// Client wraps go-ethereum RPC and exposes the deposit-event capabilities the
// monitor consumes: head queries, historical log filtering, and a live
// subscription.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client
	contract  common.Address
	decoder   *DepositDecoder
}

// NewClient connects to the RPC endpoint and targets one deposit contract.
func NewClient(ctx context.Context, rpcURL, contractAddress string) (*Client, error) {
	if !common.IsHexAddress(contractAddress) {
		return nil, fmt.Errorf("invalid contract address: %s", contractAddress)
	}

	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}

	decoder, err := NewDepositDecoder()
	if err != nil {
		rpcClient.Close()
		return nil, err
	}

	return &Client{
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
		contract:  common.HexToAddress(contractAddress),
		decoder:   decoder,
	}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// ChainID returns the chain ID.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.ethClient.ChainID(ctx)
}

// BlockNumber returns the current head block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.ethClient.BlockNumber(ctx)
}

// FilterDeposits returns decoded deposit events in the inclusive block range.
func (c *Client) FilterDeposits(ctx context.Context, fromBlock, toBlock uint64) ([]model.DepositLog, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{{c.decoder.Topic0()}},
	}
	logs, err := c.ethClient.FilterLogs(ctx, query)
	if err != nil {
		return nil, err
	}

	deposits := make([]model.DepositLog, 0, len(logs))
	for _, log := range logs {
		if log.Removed {
			continue
		}
		deposit, err := c.decoder.Decode(log)
		if err != nil {
			return nil, fmt.Errorf("decode deposit log %s: %w", log.TxHash.Hex(), err)
		}
		deposits = append(deposits, deposit)
	}
	return deposits, nil
}

// SubscribeDeposits subscribes to new deposit events and forwards decoded
// entries to sink until the subscription fails or ctx is cancelled. It returns
// an error immediately if the endpoint does not support subscriptions.
func (c *Client) SubscribeDeposits(ctx context.Context, sink chan<- model.DepositLog) (ethereum.Subscription, error) {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{{c.decoder.Topic0()}},
	}

	logs := make(chan types.Log, 64)
	sub, err := c.ethClient.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return nil, err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case log, ok := <-logs:
				if !ok {
					return
				}
				if log.Removed {
					continue
				}
				deposit, err := c.decoder.Decode(log)
				if err != nil {
					// A malformed log on our own topic filter; skip it
					// rather than kill the subscription.
					continue
				}
				select {
				case sink <- deposit:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return sub, nil
}
