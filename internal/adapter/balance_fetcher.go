// Package adapter provides the external-collaborator implementations
// the monitoring core depends on: on-chain balance fetching, the price
// feed client, and the rebalance transaction submitter.
package adapter

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/portfolio-monitor/internal/circuitbreaker"
	"github.com/portfolio-monitor/internal/config"
	apperrors "github.com/portfolio-monitor/internal/errors"
)

// ERC20 balanceOf ABI
const erc20ABI = `[{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"}]`

// BalanceFetcher reads token balances from an Ethereum RPC endpoint.
// Native balances come from eth_getBalance; ERC-20 balances from a
// balanceOf eth_call.
type BalanceFetcher struct {
	client    *ethclient.Client
	parsedABI abi.ABI
	tokens    map[string]config.TokenConfig
	breaker   *circuitbreaker.CircuitBreaker
}

// NewBalanceFetcher creates a balance fetcher for the configured token set
func NewBalanceFetcher(rpcURL string, tokens []config.TokenConfig) (*BalanceFetcher, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("RPC URL is required")
	}

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}

	tokenMap := make(map[string]config.TokenConfig, len(tokens))
	for _, token := range tokens {
		tokenMap[token.Symbol] = token
	}

	return &BalanceFetcher{
		client:    client,
		parsedABI: parsedABI,
		tokens:    tokenMap,
		breaker:   circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("rpc")),
	}, nil
}

// Close releases the underlying RPC connection
func (f *BalanceFetcher) Close() {
	f.client.Close()
}

// FetchBalances returns the wallet's balance for every requested token,
// in whole token units. Any single failed fetch fails the whole call:
// a partial balance map would corrupt drift math downstream.
func (f *BalanceFetcher) FetchBalances(ctx context.Context, walletAddress string, symbols []string) (map[string]float64, error) {
	if !common.IsHexAddress(walletAddress) {
		return nil, apperrors.NewInvalidParameterError("walletAddress", "not a valid hex address")
	}
	owner := common.HexToAddress(walletAddress)

	balances := make(map[string]float64, len(symbols))
	for _, symbol := range symbols {
		token, ok := f.tokens[symbol]
		if !ok {
			return nil, apperrors.NewInvalidParameterError("symbol", fmt.Sprintf("token %s is not configured", symbol))
		}

		var raw *big.Int
		err := f.breaker.Execute(ctx, func() error {
			var fetchErr error
			if token.ContractAddress == "" {
				raw, fetchErr = f.client.BalanceAt(ctx, owner, nil)
			} else {
				raw, fetchErr = f.erc20Balance(ctx, token.ContractAddress, owner)
			}
			return fetchErr
		})
		if err != nil {
			return nil, apperrors.NewProviderError("rpc", fmt.Errorf("balance fetch for %s: %w", symbol, err))
		}

		balances[symbol] = toTokenUnits(raw, token.Decimals)
	}

	return balances, nil
}

func (f *BalanceFetcher) erc20Balance(ctx context.Context, contract string, owner common.Address) (*big.Int, error) {
	tokenAddr := common.HexToAddress(contract)

	data, err := f.parsedABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, err
	}

	result, err := f.client.CallContract(ctx, ethereum.CallMsg{
		To:   &tokenAddr,
		Data: data,
	}, nil)
	if err != nil {
		return nil, err
	}

	if len(result) == 0 {
		return big.NewInt(0), nil
	}

	return new(big.Int).SetBytes(result), nil
}

// toTokenUnits converts a raw integer amount to whole token units.
// float64 loses precision beyond ~15 significant digits, which is
// acceptable for allocation math but not for trade settlement.
func toTokenUnits(raw *big.Int, decimals int) float64 {
	if raw == nil {
		return 0
	}
	value, _ := new(big.Float).Quo(
		new(big.Float).SetInt(raw),
		big.NewFloat(math.Pow10(decimals)),
	).Float64()
	return value
}
