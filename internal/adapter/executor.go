package adapter

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	apperrors "github.com/portfolio-monitor/internal/errors"
	"github.com/portfolio-monitor/internal/models"
)

// RebalanceSubmitter submits rebalance transactions on chain. The
// current implementation is a testnet simulation: it sends a minimal
// self-transfer from the operator account carrying the JSON-encoded
// rebalance plan as calldata. A production submitter would route the
// individual trades through a DEX.
type RebalanceSubmitter struct {
	client     *ethclient.Client
	privateKey *ecdsa.PrivateKey
	chainID    *big.Int
	network    string
}

// NewRebalanceSubmitter creates a submitter from an RPC endpoint and a
// hex-encoded operator private key
func NewRebalanceSubmitter(rpcURL, privateKeyHex string, chainID int64, network string) (*RebalanceSubmitter, error) {
	if privateKeyHex == "" {
		return nil, fmt.Errorf("executor private key is required")
	}

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid executor private key: %w", err)
	}

	return &RebalanceSubmitter{
		client:     client,
		privateKey: privateKey,
		chainID:    big.NewInt(chainID),
		network:    network,
	}, nil
}

// Close releases the underlying RPC connection
func (s *RebalanceSubmitter) Close() {
	s.client.Close()
}

// SubmitRebalance signs and broadcasts the rebalance transaction,
// returning the transaction hash. Confirmation is observed out of band
// via TransactionStatus.
func (s *RebalanceSubmitter) SubmitRebalance(ctx context.Context, walletAddress string, trades map[string]models.TokenTrade, targetAllocation map[string]float64) (string, error) {
	operator := crypto.PubkeyToAddress(s.privateKey.PublicKey)

	nonce, err := s.client.PendingNonceAt(ctx, operator)
	if err != nil {
		return "", apperrors.NewExecutionFailedError(walletAddress, fmt.Errorf("nonce lookup: %w", err))
	}

	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", apperrors.NewExecutionFailedError(walletAddress, fmt.Errorf("gas price lookup: %w", err))
	}

	payload, err := json.Marshal(map[string]interface{}{
		"wallet":            walletAddress,
		"target_allocation": targetAllocation,
		"trades":            trades,
		"timestamp":         time.Now().Unix(),
	})
	if err != nil {
		return "", apperrors.NewInternalError("marshal rebalance payload", err)
	}

	// 21000 base gas plus 16 gas per calldata byte
	gasLimit := uint64(21000 + len(payload)*16)

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &operator,
		Value:    big.NewInt(1e15), // 0.001 ETH marker value
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     payload,
	})

	signedTx, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(s.chainID), s.privateKey)
	if err != nil {
		return "", apperrors.NewExecutionFailedError(walletAddress, fmt.Errorf("sign transaction: %w", err))
	}

	if err := s.client.SendTransaction(ctx, signedTx); err != nil {
		return "", apperrors.NewExecutionFailedError(walletAddress, fmt.Errorf("send transaction: %w", err))
	}

	return signedTx.Hash().Hex(), nil
}

// Network returns the configured network name.
func (s *RebalanceSubmitter) Network() string {
	return s.network
}

// TransactionStatus reports whether a submitted transaction confirmed,
// failed, or is still pending.
func (s *RebalanceSubmitter) TransactionStatus(ctx context.Context, txRef string) (string, error) {
	raw := strings.TrimPrefix(txRef, "0x")
	if len(raw) != 64 {
		return "", apperrors.NewInvalidParameterError("txRef", "must be a 32-byte hex transaction hash")
	}

	receipt, err := s.client.TransactionReceipt(ctx, common.HexToHash(txRef))
	if err != nil {
		// Receipt absence means the transaction has not been mined yet
		return "pending", nil
	}

	if receipt.Status == ethtypes.ReceiptStatusSuccessful {
		return "confirmed", nil
	}
	return "failed", nil
}
