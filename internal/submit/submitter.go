// Package submit signs call payloads as EIP-1559 transactions, broadcasts
// them and waits for their receipts.
package submit

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"go.uber.org/zap"

	"liquidityAgent/internal/model"
)

const (
	DefaultConfirmTimeout = 5 * time.Minute
	DefaultPollInterval   = 2 * time.Second
	maxPollInterval       = 15 * time.Second
)

var (
	DefaultMaxFeePerGas         = new(big.Int).Mul(big.NewInt(110), big.NewInt(params.GWei))
	DefaultMaxPriorityFeePerGas = new(big.Int).Mul(big.NewInt(26), big.NewInt(params.GWei))
)

// Backend is the transaction side of a chain client.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Config holds fee and confirmation settings.
type Config struct {
	ChainID              *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	ConfirmTimeout       time.Duration
	PollInterval         time.Duration
}

// Submitter owns the signing key and the account nonce. Calls are
// serialized so nonces are assigned in submission order.
type Submitter struct {
	backend Backend
	key     *ecdsa.PrivateKey
	from    common.Address
	signer  types.Signer
	cfg     Config
	logger  *zap.Logger

	mu        sync.Mutex
	nonce     uint64
	haveNonce bool
}

// ParsePrivateKey decodes a hex private key with or without the 0x prefix.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, fmt.Errorf("private key is empty")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func New(backend Backend, key *ecdsa.PrivateKey, cfg Config, logger *zap.Logger) (*Submitter, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is nil")
	}
	if key == nil {
		return nil, fmt.Errorf("private key is nil")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain id must be positive")
	}
	if cfg.MaxFeePerGas == nil {
		cfg.MaxFeePerGas = DefaultMaxFeePerGas
	}
	if cfg.MaxPriorityFeePerGas == nil {
		cfg.MaxPriorityFeePerGas = DefaultMaxPriorityFeePerGas
	}
	if cfg.MaxPriorityFeePerGas.Cmp(cfg.MaxFeePerGas) > 0 {
		return nil, fmt.Errorf("priority fee %s exceeds max fee %s", cfg.MaxPriorityFeePerGas, cfg.MaxFeePerGas)
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Submitter{
		backend: backend,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		signer:  types.LatestSignerForChainID(cfg.ChainID),
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Address is the signing account; it is the recipient of minted positions,
// collected fees and swap output.
func (s *Submitter) Address() common.Address {
	return s.from
}

// Approve submits an ERC20 approval and waits for it to confirm.
func (s *Submitter) Approve(ctx context.Context, payload model.CallPayload) (model.Receipt, error) {
	s.logger.Debug("submitting approval", zap.String("token", payload.To.Hex()))
	return s.Submit(ctx, payload)
}

// Submit signs payload, broadcasts it and blocks until its receipt is
// available. A mined status-0 receipt is ErrTransactionReverted; no receipt
// within the confirm timeout is ErrTransactionTimeout.
func (s *Submitter) Submit(ctx context.Context, payload model.CallPayload) (model.Receipt, error) {
	tx, err := s.send(ctx, payload)
	if err != nil {
		return model.Receipt{}, err
	}

	s.logger.Info("transaction sent",
		zap.String("method", payload.Method),
		zap.String("to", payload.To.Hex()),
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.Uint64("nonce", tx.Nonce()),
	)

	receipt, err := s.waitReceipt(ctx, tx.Hash())
	if err != nil {
		return model.Receipt{}, err
	}

	out := model.Receipt{
		Method:  payload.Method,
		TxHash:  receipt.TxHash,
		GasUsed: receipt.GasUsed,
		Status:  receipt.Status,
	}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return out, fmt.Errorf("%w: %s tx %s in block %d", model.ErrTransactionReverted, payload.Method, receipt.TxHash.Hex(), out.BlockNumber)
	}

	s.logger.Info("transaction confirmed",
		zap.String("method", payload.Method),
		zap.String("tx_hash", receipt.TxHash.Hex()),
		zap.Uint64("block_number", out.BlockNumber),
		zap.Uint64("gas_used", receipt.GasUsed),
	)
	return out, nil
}

// send assigns the next nonce, signs and broadcasts. The lock spans all
// three so two payloads never share a nonce.
func (s *Submitter) send(ctx context.Context, payload model.CallPayload) (*types.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !s.haveNonce {
		nonce, err := s.backend.PendingNonceAt(ctx, s.from)
		if err != nil {
			return nil, fmt.Errorf("%w: pending nonce for %s: %w", model.ErrChainRead, s.from.Hex(), err)
		}
		s.nonce = nonce
		s.haveNonce = true
	}

	value := payload.Value
	if value == nil {
		value = new(big.Int)
	}
	to := payload.To

	gas, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:      s.from,
		To:        &to,
		GasFeeCap: s.cfg.MaxFeePerGas,
		GasTipCap: s.cfg.MaxPriorityFeePerGas,
		Value:     value,
		Data:      payload.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: estimate gas for %s: %w", model.ErrTransactionReverted, payload.Method, err)
	}

	tx, err := types.SignNewTx(s.key, s.signer, &types.DynamicFeeTx{
		ChainID:   s.cfg.ChainID,
		Nonce:     s.nonce,
		GasTipCap: s.cfg.MaxPriorityFeePerGas,
		GasFeeCap: s.cfg.MaxFeePerGas,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      payload.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", payload.Method, err)
	}

	if err := s.backend.SendTransaction(ctx, tx); err != nil {
		// The node may have seen a nonce we did not; refetch next time.
		s.haveNonce = false
		return nil, fmt.Errorf("send %s: %w", payload.Method, err)
	}
	s.nonce++
	return tx, nil
}

// waitReceipt polls for the receipt. Once a transaction is broadcast the
// wait is detached from ctx cancellation and bounded only by the confirm
// timeout.
func (s *Submitter) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ConfirmTimeout)
	defer cancel()

	var receipt *types.Receipt
	err := poll(waitCtx, s.cfg.PollInterval, maxPollInterval, func(ctx context.Context) (bool, error) {
		r, err := s.backend.TransactionReceipt(ctx, hash)
		if errors.Is(err, ethereum.NotFound) {
			return false, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			s.logger.Warn("receipt fetch failed", zap.String("tx_hash", hash.Hex()), zap.Error(err))
			return false, nil
		}
		receipt = r
		return true, nil
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: no receipt for %s after %s", model.ErrTransactionTimeout, hash.Hex(), s.cfg.ConfirmTimeout)
	}
	if err != nil {
		return nil, fmt.Errorf("wait receipt %s: %w", hash.Hex(), err)
	}
	return receipt, nil
}
