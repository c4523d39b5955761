package submit_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"liquidityAgent/internal/chaintest"
	"liquidityAgent/internal/model"
	"liquidityAgent/internal/submit"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var target = common.HexToAddress("0xC36442b4a4522E871399CD717aBDD847Ab11FE88")

func newSubmitter(t *testing.T, fake *chaintest.Chain, timeout time.Duration) *submit.Submitter {
	t.Helper()
	key, err := submit.ParsePrivateKey("0x" + testKey)
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	s, err := submit.New(fake, key, submit.Config{
		ChainID:        big.NewInt(137),
		ConfirmTimeout: timeout,
		PollInterval:   5 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("new submitter: %v", err)
	}
	return s
}

func payload(method string) model.CallPayload {
	return model.CallPayload{To: target, Data: []byte{0x01, 0x02, 0x03, 0x04}, Value: big.NewInt(0), Method: method}
}

func TestSubmitAssignsSequentialNonces(t *testing.T) {
	fake := chaintest.New()
	s := newSubmitter(t, fake, time.Second)

	for i := 0; i < 3; i++ {
		receipt, err := s.Submit(context.Background(), payload("mint"))
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if receipt.Status != types.ReceiptStatusSuccessful || receipt.Method != "mint" {
			t.Fatalf("receipt mismatch: %+v", receipt)
		}
		if receipt.BlockNumber == 0 || receipt.GasUsed == 0 {
			t.Fatalf("receipt missing block data: %+v", receipt)
		}
	}

	sent := fake.Sent()
	if len(sent) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(sent))
	}
	signer := types.LatestSignerForChainID(big.NewInt(137))
	key, _ := crypto.HexToECDSA(testKey)
	for i, tx := range sent {
		if tx.Nonce() != uint64(i) {
			t.Fatalf("tx %d nonce %d", i, tx.Nonce())
		}
		if tx.Type() != types.DynamicFeeTxType {
			t.Fatalf("tx %d type %d", i, tx.Type())
		}
		if tx.GasFeeCap().Cmp(submit.DefaultMaxFeePerGas) != 0 || tx.GasTipCap().Cmp(submit.DefaultMaxPriorityFeePerGas) != 0 {
			t.Fatalf("tx %d fees %s/%s", i, tx.GasFeeCap(), tx.GasTipCap())
		}
		from, err := types.Sender(signer, tx)
		if err != nil {
			t.Fatalf("recover sender: %v", err)
		}
		if from != crypto.PubkeyToAddress(key.PublicKey) || from != s.Address() {
			t.Fatalf("sender mismatch: %s", from.Hex())
		}
	}
}

func TestSubmitRevertedReceipt(t *testing.T) {
	fake := chaintest.New()
	fake.RevertTxTo(target)
	s := newSubmitter(t, fake, time.Second)

	_, err := s.Submit(context.Background(), payload("mint"))
	if !errors.Is(err, model.ErrTransactionReverted) {
		t.Fatalf("expected ErrTransactionReverted, got %v", err)
	}
}

func TestSubmitEstimateFailureIsRevert(t *testing.T) {
	fake := chaintest.New()
	fake.EstimateErr = errors.New("execution reverted: STF")
	s := newSubmitter(t, fake, time.Second)

	_, err := s.Approve(context.Background(), payload("approve"))
	if !errors.Is(err, model.ErrTransactionReverted) {
		t.Fatalf("expected ErrTransactionReverted, got %v", err)
	}
	if len(fake.Sent()) != 0 {
		t.Fatalf("nothing should be broadcast when estimation fails")
	}
}

func TestSubmitTimeout(t *testing.T) {
	fake := chaintest.New()
	fake.Pending = true
	s := newSubmitter(t, fake, 50*time.Millisecond)

	_, err := s.Submit(context.Background(), payload("exactInputSingle"))
	if !errors.Is(err, model.ErrTransactionTimeout) {
		t.Fatalf("expected ErrTransactionTimeout, got %v", err)
	}
}

func TestSubmitRefetchesNonceAfterSendFailure(t *testing.T) {
	fake := chaintest.New()
	s := newSubmitter(t, fake, time.Second)

	if _, err := s.Submit(context.Background(), payload("approve")); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	fake.SendErr = errors.New("connection reset")
	if _, err := s.Submit(context.Background(), payload("approve")); err == nil {
		t.Fatalf("expected send error")
	}

	fake.SendErr = nil
	if _, err := s.Submit(context.Background(), payload("mint")); err != nil {
		t.Fatalf("submit after failure: %v", err)
	}
	sent := fake.Sent()
	if len(sent) != 2 || sent[1].Nonce() != 1 {
		t.Fatalf("unexpected nonces after recovery: %d sent", len(sent))
	}
}

func TestSubmitCanceledBeforeSend(t *testing.T) {
	fake := chaintest.New()
	s := newSubmitter(t, fake, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Submit(ctx, payload("mint")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(fake.Sent()) != 0 {
		t.Fatalf("canceled submit must not broadcast")
	}
}

func TestParsePrivateKeyRejectsGarbage(t *testing.T) {
	if _, err := submit.ParsePrivateKey(""); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if _, err := submit.ParsePrivateKey("0xnothex"); err == nil {
		t.Fatalf("expected error for non-hex key")
	}
}
