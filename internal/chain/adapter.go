// Package chain provides ledger adapters for redistribution attestation.
package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/akta-mmi/redistribution_core/internal/app/domain/command"
)

// On-chain transaction statuses reported by GetTransaction.
const (
	TxPending   = "pending"
	TxConfirmed = "confirmed"
	TxFailed    = "failed"
)

// ErrNotFound is returned by GetTransaction when the ledger has no record of
// the txid. It is distinct from a pending result: pending means the ledger
// knows the transaction and has not finalized it yet.
var ErrNotFound = errors.New("transaction not found on ledger")

// Error is a classified adapter failure. Transient errors are safe to retry
// before any txid has been persisted; permanent errors are rejections.
type Error struct {
	Op        string
	Message   string
	Transient bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// IsTransient reports whether err is a retryable adapter failure.
func IsTransient(err error) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Transient
	}
	return false
}

// Submission is a prepared ledger submission. The note carries the canonical
// attestation; SignedTxn is the wire-ready blob on live backends.
type Submission struct {
	Payload   command.Payload
	Hash      string // base64 SHA-256 of the canonical payload
	Note      []byte
	SignedTxn []byte
}

// SubmittedTx is the result of a successful submission.
type SubmittedTx struct {
	TxID        string
	Chain       string
	ChainID     string
	SubmittedAt time.Time
}

// OnChainTx is the ledger's view of a submitted transaction.
type OnChainTx struct {
	TxID           string
	Status         string
	Block          uint64
	ConfirmedRound uint64
	Fee            float64
	ConfirmedAt    *time.Time
}

// Adapter abstracts one ledger backend. Implementations are chosen once at
// startup; callers never switch backends at runtime.
type Adapter interface {
	Name() string
	ChainID() string
	BuildSubmission(payload command.Payload) (Submission, error)
	SubmitTransaction(ctx context.Context, sub Submission) (SubmittedTx, error)
	GetTransaction(ctx context.Context, txid string) (OnChainTx, error)
	VerifyOffchainSignature(message, signature, publicKey []byte) bool
}

// Config holds adapter configuration.
type Config struct {
	Name       string
	ChainID    string
	AlgodURL   string
	Token      string
	IndexerURL string
	SignerKey  string // hex-encoded ed25519 seed
	Timeout    time.Duration
	DemoMode   bool
}

// New selects the adapter for cfg. Demo mode always yields the noop backend.
func New(cfg Config) (Adapter, error) {
	if cfg.DemoMode {
		return NewNoop(cfg), nil
	}
	switch cfg.Name {
	case "", "algorand":
		return NewAlgorand(cfg)
	default:
		return nil, fmt.Errorf("unsupported chain %q", cfg.Name)
	}
}

// Reference composes the durable cross-record pointer for a transaction.
func Reference(chain, chainID, txid string) string {
	return fmt.Sprintf("%s:%s:%s", chain, chainID, txid)
}
