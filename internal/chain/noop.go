package chain

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/akta-mmi/redistribution_core/internal/app/domain/command"
	"github.com/akta-mmi/redistribution_core/pkg/canonical"
)

const (
	demoTxPrefix = "demo-"
	demoRound    = 12345678
	demoFee      = 0.001
)

// Noop is the demo-mode backend. It builds real attestation notes but never
// touches the network; txids are synthetic and confirm immediately on query.
type Noop struct {
	name    string
	chainID string
}

var _ Adapter = (*Noop)(nil)

// NewNoop creates the demo adapter.
func NewNoop(cfg Config) *Noop {
	name := cfg.Name
	if name == "" {
		name = "algorand"
	}
	chainID := cfg.ChainID
	if chainID == "" {
		chainID = "testnet"
	}
	return &Noop{name: name, chainID: chainID}
}

func (n *Noop) Name() string    { return n.name }
func (n *Noop) ChainID() string { return n.chainID }

func (n *Noop) BuildSubmission(payload command.Payload) (Submission, error) {
	hash, note, err := buildAttestation(payload)
	if err != nil {
		return Submission{}, err
	}
	return Submission{Payload: payload, Hash: hash, Note: note}, nil
}

func (n *Noop) SubmitTransaction(_ context.Context, _ Submission) (SubmittedTx, error) {
	return SubmittedTx{
		TxID:        demoTxPrefix + uuid.NewString(),
		Chain:       n.name,
		ChainID:     n.chainID,
		SubmittedAt: time.Now().UTC(),
	}, nil
}

func (n *Noop) GetTransaction(_ context.Context, txid string) (OnChainTx, error) {
	if !isDemoTxID(txid) {
		return OnChainTx{}, ErrNotFound
	}
	return demoConfirmed(txid), nil
}

func (n *Noop) VerifyOffchainSignature(message, signature, publicKey []byte) bool {
	return canonical.VerifySignature(message, signature, publicKey)
}

func isDemoTxID(txid string) bool {
	return strings.HasPrefix(txid, demoTxPrefix)
}

func demoConfirmed(txid string) OnChainTx {
	now := time.Now().UTC()
	return OnChainTx{
		TxID:           txid,
		Status:         TxConfirmed,
		Block:          demoRound,
		ConfirmedRound: demoRound,
		Fee:            demoFee,
		ConfirmedAt:    &now,
	}
}
