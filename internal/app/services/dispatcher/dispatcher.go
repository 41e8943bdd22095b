// Package dispatcher drives approved commands through signature verification,
// ledger submission, fulfillment, and inventory settlement.
package dispatcher

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/akta-mmi/redistribution_core/internal/app/domain/command"
	"github.com/akta-mmi/redistribution_core/internal/app/domain/ledgertx"
	"github.com/akta-mmi/redistribution_core/internal/app/domain/redistribution"
	"github.com/akta-mmi/redistribution_core/internal/app/metrics"
	"github.com/akta-mmi/redistribution_core/internal/app/storage"
	"github.com/akta-mmi/redistribution_core/internal/app/system"
	"github.com/akta-mmi/redistribution_core/internal/chain"
	"github.com/akta-mmi/redistribution_core/pkg/canonical"
	"github.com/akta-mmi/redistribution_core/pkg/logger"
)

var _ system.Service = (*Dispatcher)(nil)

// Config tunes the dispatcher loop.
type Config struct {
	PollInterval     time.Duration
	FulfillmentDelay time.Duration
	MaxInFlight      int
	SubmitRetries    int
	SubmitBackoff    time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.FulfillmentDelay < 0 {
		c.FulfillmentDelay = 0
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 4
	}
	if c.SubmitRetries <= 0 {
		c.SubmitRetries = 3
	}
	if c.SubmitBackoff <= 0 {
		c.SubmitBackoff = 2 * time.Second
	}
	return c
}

// Dispatcher is the lifecycle-managed command worker.
type Dispatcher struct {
	commands        storage.CommandStore
	redistributions storage.RedistributionStore
	transactions    storage.TransactionStore
	kiosks          storage.KioskStore
	adapter         chain.Adapter
	cfg             Config
	log             *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New constructs a dispatcher over the given stores and chain adapter.
func New(
	commands storage.CommandStore,
	redistributions storage.RedistributionStore,
	transactions storage.TransactionStore,
	kiosks storage.KioskStore,
	adapter chain.Adapter,
	cfg Config,
	log *logger.Logger,
) *Dispatcher {
	if log == nil {
		log = logger.NewDefault("dispatcher")
	}
	return &Dispatcher{
		commands:        commands,
		redistributions: redistributions,
		transactions:    transactions,
		kiosks:          kiosks,
		adapter:         adapter,
		cfg:             cfg.withDefaults(),
		log:             log,
	}
}

func (d *Dispatcher) Name() string { return "dispatcher" }

func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		// Resume interrupted settlements before accepting new work.
		d.resumeUnsettled(runCtx)

		ticker := time.NewTicker(d.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				d.tick(runCtx)
			}
		}
	}()

	d.log.WithField("poll_interval", d.cfg.PollInterval.String()).Info("dispatcher started")
	return nil
}

func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	cancel := d.cancel
	d.running = false
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	d.log.Info("dispatcher stopped")
	return nil
}

// tick claims pending commands oldest-first and processes the winners
// concurrently, bounded by the in-flight limit.
func (d *Dispatcher) tick(ctx context.Context) {
	pending, err := d.commands.ListPendingCommands(ctx)
	if err != nil {
		d.log.WithError(err).Warn("list pending commands failed")
		return
	}
	if len(pending) == 0 {
		return
	}

	sem := make(chan struct{}, d.cfg.MaxInFlight)
	var wg sync.WaitGroup
	for _, cmd := range pending {
		if ctx.Err() != nil {
			break
		}

		claimed, err := d.commands.ClaimCommand(ctx, cmd.ID)
		if err != nil {
			d.log.WithError(err).WithField("command_id", cmd.ID).Warn("claim failed")
			continue
		}
		if !claimed {
			// Another worker got there first.
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(cmd command.Command) {
			defer wg.Done()
			defer func() { <-sem }()
			cmd.Status = command.StatusProcessing
			d.process(ctx, cmd)
		}(cmd)
	}
	wg.Wait()
}

// resumeUnsettled picks up commands that were interrupted after submission.
// The ledger side effect already happened, so only settlement runs again.
func (d *Dispatcher) resumeUnsettled(ctx context.Context) {
	unsettled, err := d.commands.ListUnsettledCommands(ctx)
	if err != nil {
		d.log.WithError(err).Warn("list unsettled commands failed")
		return
	}
	for _, cmd := range unsettled {
		if ctx.Err() != nil {
			return
		}
		d.log.WithField("command_id", cmd.ID).Info("resuming interrupted settlement")
		d.settle(ctx, cmd)
	}
}

// process runs one claimed command to completion.
func (d *Dispatcher) process(ctx context.Context, cmd command.Command) {
	start := time.Now()
	log := d.log.WithField("command_id", cmd.ID).WithField("redistribution_id", cmd.RedistributionID)
	log.Info("processing command")

	// Signature verification gates any ledger interaction.
	if cmd.Payload.Signature != "" && cmd.Payload.PublicKey != "" {
		ok, err := d.verifySignature(cmd.Payload)
		if err != nil {
			d.fail(ctx, cmd, fmt.Sprintf("verify signature: %v", err))
			metrics.RecordCommand(command.StatusFailed, time.Since(start))
			return
		}
		if !ok {
			d.fail(ctx, cmd, "invalid signature")
			metrics.RecordCommand(command.StatusFailed, time.Since(start))
			return
		}
		log.Debug("signature verified")
	}

	// Build and submit with bounded retry. No txid has been persisted yet, so
	// retrying here is safe; once SubmitTransaction returns a txid it is not.
	submitted, err := d.submitWithRetry(ctx, cmd.Payload, log)
	if err != nil {
		if chain.IsTransient(err) {
			// Retries exhausted on a transient error.
			d.fail(ctx, cmd, fmt.Sprintf("submit: %v", err))
			metrics.RecordCommand(command.StatusFailed, time.Since(start))
		} else {
			// Permanent rejection goes to the dead letter status so operators
			// can inspect it; it is never picked up again.
			d.reject(ctx, cmd, fmt.Sprintf("submit rejected: %v", err))
			metrics.RecordCommand(command.StatusRejected, time.Since(start))
		}
		return
	}

	ref := chain.Reference(submitted.Chain, submitted.ChainID, submitted.TxID)
	log = log.WithField("txid", submitted.TxID)
	log.Info("transaction submitted")

	if _, err := d.transactions.CreateTransaction(ctx, ledgertx.Transaction{
		CommandID:        cmd.ID,
		RedistributionID: cmd.RedistributionID,
		TxID:             submitted.TxID,
		Chain:            submitted.Chain,
		ChainID:          submitted.ChainID,
		BlockchainRef:    ref,
		Status:           ledgertx.StatusPending,
	}); err != nil {
		// The submission is on the ledger but we could not record it. This is
		// the one state we cannot recover automatically; surface it loudly.
		log.WithError(err).Error("persist transaction record failed after submission")
		d.fail(ctx, cmd, fmt.Sprintf("persist transaction: %v", err))
		metrics.RecordCommand(command.StatusFailed, time.Since(start))
		return
	}

	now := time.Now().UTC()
	cmd.Status = command.StatusSubmitted
	cmd.ProcessedAt = &now
	if updated, err := d.commands.UpdateCommand(ctx, cmd); err != nil {
		log.WithError(err).Warn("mark command submitted failed")
	} else {
		cmd = updated
	}

	if r, err := d.redistributions.GetRedistribution(ctx, cmd.RedistributionID); err == nil {
		r.Status = redistribution.StatusSubmitted
		r.BlockchainRef = ref
		r.TxID = submitted.TxID
		if _, err := d.redistributions.UpdateRedistribution(ctx, r); err != nil {
			log.WithError(err).Warn("mark redistribution submitted failed")
		}
	} else {
		log.WithError(err).Warn("load redistribution after submission failed")
	}

	// Fulfillment latency stands in for the physical restock. An interrupted
	// wait leaves the command at submitted; the resume path finishes it.
	if !d.waitFulfillment(ctx) {
		log.Info("fulfillment wait interrupted; settlement deferred to restart")
		return
	}

	if d.settle(ctx, cmd) {
		metrics.RecordCommand(command.StatusCompleted, time.Since(start))
	} else {
		metrics.RecordCommand(command.StatusSettlementFailed, time.Since(start))
	}
}

func (d *Dispatcher) verifySignature(payload command.Payload) (bool, error) {
	message, err := canonical.Marshal(map[string]any{
		"from_kiosk_id": payload.FromKioskID,
		"to_kiosk_id":   payload.ToKioskID,
		"items":         payload.Items,
	})
	if err != nil {
		return false, err
	}
	signature, err := base64.StdEncoding.DecodeString(payload.Signature)
	if err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}
	publicKey, err := base64.StdEncoding.DecodeString(payload.PublicKey)
	if err != nil {
		return false, fmt.Errorf("decode public key: %w", err)
	}
	return d.adapter.VerifyOffchainSignature(message, signature, publicKey), nil
}

func (d *Dispatcher) submitWithRetry(ctx context.Context, payload command.Payload, log *logger.Logger) (chain.SubmittedTx, error) {
	var lastErr error
	backoff := d.cfg.SubmitBackoff

	for attempt := 1; attempt <= d.cfg.SubmitRetries; attempt++ {
		if attempt > 1 {
			metrics.RecordSubmitRetry()
			select {
			case <-ctx.Done():
				return chain.SubmittedTx{}, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		sub, err := d.adapter.BuildSubmission(payload)
		if err != nil {
			if !chain.IsTransient(err) {
				return chain.SubmittedTx{}, err
			}
			lastErr = err
			log.WithError(err).WithField("attempt", attempt).Warn("build submission failed, will retry")
			continue
		}

		submitted, err := d.adapter.SubmitTransaction(ctx, sub)
		if err == nil {
			return submitted, nil
		}
		if !chain.IsTransient(err) {
			return chain.SubmittedTx{}, err
		}
		lastErr = err
		log.WithError(err).WithField("attempt", attempt).Warn("submit failed, will retry")
	}
	return chain.SubmittedTx{}, lastErr
}

func (d *Dispatcher) waitFulfillment(ctx context.Context) bool {
	if d.cfg.FulfillmentDelay <= 0 {
		return true
	}
	timer := time.NewTimer(d.cfg.FulfillmentDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// settle applies inventory deltas and marks the command and redistribution
// terminal-success. It never resubmits: the txid already exists. Settlement
// failure is its own terminal condition so the submitted attestation is not
// misreported as a pipeline failure.
func (d *Dispatcher) settle(ctx context.Context, cmd command.Command) bool {
	log := d.log.WithField("command_id", cmd.ID).WithField("redistribution_id", cmd.RedistributionID)

	r, err := d.redistributions.GetRedistribution(ctx, cmd.RedistributionID)
	if err != nil {
		d.settlementFailed(ctx, cmd, fmt.Sprintf("load redistribution: %v", err))
		return false
	}

	for _, item := range r.Items {
		if err := d.kiosks.AdjustInventory(ctx, r.FromKioskID, item.SKU, -item.Quantity); err != nil {
			d.settlementFailed(ctx, cmd, fmt.Sprintf("decrement %s at %s: %v", item.SKU, r.FromKioskID, err))
			return false
		}
		if err := d.kiosks.AdjustInventory(ctx, r.ToKioskID, item.SKU, item.Quantity); err != nil {
			d.settlementFailed(ctx, cmd, fmt.Sprintf("increment %s at %s: %v", item.SKU, r.ToKioskID, err))
			return false
		}
	}

	now := time.Now().UTC()
	r.Status = redistribution.StatusFulfilled
	r.CompletedAt = &now
	if _, err := d.redistributions.UpdateRedistribution(ctx, r); err != nil {
		d.settlementFailed(ctx, cmd, fmt.Sprintf("mark fulfilled: %v", err))
		return false
	}

	cmd.Status = command.StatusCompleted
	if _, err := d.commands.UpdateCommand(ctx, cmd); err != nil {
		log.WithError(err).Warn("mark command completed failed")
	}

	log.Info("command completed")
	return true
}

// fail marks the command and its redistribution failed. Used only before the
// transaction record exists.
func (d *Dispatcher) fail(ctx context.Context, cmd command.Command, msg string) {
	d.log.WithField("command_id", cmd.ID).Warn("command failed: " + msg)

	cmd.Status = command.StatusFailed
	cmd.ErrorMessage = msg
	if _, err := d.commands.UpdateCommand(ctx, cmd); err != nil {
		d.log.WithError(err).WithField("command_id", cmd.ID).Warn("mark command failed errored")
	}
	d.failRedistribution(ctx, cmd.RedistributionID)
}

// reject is the dead letter path for permanent ledger rejections.
func (d *Dispatcher) reject(ctx context.Context, cmd command.Command, msg string) {
	d.log.WithField("command_id", cmd.ID).Warn("command rejected: " + msg)

	cmd.Status = command.StatusRejected
	cmd.ErrorMessage = msg
	if _, err := d.commands.UpdateCommand(ctx, cmd); err != nil {
		d.log.WithError(err).WithField("command_id", cmd.ID).Warn("mark command rejected errored")
	}
	d.failRedistribution(ctx, cmd.RedistributionID)
}

// settlementFailed records a command whose attestation succeeded but whose
// inventory settlement did not. The redistribution stays at submitted for
// resumable or manual resolution.
func (d *Dispatcher) settlementFailed(ctx context.Context, cmd command.Command, msg string) {
	d.log.WithField("command_id", cmd.ID).Error("settlement failed: " + msg)
	metrics.RecordSettlementFailure()

	cmd.Status = command.StatusSettlementFailed
	cmd.ErrorMessage = msg
	if _, err := d.commands.UpdateCommand(ctx, cmd); err != nil {
		d.log.WithError(err).WithField("command_id", cmd.ID).Warn("mark settlement failure errored")
	}
}

func (d *Dispatcher) failRedistribution(ctx context.Context, id string) {
	r, err := d.redistributions.GetRedistribution(ctx, id)
	if err != nil {
		d.log.WithError(err).WithField("redistribution_id", id).Warn("load redistribution for failure errored")
		return
	}
	r.Status = redistribution.StatusFailed
	if _, err := d.redistributions.UpdateRedistribution(ctx, r); err != nil {
		d.log.WithError(err).WithField("redistribution_id", id).Warn("mark redistribution failed errored")
	}
}
