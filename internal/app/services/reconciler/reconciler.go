// Package reconciler polls the ledger for pending transactions and settles
// their terminal state, and sweeps transactions that never confirmed.
package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/akta-mmi/redistribution_core/internal/app/domain/ledgertx"
	"github.com/akta-mmi/redistribution_core/internal/app/domain/redistribution"
	"github.com/akta-mmi/redistribution_core/internal/app/metrics"
	"github.com/akta-mmi/redistribution_core/internal/app/storage"
	"github.com/akta-mmi/redistribution_core/internal/app/system"
	"github.com/akta-mmi/redistribution_core/internal/chain"
	"github.com/akta-mmi/redistribution_core/pkg/logger"
)

var _ system.Service = (*Reconciler)(nil)

// Config tunes the reconciliation loop and the timeout sweep.
type Config struct {
	PollInterval    time.Duration
	TimeoutAge      time.Duration
	TimeoutSchedule string
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.TimeoutAge <= 0 {
		c.TimeoutAge = 24 * time.Hour
	}
	if c.TimeoutSchedule == "" {
		c.TimeoutSchedule = "@every 10m"
	}
	return c
}

// Reconciler is the lifecycle-managed confirmation poller.
type Reconciler struct {
	transactions    storage.TransactionStore
	redistributions storage.RedistributionStore
	adapter         chain.Adapter
	cfg             Config
	log             *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	sweeper *cron.Cron
	running bool
}

// New constructs a reconciler over the given stores and chain adapter.
func New(
	transactions storage.TransactionStore,
	redistributions storage.RedistributionStore,
	adapter chain.Adapter,
	cfg Config,
	log *logger.Logger,
) *Reconciler {
	if log == nil {
		log = logger.NewDefault("reconciler")
	}
	return &Reconciler{
		transactions:    transactions,
		redistributions: redistributions,
		adapter:         adapter,
		cfg:             cfg.withDefaults(),
		log:             log,
	}
}

func (r *Reconciler) Name() string { return "reconciler" }

func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(r.cfg.TimeoutSchedule, func() { r.SweepTimeouts(runCtx) }); err != nil {
		cancel()
		r.cancel = nil
		r.mu.Unlock()
		return err
	}
	r.sweeper = sweeper
	r.running = true
	r.mu.Unlock()

	sweeper.Start()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				r.Reconcile(runCtx)
			}
		}
	}()

	r.log.WithField("poll_interval", r.cfg.PollInterval.String()).
		WithField("timeout_schedule", r.cfg.TimeoutSchedule).
		Info("reconciler started")
	return nil
}

func (r *Reconciler) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	sweeper := r.sweeper
	r.running = false
	r.cancel = nil
	r.sweeper = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if sweeper != nil {
			<-sweeper.Stop().Done()
		}
		r.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.log.Info("reconciler stopped")
	return nil
}

// Reconcile queries the ledger for every pending transaction and applies
// terminal outcomes. Transient adapter failures and still-pending results
// leave the record untouched for the next cycle.
func (r *Reconciler) Reconcile(ctx context.Context) {
	pending, err := r.transactions.ListPendingTransactions(ctx)
	if err != nil {
		r.log.WithError(err).Warn("list pending transactions failed")
		return
	}

	for _, tx := range pending {
		if ctx.Err() != nil {
			return
		}
		r.reconcileOne(ctx, tx)
	}
}

func (r *Reconciler) reconcileOne(ctx context.Context, tx ledgertx.Transaction) {
	log := r.log.WithField("txid", tx.TxID).WithField("redistribution_id", tx.RedistributionID)

	onchain, err := r.adapter.GetTransaction(ctx, tx.TxID)
	if err != nil {
		if errors.Is(err, chain.ErrNotFound) {
			// Not indexed yet. The timeout sweep handles the case where it
			// never appears.
			log.Debug("transaction not yet on ledger")
			return
		}
		log.WithError(err).Warn("ledger query failed")
		return
	}

	switch onchain.Status {
	case chain.TxConfirmed:
		now := time.Now().UTC()
		tx.Status = ledgertx.StatusConfirmed
		tx.Block = onchain.Block
		tx.ConfirmedRound = onchain.ConfirmedRound
		tx.Fee = onchain.Fee
		tx.ConfirmedAt = &now
		if onchain.ConfirmedAt != nil {
			tx.ConfirmedAt = onchain.ConfirmedAt
		}
		if _, err := r.transactions.UpdateTransactionByTxID(ctx, tx); err != nil {
			log.WithError(err).Warn("mark transaction confirmed failed")
			return
		}
		r.updateRedistribution(ctx, tx.RedistributionID, redistribution.StatusReconciled, log)
		metrics.RecordReconciled(ledgertx.StatusConfirmed)
		log.WithField("round", tx.ConfirmedRound).Info("transaction confirmed")

	case chain.TxFailed:
		tx.Status = ledgertx.StatusFailed
		if _, err := r.transactions.UpdateTransactionByTxID(ctx, tx); err != nil {
			log.WithError(err).Warn("mark transaction failed errored")
			return
		}
		r.updateRedistribution(ctx, tx.RedistributionID, redistribution.StatusFailed, log)
		metrics.RecordReconciled(ledgertx.StatusFailed)
		log.Warn("transaction failed on ledger")

	default:
		// Still pending, check again next cycle.
	}
}

// SweepTimeouts expires pending transactions older than the configured age.
// Their redistributions move to timed_out so operators know the attestation
// was never observed on the ledger.
func (r *Reconciler) SweepTimeouts(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-r.cfg.TimeoutAge)
	stale, err := r.transactions.ListPendingTransactionsOlderThan(ctx, cutoff)
	if err != nil {
		r.log.WithError(err).Warn("list stale transactions failed")
		return
	}

	for _, tx := range stale {
		if ctx.Err() != nil {
			return
		}
		log := r.log.WithField("txid", tx.TxID).WithField("redistribution_id", tx.RedistributionID)

		tx.Status = ledgertx.StatusTimedOut
		if _, err := r.transactions.UpdateTransactionByTxID(ctx, tx); err != nil {
			log.WithError(err).Warn("mark transaction timed out failed")
			continue
		}
		r.updateRedistribution(ctx, tx.RedistributionID, redistribution.StatusTimedOut, log)
		metrics.RecordTimeout()
		log.WithField("cutoff", cutoff.Format(time.RFC3339)).Warn("transaction timed out")
	}
}

func (r *Reconciler) updateRedistribution(ctx context.Context, id, status string, log *logger.Logger) {
	red, err := r.redistributions.GetRedistribution(ctx, id)
	if err != nil {
		log.WithError(err).Warn("load redistribution for reconciliation failed")
		return
	}
	red.Status = status
	if _, err := r.redistributions.UpdateRedistribution(ctx, red); err != nil {
		log.WithError(err).Warn("update redistribution status failed")
	}
}
