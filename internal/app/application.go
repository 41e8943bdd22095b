package app

import (
	"context"
	"fmt"

	"github.com/akta-mmi/redistribution_core/internal/app/services/dispatcher"
	"github.com/akta-mmi/redistribution_core/internal/app/services/pricing"
	reconcilersvc "github.com/akta-mmi/redistribution_core/internal/app/services/reconciler"
	"github.com/akta-mmi/redistribution_core/internal/app/services/redistributions"
	"github.com/akta-mmi/redistribution_core/internal/app/storage"
	"github.com/akta-mmi/redistribution_core/internal/app/storage/memory"
	"github.com/akta-mmi/redistribution_core/internal/app/system"
	"github.com/akta-mmi/redistribution_core/internal/chain"
	"github.com/akta-mmi/redistribution_core/internal/config"
	"github.com/akta-mmi/redistribution_core/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Redistributions storage.RedistributionStore
	Commands        storage.CommandStore
	Transactions    storage.TransactionStore
	Kiosks          storage.KioskStore
	Products        storage.ProductStore
	Admins          storage.AdminStore
	Roles           storage.RoleStore
}

func (s *Stores) fillDefaults() {
	mem := memory.New()
	if s.Redistributions == nil {
		s.Redistributions = mem
	}
	if s.Commands == nil {
		s.Commands = mem
	}
	if s.Transactions == nil {
		s.Transactions = mem
	}
	if s.Kiosks == nil {
		s.Kiosks = mem
	}
	if s.Products == nil {
		s.Products = mem
	}
	if s.Admins == nil {
		s.Admins = mem
	}
	if s.Roles == nil {
		s.Roles = mem
	}
}

// Options selects which background services the process runs. The API server
// runs none; the worker runs the dispatcher; the reconciler process runs the
// confirmation poller and timeout sweep.
type Options struct {
	RunDispatcher bool
	RunReconciler bool
}

// Application ties the redistribution services together and manages their
// lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger
	adapter chain.Adapter

	Redistributions *redistributions.Service
}

// New builds a fully initialised application with the provided stores and
// chain adapter.
func New(cfg *config.Config, stores Stores, adapter chain.Adapter, log *logger.Logger, opts Options) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if log == nil {
		log = logger.NewDefault("app")
	}
	stores.fillDefaults()

	if adapter == nil {
		var err error
		adapter, err = chain.New(chain.Config{
			Name:       cfg.Chain.Name,
			ChainID:    cfg.Chain.ChainID,
			AlgodURL:   cfg.Chain.RPCURL,
			Token:      cfg.Chain.Token,
			IndexerURL: cfg.Chain.IndexerURL,
			SignerKey:  cfg.Chain.SignerKey,
			Timeout:    cfg.Chain.Timeout,
			DemoMode:   cfg.Chain.DemoMode,
		})
		if err != nil {
			return nil, fmt.Errorf("build chain adapter: %w", err)
		}
	}

	ratios := pricing.Ratios{
		Oversupply:  cfg.Pricing.OversupplyRatio,
		Undersupply: cfg.Pricing.UndersupplyRatio,
	}
	redistService := redistributions.New(
		stores.Redistributions,
		stores.Commands,
		stores.Transactions,
		stores.Kiosks,
		stores.Products,
		stores.Admins,
		stores.Roles,
		ratios,
		log,
	)

	manager := system.NewManager()

	if opts.RunDispatcher {
		worker := dispatcher.New(
			stores.Commands,
			stores.Redistributions,
			stores.Transactions,
			stores.Kiosks,
			adapter,
			dispatcher.Config{
				PollInterval:     cfg.Worker.PollInterval,
				FulfillmentDelay: cfg.Worker.FulfillmentDelay,
				MaxInFlight:      cfg.Worker.MaxInFlight,
				SubmitRetries:    cfg.Worker.SubmitRetries,
				SubmitBackoff:    cfg.Worker.SubmitBackoff,
			},
			log,
		)
		if err := manager.Register(worker); err != nil {
			return nil, fmt.Errorf("register dispatcher: %w", err)
		}
	}

	if opts.RunReconciler {
		rec := reconcilersvc.New(
			stores.Transactions,
			stores.Redistributions,
			adapter,
			reconcilersvc.Config{
				PollInterval:    cfg.Reconciler.PollInterval,
				TimeoutAge:      cfg.Reconciler.TimeoutAge,
				TimeoutSchedule: cfg.Reconciler.TimeoutSchedule,
			},
			log,
		)
		if err := manager.Register(rec); err != nil {
			return nil, fmt.Errorf("register reconciler: %w", err)
		}
	}

	return &Application{
		manager:         manager,
		log:             log,
		adapter:         adapter,
		Redistributions: redistService,
	}, nil
}

// Adapter exposes the configured chain adapter, for health checks and
// explorer link construction.
func (a *Application) Adapter() chain.Adapter {
	return a.adapter
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
