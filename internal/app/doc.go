// Package app composes the redistribution service from its parts and owns
// the application lifecycle. It is a wiring layer, not a business logic
// layer. Business rules live in the service packages underneath it.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, store defaults, wiring
//	├── domain/             # Domain models (pure data structures)
//	│   ├── command/        # Dispatch commands and their lifecycle statuses
//	│   ├── kiosk/          # Kiosks, inventory, products
//	│   ├── ledgertx/       # On-chain transaction records
//	│   └── redistribution/ # Redistribution requests and pricing
//	├── storage/            # Store interfaces plus memory and postgres impls
//	├── services/           # Business logic
//	│   ├── redistributions/ # Request, approve, query
//	│   ├── dispatcher/      # Command queue worker
//	│   ├── reconciler/      # Ledger reconciliation and timeout sweeps
//	│   └── pricing/         # Transfer pricing calculator
//	├── httpapi/            # HTTP handlers and routing
//	├── system/             # Service lifecycle management
//	└── metrics/            # Prometheus collectors
//
// # Responsibilities
//
// The app package composes services with their stores and the chain
// adapter, defaults any store left nil to the shared in-memory
// implementation, and starts and stops background services through
// system.Manager. Which background services run is controlled by Options
// so the API server, the dispatch worker, and the reconciler can each run
// as a separate process against the same database.
//
// # Adding a New Domain
//
// When adding a new domain:
//
//  1. Create the models in internal/app/domain/<name>/
//  2. Add a store interface to internal/app/storage/interfaces.go
//  3. Implement it in storage/postgres/ and storage/memory/
//  4. Create the service in internal/app/services/<name>/
//  5. Wire it in application.go
//  6. Add handlers in internal/app/httpapi/
package app
