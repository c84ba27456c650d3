package stackforge

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/heroiclabs/nakama-common/runtime"
)

// Stackforge is the entry point to the inventory stack systems registered with the server.
type Stackforge interface {
	// AddPublisher registers a publisher that receives events from every stack mutation.
	AddPublisher(publisher Publisher)

	GetStacksSystem() StacksSystem

	// GetReconciler returns the reconciler, or nil when the journal is disabled.
	GetReconciler() *Reconciler

	// Close stops background work and releases connections opened by Init.
	Close()
}

type stackforgeImpl struct {
	config     *StacksConfig
	system     *NakamaStacksSystem
	reconciler *Reconciler

	closers []func() error
}

// Init builds the stacks system from the configuration file and registers its RPCs.
// An empty configFile uses the defaults.
func Init(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, initializer runtime.Initializer, configFile string) (Stackforge, error) {
	config := DefaultStacksConfig()
	if configFile != "" {
		logger.Info("Initializing stacks system, config file: %s", configFile)
		loaded, err := LoadConfig(nk, configFile)
		if err != nil {
			logger.Error("Failed to load config file %s: %v", configFile, err)
			return nil, err
		}
		config = loaded
	}

	sf := &stackforgeImpl{config: config}

	gateway, err := sf.newGateway(ctx, db, nk)
	if err != nil {
		logger.Error("Failed to create inventory gateway: %v", err)
		sf.Close()
		return nil, err
	}

	var journal OperationJournal
	if config.journalEnabled() {
		journal = NewNakamaOperationJournal(nk, config.Journal.Collection)
	}
	sf.system = NewNakamaStacksSystem(config, gateway, journal)

	if config.Publisher.NatsURL != "" {
		publisher, err := NewNatsPublisher(config.Publisher.NatsURL, config.Publisher.SubjectPrefix)
		if err != nil {
			logger.Error("Failed to connect event publisher to %s: %v", config.Publisher.NatsURL, err)
			sf.Close()
			return nil, err
		}
		sf.closers = append(sf.closers, publisher.Close)
		sf.system.AddPublisher(publisher)
	}

	if err := sf.registerRpcs(initializer); err != nil {
		logger.Error("Failed to register stacks RPCs: %v", err)
		sf.Close()
		return nil, err
	}

	if config.journalEnabled() {
		sf.reconciler = NewReconciler(sf.system, logger, &config.Reconcile)
		if err := sf.reconciler.Start(); err != nil {
			logger.Error("Failed to schedule reconciler: %v", err)
			sf.Close()
			return nil, err
		}
	}

	logger.Info("Stacks system initialized with %s gateway", config.Gateway.Backend)
	return sf, nil
}

func (sf *stackforgeImpl) newGateway(ctx context.Context, db *sql.DB, nk runtime.NakamaModule) (InventoryGateway, error) {
	gatewayConfig := &sf.config.Gateway
	switch gatewayConfig.Backend {
	case GatewayBackendStorage:
		return NewNakamaStorageGateway(nk, gatewayConfig), nil
	case GatewayBackendSQL:
		if gatewayConfig.SQL.DSN != "" {
			gateway, err := OpenSQLiteGateway(ctx, gatewayConfig.SQL.DSN, gatewayConfig.SQL.Table)
			if err != nil {
				return nil, err
			}
			sf.closers = append(sf.closers, gateway.Close)
			return gateway, nil
		}
		return NewSQLInventoryGateway(ctx, db, SQLDialect(gatewayConfig.SQL.Dialect), gatewayConfig.SQL.Table)
	}
	return nil, fmt.Errorf("unknown gateway backend %q", gatewayConfig.Backend)
}

func (sf *stackforgeImpl) registerRpcs(initializer runtime.Initializer) error {
	rpcs := []struct {
		id string
		fn rpcFn
	}{
		{RpcIdSplitStack, rpcSplitStack(sf)},
		{RpcIdTransferStack, rpcTransferStack(sf)},
		{RpcIdSwapItems, rpcSwapItems(sf)},
		{RpcIdUpdateItemSlot, rpcUpdateItemSlot(sf)},
		{RpcIdListStacks, rpcListStacks(sf)},
	}
	for _, rpc := range rpcs {
		if err := initializer.RegisterRpc(rpc.id, rpc.fn); err != nil {
			return fmt.Errorf("registering %s: %w", rpc.id, err)
		}
	}
	return nil
}

func (sf *stackforgeImpl) AddPublisher(publisher Publisher) {
	sf.system.AddPublisher(publisher)
}

func (sf *stackforgeImpl) GetStacksSystem() StacksSystem {
	if sf.system == nil {
		return nil
	}
	return sf.system
}

func (sf *stackforgeImpl) GetReconciler() *Reconciler {
	return sf.reconciler
}

func (sf *stackforgeImpl) Close() {
	if sf.reconciler != nil {
		sf.reconciler.Stop()
	}
	for i := len(sf.closers) - 1; i >= 0; i-- {
		_ = sf.closers[i]()
	}
	sf.closers = nil
}
