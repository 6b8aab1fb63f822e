// Package bootstrap wires Coral's five subsystems — Event Bus, Registry,
// Permission System, Plugin Manager, and the Adapter/Driver pipeline — into
// one running process. It is the only package that imports both
// internal/adapter and internal/driver, joining them through a small
// adapterLookup shim so those two packages themselves stay decoupled (see
// internal/driver's package comment). Grounded on the teacher's
// cmd/gateway.go runGateway: config load, component construction in
// dependency order, then driver start and signal-driven graceful shutdown.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/ProjectCoral/Coral/internal/adapter"
	"github.com/ProjectCoral/Coral/internal/adapters/genericjson"
	"github.com/ProjectCoral/Coral/internal/adapters/onebot"
	"github.com/ProjectCoral/Coral/internal/builtins"
	"github.com/ProjectCoral/Coral/internal/bus"
	"github.com/ProjectCoral/Coral/internal/config"
	"github.com/ProjectCoral/Coral/internal/driver"
	"github.com/ProjectCoral/Coral/internal/drivers/console"
	"github.com/ProjectCoral/Coral/internal/drivers/genericws"
	"github.com/ProjectCoral/Coral/internal/drivers/ws"
	"github.com/ProjectCoral/Coral/internal/permission"
	"github.com/ProjectCoral/Coral/internal/pluginmanager"
	"github.com/ProjectCoral/Coral/internal/registry"
	"github.com/ProjectCoral/Coral/pkg/protocol"
)

// App holds every wired subsystem for the lifetime of one running process.
type App struct {
	Config     *config.Config
	Bus        *bus.EventBus
	Permission *permission.System
	Registry   *registry.Registry
	Plugins    *pluginmanager.Manager
	Adapters   *adapter.Manager
	Drivers    *driver.Manager
	CrashLog   *pluginmanager.CrashLog

	log *slog.Logger
}

// adapterLookup adapts *adapter.Manager.Get to driver.AdapterLookup without
// either internal/adapter or internal/driver importing the other.
type adapterLookup struct{ mgr *adapter.Manager }

func (l adapterLookup) Lookup(proto string) (driver.AdapterBinding, bool) {
	a, ok := l.mgr.Get(proto)
	if !ok {
		return nil, false
	}
	return a, true
}

// New constructs every subsystem and wires them together, per spec.md §1's
// five-subsystem architecture. It does not start the Plugin Manager's
// LoadAll or the Driver Manager's StartAll — call Start for that.
func New(cfgPath string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	eventBus := bus.New(logger)

	permSys, err := permission.New(cfg.PermFile, logger)
	if err != nil {
		return nil, fmt.Errorf("open permission store: %w", err)
	}

	reg := registry.New(eventBus, permSys, logger)

	crashLog, err := pluginmanager.OpenCrashLog(filepath.Join(cfg.PluginDir, "crashes.sqlite"))
	if err != nil {
		logger.Warn("plugin crash ledger unavailable, continuing with in-memory metrics only", "err", err)
		crashLog = nil
	}

	rt := &pluginmanager.Runtime{Bus: eventBus, Registry: reg, Permission: permSys}
	plugins := pluginmanager.New(rt, eventBus, logger)
	if crashLog != nil {
		plugins.SetCrashLog(crashLog)
	}

	adapters := adapter.NewManager(logger)
	adapters.Register(onebot.New(eventBus, logger))
	adapters.Register(genericjson.New(console.Protocol, eventBus, logger))
	adapters.Register(genericjson.New(genericws.Protocol, eventBus, logger))
	adapters.Bind(eventBus)

	drivers := driver.NewManager(adapterLookup{mgr: adapters}, logger)

	builtins.RegisterChatCommandBridge(eventBus, reg, permSys, logger)
	builtins.RegisterPermsCommand(reg, permSys)
	builtins.RegisterPluginCommands(reg, plugins, permSys)

	return &App{
		Config:     cfg,
		Bus:        eventBus,
		Permission: permSys,
		Registry:   reg,
		Plugins:    plugins,
		Adapters:   adapters,
		Drivers:    drivers,
		CrashLog:   crashLog,
		log:        logger,
	}, nil
}

// RegisterDrivers constructs and registers the drivers implied by cfg:
// the reverse-WebSocket OneBot driver always (on cfg.WebsocketPort), the
// console driver unless its `console_driver` section sets enable to false
// (a missing section counts as enabled), and the generic-WS driver only
// when its `generic_ws_driver` section names a `listen` address.
func (a *App) RegisterDrivers() {
	if onebotAdapter, ok := a.Adapters.Get(onebot.Protocol); ok {
		wsDriver := ws.New(fmt.Sprintf(":%d", a.Config.WebsocketPort), a.Config.SelfID, onebotAdapter, a.log)
		a.Drivers.Register(wsDriver)
	}

	consoleCfg := a.Config.DriverConfigFor("console")
	if enabled, ok := consoleCfg["enable"].(bool); ok == false || enabled {
		if consoleAdapter, ok := a.Adapters.Get(console.Protocol); ok {
			a.Drivers.Register(console.New(consoleAdapter, a.Bus, a.log))
		}
	}

	if genericWSCfg := a.Config.DriverConfigFor("generic_ws"); len(genericWSCfg) > 0 {
		if addr, ok := genericWSCfg["listen"].(string); ok {
			if genericAdapter, ok := a.Adapters.Get(genericws.Protocol); ok {
				a.Drivers.Register(genericws.New(addr, genericAdapter, a.log))
			}
		}
	}
}

// Start brings the whole process up: the Event Bus result-queue worker,
// discovered plugins loaded in dependency order, and every registered
// driver started concurrently. It publishes a "coral_initialized"
// GenericEvent once every step has run.
func (a *App) Start(ctx context.Context) error {
	a.Bus.Initialize(ctx)

	a.Plugins.Discover()
	if err := a.Plugins.LoadAll(ctx); err != nil {
		return fmt.Errorf("load plugins: %w", err)
	}

	a.RegisterDrivers()
	if errs := a.Drivers.StartAll(ctx); len(errs) > 0 {
		for _, err := range errs {
			a.log.Error("driver failed to start", "err", err)
		}
	}

	a.Bus.Publish(ctx, protocol.NewGenericEvent("coral", "coral_initialized", map[string]any{
		"self_id": a.Config.SelfID,
	}))
	return nil
}

// Shutdown publishes a "coral_shutdown" GenericEvent, then stops every
// driver, cleans up the adapters, unloads every plugin, stops the Event
// Bus's result-queue worker (results still queued are not re-published),
// and closes the crash ledger.
func (a *App) Shutdown(ctx context.Context) {
	a.Bus.Publish(ctx, protocol.NewGenericEvent("coral", "coral_shutdown", nil))

	if errs := a.Drivers.StopAll(ctx); len(errs) > 0 {
		for _, err := range errs {
			a.log.Error("driver failed to stop", "err", err)
		}
	}
	a.Adapters.Cleanup()

	if errs := a.Plugins.UnloadAll(ctx); len(errs) > 0 {
		for _, err := range errs {
			a.log.Error("plugin failed to unload", "err", err)
		}
	}

	a.Bus.Shutdown()

	if a.CrashLog != nil {
		if err := a.CrashLog.Close(); err != nil {
			a.log.Warn("failed to close plugin crash ledger", "err", err)
		}
	}
}
