package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jasona/mudforge-sub010/internal/audit"
	"github.com/jasona/mudforge-sub010/internal/connection"
	"github.com/jasona/mudforge-sub010/internal/domain/object"
	"github.com/jasona/mudforge-sub010/internal/domain/permission"
	"github.com/jasona/mudforge-sub010/internal/domain/player"
	"github.com/jasona/mudforge-sub010/internal/domain/worldsnapshot"
	"github.com/jasona/mudforge-sub010/internal/integrations"
	"github.com/jasona/mudforge-sub010/internal/persistence"
	"github.com/jasona/mudforge-sub010/internal/persistence/postgres"
	"github.com/jasona/mudforge-sub010/internal/registry"
	"github.com/jasona/mudforge-sub010/internal/sandbox"
	"github.com/jasona/mudforge-sub010/internal/scheduler"
	"github.com/jasona/mudforge-sub010/pkg/config"
	"github.com/jasona/mudforge-sub010/pkg/logger"
)

// builderConfig accumulates Option settings before New resolves them. The
// shape mirrors the teacher's internal/app/application.go builderConfig,
// narrowed to this module's five core subsystems.
type builderConfig struct {
	logger           *logger.Logger
	login            connection.LoginHandler
	commands         *connection.CommandTable
	limbo            *object.Object
	integrationHosts map[string]string
	tcpAddr          string
}

// Option configures Application construction.
type Option func(*builderConfig)

// WithLogger overrides the default stdout logger.
func WithLogger(log *logger.Logger) Option {
	return func(b *builderConfig) { b.logger = log }
}

// WithLoginHandler supplies the authenticating-state dialog. Required:
// without it New returns an error, since the driver core has no login
// content of its own (spec's Non-goals exclude mudlib content).
func WithLoginHandler(login connection.LoginHandler) Option {
	return func(b *builderConfig) { b.login = login }
}

// WithCommandTable supplies the global verb table. Optional; an empty
// table means only object-local actions resolve commands.
func WithCommandTable(commands *connection.CommandTable) Option {
	return func(b *builderConfig) { b.commands = commands }
}

// WithLimbo overrides the default limbo root object: the destination the
// destructObject efun spills a destructed container's unowned contents
// into when that container had no environment of its own. A limbo supplied
// here is used as given; New does not register it with the registry.
func WithLimbo(limbo *object.Object) Option {
	return func(b *builderConfig) { b.limbo = limbo }
}

// WithIntegrationEndpoint sets the upstream URL for a named integration
// ("ai_text", "ai_image", "chat_gateway", "search"). Without one, that
// integration remains wired but reports Available() == false — the spec's
// Non-goals exclude shipping a real backing implementation, but the efun
// category, rate limiter and cache are still live once an operator points
// it at a real endpoint.
func WithIntegrationEndpoint(name, endpoint string) Option {
	return func(b *builderConfig) {
		if b.integrationHosts == nil {
			b.integrationHosts = make(map[string]string)
		}
		b.integrationHosts[name] = endpoint
	}
}

// WithTCPTransport enables the raw-TCP transport alternative alongside the
// websocket transport, both feeding the same session pipeline (the
// connection package's shared sessionDriver) per spec section 6.1. addr is a listen address such as ":4001"; without
// this option only the websocket transport is started.
func WithTCPTransport(addr string) Option {
	return func(b *builderConfig) { b.tcpAddr = addr }
}

// Application aggregates the driver's live subsystems and manages their
// shared lifecycle. It implements Service itself so cmd/muddriver can
// Start/Stop it as a single unit, the way the teacher's cmd/appserver
// treats its httpService.
type Application struct {
	Registry     *registry.Registry
	Bridge       *sandbox.Bridge
	Scheduler    *scheduler.Scheduler
	Permissions  *permission.Store
	Connections  *connection.Manager
	Transport    *connection.Service
	TCPTransport *connection.TCPService
	Adapter      persistence.Adapter
	Audit        *audit.Log

	manager          *Manager
	log              *logger.Logger
	shutdownRequests chan string
}

// ShutdownRequests returns the channel that receives a reason string
// whenever script or admin-surface code calls the "shutdown" efun. A
// caller (typically cmd/muddriver's main loop) selects on this alongside
// OS signals and drives the same Stop sequence either way. The channel is
// buffered by one; a second request arriving before the first is drained
// is dropped rather than blocking the efun caller.
func (a *Application) ShutdownRequests() <-chan string { return a.shutdownRequests }

// schedulerHandle breaks the construction cycle between the sandbox bridge
// (which needs a sandbox.Scheduler to forward set_heartbeat/call_out efuns
// to) and the scheduler (which needs the bridge to run heartbeat/callout
// script sources). The bridge is built first against a handle with nothing
// bound yet; bind attaches the real scheduler once it exists. Both
// subsystems are constructed during New, before either is started, so the
// handle is never read before it is bound.
type schedulerHandle struct {
	target *scheduler.Scheduler
}

func (h *schedulerHandle) bind(s *scheduler.Scheduler) { h.target = s }

func (h *schedulerHandle) SetHeartbeat(path string, on bool) { h.target.SetHeartbeat(path, on) }

func (h *schedulerHandle) CallOut(target string, delay time.Duration, payload map[string]any) int64 {
	return h.target.CallOut(target, delay, payload)
}

func (h *schedulerHandle) RemoveCallOut(id int64) bool { return h.target.RemoveCallOut(id) }

// adapterService wraps a persistence.Adapter as a Service so its
// Initialize/Shutdown calls participate in the same ordered lifecycle as
// the scheduler and transport.
type adapterService struct {
	adapter persistence.Adapter
}

func (a adapterService) Name() string                   { return "persistence" }
func (a adapterService) Start(ctx context.Context) error { return a.adapter.Initialize(ctx) }
func (a adapterService) Stop(ctx context.Context) error  { return a.adapter.Shutdown(ctx) }

// New builds an Application from cfg. It constructs every subsystem but
// does not start any of them; call Start to bring the process up.
func New(cfg *config.Config, opts ...Option) (*Application, error) {
	b := &builderConfig{
		commands: connection.NewCommandTable(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.login == nil {
		return nil, errors.New("app: WithLoginHandler is required")
	}
	if b.logger == nil {
		b.logger = logger.NewDefault("muddriver")
	}
	log := b.logger

	adapter, err := newAdapter(cfg.Persistence)
	if err != nil {
		return nil, fmt.Errorf("app: persistence driver: %w", err)
	}

	perms := permission.NewStore()
	reg := registry.New()

	limbo := b.limbo
	if limbo == nil {
		limbo = object.New("/limbo", object.KindBlueprint)
		if err := reg.Register(limbo); err != nil {
			return nil, fmt.Errorf("app: register limbo: %w", err)
		}
	}

	onDisconnect := func(p *object.Object, reason string) {
		if p == nil {
			return
		}
		rec := saveRecordFor(p)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := adapter.SavePlayer(ctx, rec); err != nil {
			log.WithError(err).WithField("player", rec.Name).Warn("app: save player on disconnect failed")
		}
	}
	conns := connection.NewManager(onDisconnect, log)

	integrationSet := buildIntegrations(cfg, b.integrationHosts)

	var auditSink audit.Sink
	if cfg.Admin.AuditLogPath != "" {
		fileSink, err := audit.NewFileSink(cfg.Admin.AuditLogPath)
		if err != nil {
			return nil, fmt.Errorf("app: open admin audit log: %w", err)
		}
		auditSink = fileSink
	}
	auditLog := audit.New(cfg.Admin.AuditRingSize, auditSink, func(err error) {
		log.WithError(err).Warn("app: audit sink write failed")
	})

	shutdownRequests := make(chan string, 1)
	onShutdown := func(reason string) {
		select {
		case shutdownRequests <- reason:
		default:
		}
	}

	schedHandle := &schedulerHandle{}
	bridge := sandbox.New(sandbox.Options{
		PoolSize:     cfg.Sandbox.PoolSize,
		MemoryMiB:    cfg.Sandbox.MemoryMiB,
		Timeout:      time.Duration(cfg.Sandbox.TimeoutMs) * time.Millisecond,
		Registry:     reg,
		Scheduler:    schedHandle,
		Persistence:  adapter,
		Sender:       conns,
		Permissions:  perms,
		Integrations: integrationSet,
		Limbo:        limbo,
		Logger:       log,
		OnShutdown:   onShutdown,
		Audit:        auditLog,
	})

	sched := scheduler.New(scheduler.Options{
		HeartbeatInterval: time.Duration(cfg.Scheduler.HeartbeatIntervalMs) * time.Millisecond,
		AutoSaveInterval:  time.Duration(cfg.Scheduler.AutoSaveIntervalMs) * time.Millisecond,
		Registry:          reg,
		Bridge:            bridge,
		AutoSaveHook:      autoSaveHook(reg, conns, perms, adapter, log),
		Logger:            log,
		ResetCron:         cfg.Scheduler.ResetCron,
	})
	schedHandle.bind(sched)

	dispatcher := connection.NewDispatcher(reg, bridge, perms, b.commands, log)

	transport := connection.NewService(connection.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Manager:      conns,
		Dispatcher:   dispatcher,
		Login:        b.login,
		OutboundSize: 64,
		Logger:       log,
		AdminTokens:  cfg.Admin.TokenList(),
		Audit:        auditLog,
	})

	// Registration order determines both Start order (forward) and Stop
	// order (reverse): persistence and the transports must be listening
	// before the scheduler starts ticking, and on the way down the
	// scheduler must stop first, then the transports (marking
	// connections closing), then persistence last so autosave/shutdown
	// writes still have a live adapter to flush to. See spec section 10's
	// graceful-shutdown sequencing.
	manager := NewManager()
	if err := manager.Register(adapterService{adapter: adapter}); err != nil {
		return nil, err
	}
	if err := manager.Register(transport); err != nil {
		return nil, err
	}

	var tcpTransport *connection.TCPService
	if b.tcpAddr != "" {
		tcpTransport = connection.NewTCPService(connection.TCPOptions{
			Addr:         b.tcpAddr,
			Manager:      conns,
			Dispatcher:   dispatcher,
			Login:        b.login,
			OutboundSize: 64,
			Logger:       log,
		})
		if err := manager.Register(tcpTransport); err != nil {
			return nil, err
		}
	}

	if err := manager.Register(sched); err != nil {
		return nil, err
	}

	return &Application{
		Registry:         reg,
		Bridge:           bridge,
		Scheduler:        sched,
		Permissions:      perms,
		Connections:      conns,
		Transport:        transport,
		TCPTransport:     tcpTransport,
		Adapter:          adapter,
		Audit:            auditLog,
		manager:          manager,
		log:              log,
		shutdownRequests: shutdownRequests,
	}, nil
}

// Name identifies the Application in a surrounding lifecycle manager, e.g.
// cmd/muddriver treating it the way the teacher's cmd/appserver treats its
// single httpService.
func (a *Application) Name() string { return "application" }

// Start brings up persistence, then the connection transport(s), then the
// scheduler, loading the saved permission table along the way. Any failure
// rolls back whatever already started.
func (a *Application) Start(ctx context.Context) error {
	if err := a.manager.Start(ctx); err != nil {
		return err
	}
	if table, err := a.Adapter.LoadPermissions(ctx); err != nil {
		a.log.WithError(err).Warn("app: load saved permission table failed")
	} else if table != nil {
		a.Permissions.Replace(table)
	}
	return nil
}

// Stop shuts down the scheduler first, then the transports (marking
// connections closing), then persistence last, regardless of whether Start
// fully succeeded.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

func newAdapter(cfg config.PersistenceConfig) (persistence.Adapter, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "file":
		return persistence.NewLocalFile(cfg.DataPath), nil
	case "memory":
		return persistence.NewMemory(), nil
	case "postgres":
		return postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown persistence driver %q", cfg.Driver)
	}
}

func buildIntegrations(cfg *config.Config, hosts map[string]string) map[string]sandbox.Integration {
	set := make(map[string]sandbox.Integration)

	add := func(name string, ic config.IntegrationConfig, ctor func(integrations.Config) *integrations.HTTPIntegration) {
		if !ic.Enabled {
			return
		}
		set[name] = ctor(integrations.Config{
			Endpoint: hosts[name],
			APIKey:   ic.APIKey,
			RateLimit: integrations.RateLimitConfig{
				RequestsPerMinute: float64(ic.RateLimitPerMin),
			},
			CacheSize: ic.CacheSize,
		})
	}

	add("ai_text", cfg.Integrations.AIText, integrations.NewAIText)
	add("ai_image", cfg.Integrations.AIImage, integrations.NewAIImage)
	add("chat_gateway", cfg.Integrations.Chat, integrations.NewChatGateway)
	add("search", cfg.Integrations.Search, integrations.NewSearch)

	return set
}

// autoSaveHook persists the world's marked-persistent objects, every
// currently connected player, and the permission table, on the scheduler's
// own autosave timer (spec section 4.3's "periodic world save" callout).
func autoSaveHook(reg *registry.Registry, conns *connection.Manager, perms *permission.Store, adapter persistence.Adapter, log *logger.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		var errs []error

		snap := worldsnapshot.Snapshot{Version: 1, Timestamp: time.Now()}
		for _, obj := range reg.AllObjects() {
			persistent, _ := obj.Property("persistent")
			if v, ok := persistent.(bool); !ok || !v {
				continue
			}
			snap.Objects = append(snap.Objects, worldsnapshot.ObjectRecord{
				Path:          obj.Path(),
				BlueprintPath: blueprintPathOf(obj.Path()),
				Properties:    obj.Properties(),
			})
		}
		if err := adapter.SaveWorldState(ctx, snap); err != nil {
			errs = append(errs, err)
		}

		for _, p := range conns.OnlinePlayers() {
			if err := adapter.SavePlayer(ctx, saveRecordFor(p)); err != nil {
				errs = append(errs, err)
			}
		}

		if err := adapter.SavePermissions(ctx, perms.Snapshot()); err != nil {
			errs = append(errs, err)
		}

		if len(errs) > 0 {
			log.WithField("count", len(errs)).Warn("app: autosave completed with errors")
			return errors.Join(errs...)
		}
		return nil
	}
}

// saveRecordFor builds the persisted record for a live player object: its
// name (falling back to its path if no "name" property is set), current
// location, originating blueprint, and property bag.
func saveRecordFor(p *object.Object) player.SaveRecord {
	name, _ := p.Property("name")
	nameStr, ok := name.(string)
	if !ok || nameStr == "" {
		nameStr = p.Path()
	}

	location := ""
	if env := p.Environment(); env != nil {
		location = env.Path()
	}

	return player.SaveRecord{
		Name:          nameStr,
		LocationPath:  location,
		BlueprintPath: blueprintPathOf(p.Path()),
		Properties:    p.Properties(),
		SavedAt:       time.Now(),
	}
}

// blueprintPathOf strips a clone's "#<n>" suffix, per
// registry.Registry.CloneOf's "<blueprint>#<n>" convention. A blueprint's
// own path is already in that form and is returned unchanged.
func blueprintPathOf(path string) string {
	if i := strings.LastIndex(path, "#"); i >= 0 {
		return path[:i]
	}
	return path
}
