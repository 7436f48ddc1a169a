// Package runtime is the composition root: it owns the namespace, the
// observer table, the codec registry, the cycle collector and the virtual
// store dispatcher, wires them together at Start, and tears them down at
// Stop. Global mutable state lives here and nowhere else.
package runtime

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/arborstore/arbor/pkg/codec"
	"github.com/arborstore/arbor/pkg/config"
	"github.com/arborstore/arbor/pkg/domain"
	"github.com/arborstore/arbor/pkg/errors"
	"github.com/arborstore/arbor/pkg/logger"
	"github.com/arborstore/arbor/pkg/metamodel"
	"github.com/arborstore/arbor/pkg/namespace"
	"github.com/arborstore/arbor/pkg/object"
	"github.com/arborstore/arbor/pkg/observer"
	"github.com/arborstore/arbor/pkg/vstore"
)

const component = "runtime"

// build is the version string GetBuild reports when the environment doesn't
// override it.
const build = "arbor-0.1.0"

// MountFactory builds a concrete mount from its config definition. The
// runtime resolves mount kinds against the factory table it was given, so
// it stays decoupled from the concrete mount packages.
type MountFactory func(def config.MountDef) (vstore.Mount, error)

// Runtime owns every store-wide singleton.
type Runtime struct {
	mu      sync.Mutex
	started bool
	appName string

	env *config.EnvConfig
	cfg *config.Config

	ns        *namespace.Namespace
	table     *observer.Table
	codecs    *codec.Registry
	collector *object.Collector
	store     *vstore.Dispatcher

	security bool
	load     bool
	autoload bool

	// Factories maps mount kinds from the config file to constructors.
	// Populated by the caller before LoadConfig.
	Factories map[string]MountFactory

	// declared tracks, per owner, objects declared but not yet defined, so
	// an owner that goes away can have its half-born objects dropped.
	declMu   sync.Mutex
	declared map[domain.EntityID]map[*object.Object]struct{}

	exitMu       sync.Mutex
	exitHandlers []func()
}

// New creates an unstarted Runtime.
func New() *Runtime {
	return &Runtime{
		declared: make(map[domain.EntityID]map[*object.Object]struct{}),
		autoload: true,
	}
}

// Start brings the store up: environment, logging, metamodel bootstrap,
// namespace, observer table, codecs, collector and dispatcher. Returns an
// error (and leaves the Runtime unstarted) on any bootstrap failure.
func (r *Runtime) Start(appName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	env, err := config.LoadEnv()
	if err != nil {
		return errors.Wrap(errors.Internal, "runtime.go", 0, err, "environment parse failed")
	}
	r.env = env
	logger.Configure(env.LogFormat, "info")

	if _, err := metamodel.Bootstrap(); err != nil {
		// Descriptors that disagree with the host layout poison everything
		// above them; refuse to start.
		return errors.Wrap(errors.Internal, "runtime.go", 0, err, "metamodel bootstrap failed")
	}

	rootType := metamodel.NewComposite("root", nil, metamodel.Delegates{})
	if err := rootType.Finalize(); err != nil {
		return errors.Wrap(errors.Internal, "runtime.go", 0, err, "root type finalize failed")
	}

	r.ns = namespace.New(rootType)
	r.table = observer.NewTable()
	r.codecs = codec.NewRegistry()
	r.collector = object.NewCollector()
	r.store = vstore.New(r.ns, r.table, r.codecs)
	r.ns.Notify = r.handleEvent

	r.appName = appName
	r.started = true
	logger.InfoCF(component, "store started", map[string]interface{}{"app": appName, "build": r.buildString()})
	return nil
}

// handleEvent feeds lifecycle transitions into the dispatcher and keeps the
// collector's candidate set current.
func (r *Runtime) handleEvent(obj *object.Object, evType domain.EventType, originator domain.EntityID) {
	switch evType {
	case domain.EventDeclare:
		if t := obj.Type(); t != nil && t.Flags.Has(metamodel.HasReferences) {
			r.collector.Track(obj)
		}
	case domain.EventDelete:
		r.collector.Untrack(obj)
	}
	r.store.HandleObjectEvent(obj, evType, originator)
}

// Stop tears the store down: detaches every mount, drops every owner's
// undefined objects, runs the cycle collector over the remaining tree, runs
// exit handlers and flushes logging. Safe to call on a stopped Runtime.
func (r *Runtime) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return nil
	}

	for _, m := range r.store.Mounts() {
		_ = r.store.Unmount(m.ID())
	}

	r.declMu.Lock()
	owners := make([]domain.EntityID, 0, len(r.declared))
	for owner := range r.declared {
		owners = append(owners, owner)
	}
	r.declMu.Unlock()
	for _, owner := range owners {
		r.dropDeclared(owner)
	}

	collected := r.collector.Collect(r.ns.Root)
	if collected > 0 {
		logger.InfoCF(component, "cycle collector reclaimed objects", map[string]interface{}{"count": collected})
	}

	r.exitMu.Lock()
	handlers := r.exitHandlers
	r.exitHandlers = nil
	r.exitMu.Unlock()
	for i := len(handlers) - 1; i >= 0; i-- {
		handlers[i]()
	}

	r.started = false
	logger.InfoC(component, "store stopped")
	_ = logger.Sync()
	return nil
}

// LoadConfig reads the file configuration named by the environment and
// attaches any mounts it defines using the registered factories. A missing
// config path is a successful no-op.
func (r *Runtime) LoadConfig() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return errors.New(errors.InvalidState, "runtime.go", 0, "load config before start")
	}

	path := ""
	if r.env != nil {
		path = r.env.ConfigPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return errors.Wrap(errors.BackendError, "runtime.go", 0, err, "config load failed")
	}
	r.cfg = cfg
	r.security = cfg.Security
	r.autoload = cfg.Autoload
	logger.Configure(cfg.LogFormat, cfg.LogLevel)

	if !r.autoload {
		return nil
	}
	for _, def := range cfg.Mounts {
		factory, ok := r.Factories[def.Kind]
		if !ok {
			logger.WarnCF(component, "no factory for mount kind", map[string]interface{}{"kind": def.Kind, "name": def.Name})
			continue
		}
		m, err := factory(def)
		if err != nil {
			logger.ErrorCF(component, "mount construction failed", map[string]interface{}{"name": def.Name, "error": err.Error()})
			continue
		}
		if err := r.store.Mount(m); err != nil {
			logger.ErrorCF(component, "mount attach failed", map[string]interface{}{"name": def.Name, "error": err.Error()})
		}
	}
	return nil
}

func (r *Runtime) buildString() string {
	if r.env != nil && r.env.BuildVersion != "" {
		return r.env.BuildVersion
	}
	return build
}

// GetBuild returns the build identification string.
func (r *Runtime) GetBuild() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buildString()
}

// EnableSecurity toggles the security subsystem hook.
func (r *Runtime) EnableSecurity(on bool) { r.mu.Lock(); r.security = on; r.mu.Unlock() }

// EnableLoad toggles package loading.
func (r *Runtime) EnableLoad(on bool) { r.mu.Lock(); r.load = on; r.mu.Unlock() }

// Autoload toggles automatic mount attachment from config.
func (r *Runtime) Autoload(on bool) { r.mu.Lock(); r.autoload = on; r.mu.Unlock() }

// RandomID returns n random hex characters, usable as an identifier.
func (r *Runtime) RandomID(n int) string {
	if n <= 0 {
		return ""
	}
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)[:n]
}

// Store returns the virtual store dispatcher carrying the fluent
// Select/Subscribe/Publish surface.
func (r *Runtime) Store() *vstore.Dispatcher { return r.store }

// Namespace returns the object tree resolver.
func (r *Runtime) Namespace() *namespace.Namespace { return r.ns }

// Observers returns the store-wide observer table.
func (r *Runtime) Observers() *observer.Table { return r.table }

// Codecs returns the content-type codec registry.
func (r *Runtime) Codecs() *codec.Registry { return r.codecs }

// Collector returns the cycle collector, for on-demand collection.
func (r *Runtime) Collector() *object.Collector { return r.collector }

// AtExit registers fn to run during Stop, last registered first.
func (r *Runtime) AtExit(fn func()) {
	r.exitMu.Lock()
	defer r.exitMu.Unlock()
	r.exitHandlers = append(r.exitHandlers, fn)
}

// ---------------------------------------------------------------------------
// Context-aware store operations
// ---------------------------------------------------------------------------

// Declare creates (or idempotently fetches) a named child at parentPath,
// attributed to ctx's owner and tracked as declared-but-undefined until
// Define or DropDeclared.
func (r *Runtime) Declare(ctx context.Context, parentPath, name string, typ *metamodel.Type) (*object.Object, error) {
	owner := OwnerFrom(ctx)
	parent, err := r.ns.Lookup(nil, resolveAgainst(ctx, parentPath))
	if err != nil {
		return nil, raise(ctx, errAs(err))
	}
	defer parent.Release()

	obj, err := r.ns.Declare(parent, name, typ, owner)
	if err != nil {
		return nil, raise(ctx, errAs(err))
	}
	if !obj.State().Has(object.Valid) {
		r.trackDeclared(owner, obj)
	}
	return obj, nil
}

// Define transitions obj to valid and clears its declared-by-owner entry.
func (r *Runtime) Define(ctx context.Context, obj *object.Object) error {
	owner := OwnerFrom(ctx)
	if err := r.ns.Define(obj, owner); err != nil {
		return raise(ctx, errAs(err))
	}
	r.untrackDeclared(owner, obj)
	return nil
}

// Update brackets a writer mutation: ownership is checked against the
// mounts replicating the object, mutate runs, and the update event is
// emitted with ctx's owner as originator. A mutate failure rolls back
// without emitting.
func (r *Runtime) Update(ctx context.Context, obj *object.Object, mutate func() error) error {
	owner := OwnerFrom(ctx)
	absPath := vstore.PathOf(obj)

	var serialized []byte
	contentType := ""
	if c, ok := r.codecs.Get("application/json"); ok {
		if data, err := c.FromValue(obj.Payload); err == nil {
			serialized = data
			contentType = c.ContentType()
		}
	}
	if err := r.store.CheckWrite(absPath, serialized, contentType, owner); err != nil {
		return raise(ctx, errAs(err))
	}

	r.ns.UpdateBegin(obj)
	if err := mutate(); err != nil {
		r.ns.UpdateCancel(obj)
		return raise(ctx, errors.Wrap(errors.InvalidState, "runtime.go", 0, err, "update mutation failed"))
	}
	if err := r.ns.UpdateEnd(obj, owner); err != nil {
		return raise(ctx, errAs(err))
	}
	return nil
}

// Delete drops the object and its subtree.
func (r *Runtime) Delete(ctx context.Context, obj *object.Object) error {
	owner := OwnerFrom(ctx)
	if err := r.ns.Drop(obj, true, owner); err != nil {
		return raise(ctx, errAs(err))
	}
	r.untrackDeclared(owner, obj)
	return nil
}

// DropDeclared drops every object ctx's owner declared but never defined —
// the cleanup an exiting worker owes the store.
func (r *Runtime) DropDeclared(ctx context.Context) {
	r.dropDeclared(OwnerFrom(ctx))
}

func (r *Runtime) dropDeclared(owner domain.EntityID) {
	r.declMu.Lock()
	set := r.declared[owner]
	delete(r.declared, owner)
	r.declMu.Unlock()
	for obj := range set {
		if obj.State().Has(object.Valid) || obj.State().Has(object.Deleted) {
			continue
		}
		_ = r.ns.Drop(obj, true, owner)
	}
}

func (r *Runtime) trackDeclared(owner domain.EntityID, obj *object.Object) {
	r.declMu.Lock()
	defer r.declMu.Unlock()
	set := r.declared[owner]
	if set == nil {
		set = make(map[*object.Object]struct{})
		r.declared[owner] = set
	}
	set[obj] = struct{}{}
}

func (r *Runtime) untrackDeclared(owner domain.EntityID, obj *object.Object) {
	r.declMu.Lock()
	defer r.declMu.Unlock()
	if set := r.declared[owner]; set != nil {
		delete(set, obj)
	}
}

func resolveAgainst(ctx context.Context, path string) string {
	if len(path) > 0 && path[0] == '/' {
		return path
	}
	base := ScopeFrom(ctx)
	if path == "" {
		return base
	}
	if base == "/" {
		return "/" + path
	}
	return base + "/" + path
}

func errAs(err error) *errors.Error {
	if e, ok := err.(*errors.Error); ok {
		return e
	}
	return errors.Wrap(errors.Internal, "runtime.go", 0, err, "unexpected error")
}
