package vstore

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arborstore/arbor/pkg/codec"
	"github.com/arborstore/arbor/pkg/domain"
	"github.com/arborstore/arbor/pkg/errors"
	"github.com/arborstore/arbor/pkg/logger"
	"github.com/arborstore/arbor/pkg/metamodel"
	"github.com/arborstore/arbor/pkg/namespace"
	"github.com/arborstore/arbor/pkg/object"
	"github.com/arborstore/arbor/pkg/observer"
)

const component = "vstore"

// historyCap bounds the per-object sample ring the dispatcher keeps for
// history-windowed queries.
const historyCap = 64

type mountEntry struct {
	mount Mount
	seq   uint64
}

// Dispatcher routes select, subscribe and publish over the in-memory store
// and the set of attached mounts.
type Dispatcher struct {
	ns     *namespace.Namespace
	table  *observer.Table
	codecs *codec.Registry

	mu     sync.RWMutex
	mounts []*mountEntry
	// seq is a monotonic registration sequence, never reused even after an
	// Unmount, so specificity ties order stably for the Dispatcher's
	// lifetime regardless of mount churn.
	seq uint64

	subMu sync.RWMutex
	subs  map[domain.EntityID]*Subscription

	histMu  sync.Mutex
	history map[string][]HistorySample
}

// New wires a Dispatcher over a namespace, an observer table and a codec
// registry.
func New(ns *namespace.Namespace, table *observer.Table, codecs *codec.Registry) *Dispatcher {
	return &Dispatcher{
		ns:      ns,
		table:   table,
		codecs:  codecs,
		subs:    make(map[domain.EntityID]*Subscription),
		history: make(map[string][]HistorySample),
	}
}

// Namespace returns the namespace this dispatcher routes into.
func (d *Dispatcher) Namespace() *namespace.Namespace { return d.ns }

// Codecs returns the content-type codec registry.
func (d *Dispatcher) Codecs() *codec.Registry { return d.codecs }

// ---------------------------------------------------------------------------
// Mount registry
// ---------------------------------------------------------------------------

// Mount attaches m. Queries scoped under m.From() are delegated to it from
// now on.
func (d *Dispatcher) Mount(m Mount) error {
	if m == nil {
		return errors.New(errors.InvalidArgument, "dispatcher.go", 0, "nil mount")
	}
	d.mu.Lock()
	d.seq++
	d.mounts = append(d.mounts, &mountEntry{mount: m, seq: d.seq})
	d.mu.Unlock()
	logger.InfoCF(component, "mount attached", map[string]interface{}{
		"mount": m.Name(), "from": m.From(), "ownership": string(m.Policy().Ownership),
	})
	return nil
}

// Unmount detaches the mount with the given identity.
func (d *Dispatcher) Unmount(id domain.EntityID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, e := range d.mounts {
		if e.mount.ID() == id {
			d.mounts = append(d.mounts[:i], d.mounts[i+1:]...)
			logger.InfoCF(component, "mount detached", map[string]interface{}{"mount": e.mount.Name()})
			return nil
		}
	}
	return errors.New(errors.NotFound, "dispatcher.go", 0, "no such mount")
}

// Mounts returns the currently attached mounts in registration order.
func (d *Dispatcher) Mounts() []Mount {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Mount, len(d.mounts))
	for i, e := range d.mounts {
		out[i] = e.mount
	}
	return out
}

// routesFor returns the mounts whose anchor overlaps the query scope,
// ordered by (specificity of the anchor, registration sequence): more
// specific scopes are queried first, ties go to the earlier registration.
func (d *Dispatcher) routesFor(absFrom string) []*mountEntry {
	d.mu.RLock()
	var hits []*mountEntry
	for _, e := range d.mounts {
		if scopeOverlaps(e.mount.From(), absFrom) {
			hits = append(hits, e)
		}
	}
	d.mu.RUnlock()
	sort.SliceStable(hits, func(i, j int) bool {
		si, sj := specificity(hits[i].mount.From()), specificity(hits[j].mount.From())
		if si != sj {
			return si > sj
		}
		return hits[i].seq < hits[j].seq
	})
	return hits
}

// mountFor returns the most specific mount covering absPath, or nil.
func (d *Dispatcher) mountFor(absPath string) Mount {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var best *mountEntry
	for _, e := range d.mounts {
		if !isUnder(absPath, e.mount.From()) {
			continue
		}
		if best == nil || specificity(e.mount.From()) > specificity(best.mount.From()) ||
			(specificity(e.mount.From()) == specificity(best.mount.From()) && e.seq < best.seq) {
			best = e
		}
	}
	if best == nil {
		return nil
	}
	return best.mount
}

// ---------------------------------------------------------------------------
// Select execution
// ---------------------------------------------------------------------------

// execSelect composes the local store and every routed mount into a single
// lazy iterator for q.
func (d *Dispatcher) execSelect(q *Query) (Iter, error) {
	absFrom := q.AbsoluteFrom("/")

	var sources []Iter

	// The in-memory store is the most specific source: concrete objects win
	// over anything a mount returns for the same id.
	local, err := d.localResults(q, absFrom)
	if err != nil && !errors.Is(err, errors.NotFound) {
		return nil, err
	}
	if len(local) > 0 {
		sources = append(sources, NewSliceIter(local, nil))
	}

	for _, e := range d.routesFor(absFrom) {
		m := e.mount
		if q.MountID != "" && m.ID() != q.MountID {
			continue
		}
		if q.Instance != "" && m.ID() == q.Instance {
			continue
		}
		mq, ok := translateQuery(q, absFrom, m.From())
		if !ok {
			continue
		}
		it, qerr := m.OnQuery(&mq)
		if qerr != nil {
			// Release what was already opened before surfacing.
			for _, s := range sources {
				s.Release()
			}
			werr := errors.Wrap(errors.BackendError, "dispatcher.go", 0, qerr, "mount query failed")
			return nil, werr.WithOriginator(m.Name())
		}
		if it != nil {
			sources = append(sources, &rebaseIter{inner: it, mountFrom: m.From(), queryFrom: absFrom, owner: m.ID()})
		}
	}

	return newComposedIter(q, sources), nil
}

// translateQuery rewrites q for a mount anchored at mountFrom. Returns
// ok=false when the pattern cannot reach the mount's subtree.
func translateQuery(q *Query, absFrom, mountFrom string) (Query, bool) {
	mq := *q
	if isUnder(absFrom, mountFrom) {
		// Query scope sits inside the mount: anchor the mount query at the
		// scope's offset below the mount root.
		mq.From = relativeTo(absFrom, mountFrom)
		return mq, true
	}
	// Mount sits below the query scope: the pattern must descend through the
	// prefix between the two anchors.
	prefix := relativeTo(mountFrom, absFrom)
	rem, ok := patternRemainder(q.Expr, prefix)
	if !ok {
		return mq, false
	}
	mq.From = ""
	mq.Expr = rem
	return mq, true
}

// patternRemainder consumes prefix's components from the front of pattern,
// returning what remains for matching below the prefix.
func patternRemainder(pattern, prefix string) (string, bool) {
	recursive := strings.HasSuffix(pattern, "//")
	comps := strings.Split(strings.Trim(strings.TrimSuffix(pattern, "//"), "/"), "/")
	pre := strings.Split(strings.Trim(prefix, "/"), "/")
	if strings.Trim(pattern, "/") == "" {
		return "", false
	}
	for _, seg := range pre {
		if len(comps) == 0 || comps[0] == "" {
			if recursive {
				return "*//", true
			}
			return "", false
		}
		if !matchSegment(comps[0], seg) {
			return "", false
		}
		comps = comps[1:]
	}
	rem := strings.Join(comps, "/")
	if rem == "" {
		if recursive {
			return "*//", true
		}
		return "", false
	}
	if recursive {
		rem += "//"
	}
	return rem, true
}

// rebaseIter rewrites mount-relative results to be relative to the query
// scope, filling in the owning mount's identity.
type rebaseIter struct {
	inner     Iter
	mountFrom string
	queryFrom string
	owner     domain.EntityID
	cur       Result
}

func (r *rebaseIter) Next() bool {
	if !r.inner.Next() {
		return false
	}
	res := *r.inner.Result()
	absParent := joinPath(r.mountFrom, res.Parent)
	res.Parent = absParent
	res.ID = relativeTo(joinPath(absParent, res.Name), r.queryFrom)
	if res.Owner == "" {
		res.Owner = r.owner
	}
	r.cur = res
	return true
}

func (r *rebaseIter) Result() *Result { return &r.cur }
func (r *rebaseIter) Err() error      { return r.inner.Err() }
func (r *rebaseIter) Release()        { r.inner.Release() }

func joinPath(base, rel string) string {
	b := canonical(base)
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return b
	}
	if b == "/" {
		return "/" + rel
	}
	return b + "/" + rel
}

// localResults gathers concrete objects under absFrom matching q.Expr.
func (d *Dispatcher) localResults(q *Query, absFrom string) ([]Result, error) {
	scopeObj, err := d.ns.Lookup(nil, absFrom)
	if err != nil {
		return nil, err
	}
	defer scopeObj.Release()

	var out []Result
	d.gather(scopeObj, absFrom, absFrom, q, &out)
	return out, nil
}

func (d *Dispatcher) gather(obj *object.Object, absPath, absFrom string, q *Query, out *[]Result) {
	sc := obj.Scope()
	if sc == nil {
		return
	}
	for _, child := range sc.Children() {
		if child.State().Has(object.Deleted) {
			continue
		}
		childPath := joinPath(absPath, child.Name())
		rel := relativeTo(childPath, absFrom)
		if MatchPattern(q.Expr, rel) {
			*out = append(*out, d.resultFor(child, childPath, absFrom, q))
		}
		d.gather(child, childPath, absFrom, q, out)
	}
}

func (d *Dispatcher) resultFor(obj *object.Object, absPath, absFrom string, q *Query) Result {
	typeName := ""
	if t := obj.Type(); t != nil {
		typeName = t.Name
	}
	var flags ResultFlags
	if sc := obj.Scope(); sc == nil || sc.Count() == 0 {
		flags |= FlagLeaf
	}
	if strings.HasPrefix(obj.Name(), ".") {
		flags |= FlagHidden
	}
	r := Result{
		ID:     relativeTo(absPath, absFrom),
		Name:   obj.Name(),
		Parent: canonical(strings.TrimSuffix(absPath, "/"+obj.Name())),
		Type:   typeName,
		Value:  obj.Payload,
		Owner:  obj.Owner(),
		Flags:  flags,
	}
	if q != nil && !q.History.IsZero() {
		r.History = d.historyFor(absPath, q.History)
	}
	if q != nil && q.ContentType != "" {
		if c, ok := d.codecs.Get(q.ContentType); ok {
			if data, err := c.FromValue(obj.Payload); err == nil {
				r.Value = data
				r.ContentType = q.ContentType
			}
		}
	}
	return r
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

func (d *Dispatcher) recordHistory(absPath string, value interface{}) {
	d.histMu.Lock()
	defer d.histMu.Unlock()
	samples := append(d.history[absPath], HistorySample{Timestamp: time.Now().UTC(), Value: value})
	if len(samples) > historyCap {
		samples = samples[len(samples)-historyCap:]
	}
	d.history[absPath] = samples
}

func (d *Dispatcher) historyFor(absPath string, w HistoryWindow) *HistoryIter {
	d.histMu.Lock()
	all := append([]HistorySample(nil), d.history[absPath]...)
	d.histMu.Unlock()

	now := time.Now().UTC()
	from, to := time.Time{}, now
	if !w.FromTime.IsZero() {
		from = w.FromTime
	}
	if w.FromNow {
		from = now
	}
	if !w.ToTime.IsZero() {
		to = w.ToTime
	}
	if w.ForDuration > 0 {
		if !from.IsZero() {
			to = from.Add(w.ForDuration)
		} else {
			from = to.Add(-w.ForDuration)
		}
	}

	var windowed []HistorySample
	for _, s := range all {
		if !from.IsZero() && s.Timestamp.Before(from) {
			continue
		}
		if s.Timestamp.After(to) {
			continue
		}
		windowed = append(windowed, s)
	}
	if w.SOffset > 0 && w.SOffset < len(windowed) {
		windowed = windowed[w.SOffset:]
	} else if w.SOffset >= len(windowed) {
		windowed = nil
	}
	if w.SLimit > 0 && w.SLimit < len(windowed) {
		windowed = windowed[:w.SLimit]
	}
	return NewHistoryIter(windowed, nil)
}

// ---------------------------------------------------------------------------
// Object event intake — wired as namespace.Namespace.Notify
// ---------------------------------------------------------------------------

// HandleObjectEvent receives every lifecycle transition committed by the
// namespace resolver, records history, feeds the per-object observer table
// and fans out to matching subscriptions.
func (d *Dispatcher) HandleObjectEvent(obj *object.Object, evType domain.EventType, originator domain.EntityID) {
	absPath := PathOf(obj)
	typeName := ""
	if t := obj.Type(); t != nil {
		typeName = t.Name
	}

	if evType == domain.EventDefine || evType == domain.EventUpdate {
		d.recordHistory(absPath, obj.Payload)
	}

	ev := domain.NewEventFrom(evType, obj.ID(), originator, absPath)
	d.table.Notify(obj.ID(), ev, observer.OnSelf)
	if parent := obj.Parent(); parent != nil {
		d.table.Notify(parent.ID(), ev, observer.OnScope)
		for anc := parent.Parent(); anc != nil; anc = anc.Parent() {
			d.table.Notify(anc.ID(), ev, observer.OnTree)
		}
	}

	// Subscribers see an object once it is defined; the declare transition
	// stays internal to the observer table.
	if evType == domain.EventDeclare {
		return
	}
	res := d.resultFor(obj, absPath, "/", nil)
	res.ID = strings.TrimPrefix(absPath, "/")
	d.fanOut(Event{Type: evType, Result: res, Originator: originator}, absPath, typeName)
}

func (d *Dispatcher) fanOut(e Event, absPath, typeName string) {
	d.subMu.RLock()
	snapshot := make([]*Subscription, 0, len(d.subs))
	for _, s := range d.subs {
		snapshot = append(snapshot, s)
	}
	d.subMu.RUnlock()
	for _, s := range snapshot {
		if !s.matches(absPath, typeName, "/") {
			continue
		}
		s.deliver(d.projectFor(s, e))
	}
}

// projectFor re-encodes the event's value for one subscriber. When the
// serialized payload's content type already matches the subscriber's, the
// bytes are forwarded as-is with no deserialise-reserialise.
func (d *Dispatcher) projectFor(s *Subscription, e Event) Event {
	want := s.ContentType
	if want == "" || e.Result.ContentType == want {
		return e
	}
	c, ok := d.codecs.Get(want)
	if !ok {
		return e
	}
	val := e.Result.Value
	if raw, isRaw := val.([]byte); isRaw && e.Result.ContentType != "" {
		if from, ok := d.codecs.Get(e.Result.ContentType); ok {
			var decoded interface{}
			if err := from.ToValue(raw, &decoded); err == nil {
				val = decoded
			}
		}
	}
	data, err := c.FromValue(val)
	if err != nil {
		return e
	}
	out := e
	out.Result.Value = data
	out.Result.ContentType = want
	return out
}

// ---------------------------------------------------------------------------
// Subscribe / unsubscribe
// ---------------------------------------------------------------------------

func (d *Dispatcher) register(s *Subscription) error {
	d.subMu.Lock()
	d.subs[s.ID()] = s
	d.subMu.Unlock()

	absFrom := s.Query.AbsoluteFrom("/")
	for _, e := range d.routesFor(absFrom) {
		if mq, ok := translateQuery(&s.Query, absFrom, e.mount.From()); ok {
			if err := e.mount.OnSubscribe(&mq); err != nil {
				logger.WarnCF(component, "mount subscribe failed", map[string]interface{}{
					"mount": e.mount.Name(), "error": err.Error(),
				})
			}
		}
	}

	if s.Enabled() {
		d.align(s)
	}
	return nil
}

// align delivers a synthetic DEFINE for every object currently matching the
// subscription's query. Live events arriving during alignment are held on
// the subscription's align queue and replayed in arrival order afterwards.
func (d *Dispatcher) align(s *Subscription) {
	s.beginAlign()
	defer s.endAlign()

	q := s.Query
	it, err := d.execSelect(&q)
	if err != nil {
		logger.WarnCF(component, "alignment select failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer it.Release()
	for it.Next() {
		r := *it.Result()
		s.alignDeliver(d.projectFor(s, Event{Type: domain.EventDefine, Result: r}))
	}
	if err := it.Err(); err != nil {
		logger.WarnCF(component, "alignment iteration failed", map[string]interface{}{"error": err.Error()})
	}
}

// Unsubscribe cancels the subscription with the given identity.
func (d *Dispatcher) Unsubscribe(id domain.EntityID) error {
	d.subMu.Lock()
	s, ok := d.subs[id]
	if ok {
		delete(d.subs, id)
	}
	d.subMu.Unlock()
	if !ok {
		return errors.New(errors.NotFound, "dispatcher.go", 0, "no such subscription")
	}
	s.Delete()

	absFrom := s.Query.AbsoluteFrom("/")
	for _, e := range d.routesFor(absFrom) {
		if mq, ok := translateQuery(&s.Query, absFrom, e.mount.From()); ok {
			_ = e.mount.OnUnsubscribe(&mq)
		}
	}
	return nil
}

// Subscriptions returns the live subscriptions, for diagnostics.
func (d *Dispatcher) Subscriptions() []*Subscription {
	d.subMu.RLock()
	defer d.subMu.RUnlock()
	out := make([]*Subscription, 0, len(d.subs))
	for _, s := range d.subs {
		out = append(out, s)
	}
	return out
}

// ---------------------------------------------------------------------------
// Publish
// ---------------------------------------------------------------------------

// publish synthesises a notification without materialising an object. When
// id resolves to a stored object the value is deserialised into it and a
// normal update runs; otherwise the event goes straight to matching
// subscribers.
func (d *Dispatcher) publish(evType domain.EventType, id, typeName, contentType string, value []byte, originator domain.EntityID) error {
	abs := canonical(id)

	if obj, err := d.ns.Lookup(nil, abs); err == nil {
		defer obj.Release()
		if len(value) > 0 && contentType != "" {
			c, ok := d.codecs.Get(contentType)
			if !ok {
				return errors.New(errors.InvalidArgument, "dispatcher.go", 0, "no codec for content type "+contentType)
			}
			var decoded interface{}
			if err := c.ToValue(value, &decoded); err != nil {
				return errors.Wrap(errors.BackendError, "dispatcher.go", 0, err, "publish value decode failed")
			}
			obj.Payload = decoded
		}
		return d.ns.UpdateFrom(obj, originator)
	}

	name := abs[strings.LastIndex(abs, "/")+1:]
	parent := canonical(strings.TrimSuffix(abs, "/"+name))
	res := Result{
		ID:          strings.TrimPrefix(abs, "/"),
		Name:        name,
		Parent:      parent,
		Type:        typeName,
		Value:       value,
		ContentType: contentType,
		Flags:       FlagLeaf,
		Owner:       originator,
	}
	d.fanOut(Event{Type: evType, Result: res, Originator: originator}, abs, typeName)
	return nil
}

// ---------------------------------------------------------------------------
// Write ownership resolution
// ---------------------------------------------------------------------------

// CheckWrite resolves whether a local write to absPath is allowed given the
// ownership policy of the most specific mount replicating it. RemoteSource
// rejects the write, LocalSource accepts it, CacheOwner forwards it to the
// remote (the caller serializes and hands the bytes over here).
func (d *Dispatcher) CheckWrite(absPath string, value []byte, contentType string, originator domain.EntityID) error {
	m := d.mountFor(canonical(absPath))
	if m == nil {
		return nil
	}
	if originator != "" && originator == m.ID() {
		return nil // the mount's own loopback is always allowed
	}
	switch m.Policy().Ownership {
	case domain.RemoteSource:
		err := errors.New(errors.Conflict, "dispatcher.go", 0, "object is owned by a remote source")
		return err.WithOriginator(m.Name())
	case domain.CacheOwner:
		rel := relativeTo(canonical(absPath), m.From())
		if err := m.OnPublish(domain.EventUpdate, rel, value, contentType); err != nil {
			werr := errors.Wrap(errors.BackendError, "dispatcher.go", 0, err, "write forward failed")
			return werr.WithOriginator(m.Name())
		}
		return nil
	default: // LocalSource
		return nil
	}
}

// ensureScope resolves absPath to a claimed object, declaring and defining
// untyped container scopes for any missing components along the way.
func (d *Dispatcher) ensureScope(absPath string, owner domain.EntityID) (*object.Object, error) {
	if obj, err := d.ns.Lookup(nil, absPath); err == nil {
		return obj, nil
	}
	cur := d.ns.Root.Claim()
	trimmed := strings.Trim(absPath, "/")
	if trimmed == "" {
		return cur, nil
	}
	for _, c := range strings.Split(trimmed, "/") {
		child, err := d.ns.Declare(cur, c, nil, owner)
		cur.Release()
		if err != nil {
			return nil, err
		}
		if err := d.ns.Define(child, owner); err != nil {
			child.Release()
			return nil, err
		}
		cur = child
	}
	return cur, nil
}

// PathOf computes the absolute path of a stored object from its parent
// chain. Anonymous objects render as "/".
func PathOf(o *object.Object) string {
	if o == nil {
		return "/"
	}
	var comps []string
	for cur := o; cur != nil && cur.Name() != ""; cur = cur.Parent() {
		comps = append([]string{cur.Name()}, comps...)
	}
	return "/" + strings.Join(comps, "/")
}

// typeByName resolves a built-in type name for resume; unknown names resume
// as untyped objects.
func typeByName(name string) *metamodel.Type {
	return metamodel.LookupBuiltin(name)
}
