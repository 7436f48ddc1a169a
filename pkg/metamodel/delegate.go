package metamodel

// Delegate is a type-level behavior slot: a plain Go closure. Closures are
// the only invocation binding this module needs.
type Delegate func(self interface{}, args ...interface{}) (interface{}, error)

// Delegates holds every behavior slot a type may define. Unset slots are
// nil; HasXxx flags on Type record which ones resolved to a non-nil value
// after base-to-derived propagation.
type Delegates struct {
	Init      Delegate
	Deinit    Delegate
	Construct Delegate
	Destruct  Delegate
	Define    Delegate
	Delete    Delegate
	Validate  Delegate
	Update    Delegate
}

// merge returns a new Delegates where each nil slot in d is filled from
// base, implementing "pull delegates from the nearest base that defines
// them". A type's own non-nil slot always wins over base.
func (d Delegates) merge(base Delegates) Delegates {
	fill := func(own, inherited Delegate) Delegate {
		if own != nil {
			return own
		}
		return inherited
	}
	return Delegates{
		Init:      fill(d.Init, base.Init),
		Deinit:    fill(d.Deinit, base.Deinit),
		Construct: fill(d.Construct, base.Construct),
		Destruct:  fill(d.Destruct, base.Destruct),
		Define:    fill(d.Define, base.Define),
		Delete:    fill(d.Delete, base.Delete),
		Validate:  fill(d.Validate, base.Validate),
		Update:    fill(d.Update, base.Update),
	}
}

// DelegateFlags are the cached HAS_* / NEEDS_* / IS_* flags resolved once at
// Finalize time.
type DelegateFlags uint32

const (
	HasInit DelegateFlags = 1 << iota
	HasDeinit
	HasConstruct
	HasDestruct
	HasReferences
	HasResources
	NeedsInit
	IsContainer
)

func (f DelegateFlags) Has(flag DelegateFlags) bool { return f&flag != 0 }
