package object

// Get returns the named child, if present, under a read lock.
func (s *Scope) Get(name string) (*Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.children[name]
	return c, ok
}

// InsertOrFetch implements the atomic insert-or-fetch declare relies on to
// resolve concurrent declares of the same name. If name already
// exists, the existing child is returned with inserted=false; otherwise
// build() is called to construct the new child under the lock and
// inserted=true is returned.
func (s *Scope) InsertOrFetch(name string, build func() *Object) (child *Object, inserted bool) {
	s.mu.RLock()
	if existing, ok := s.children[name]; ok {
		s.mu.RUnlock()
		return existing, false
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.children[name]; ok {
		return existing, false
	}
	child = build()
	// The slot's generation counts removals under this name; seeding the
	// new child with it makes a Weak handle minted against a previous
	// occupant mismatch.
	child.generation = s.gens[name]
	s.children[name] = child
	s.order = append(s.order, name)
	return child, true
}

// Remove detaches name from the scope and advances the slot's generation,
// so outstanding Weak handles detect the slot's reuse.
func (s *Scope) Remove(name string) (*Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	child, ok := s.children[name]
	if !ok {
		return nil, false
	}
	delete(s.children, name)
	if s.gens == nil {
		s.gens = make(map[string]uint64)
	}
	s.gens[name]++
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return child, true
}

// Names returns child names in insertion order.
func (s *Scope) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Children returns the child objects in insertion order.
func (s *Scope) Children() []*Object {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Object, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, s.children[n])
	}
	return out
}

// Count returns the number of children currently in the scope.
func (s *Scope) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.children)
}
