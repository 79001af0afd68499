package lifecycle

import (
	"sync"

	"github.com/yaroslav-korotaev/overnats/canon"
)

// Compare reports whether two params values are equivalent for the purpose
// of deciding whether Summoner.Spawn is a no-op. The default is hash
// equality (canon.HashOf); callers may supply structural equality instead.
type Compare[P any] func(current, next P) bool

// Summoner is the single-slot variant of Spawner: it holds at most one
// {params, child} pair, keyed by a user-supplied equality over params
// rather than by a comparable key.
type Summoner[P any, C Child] struct {
	mu      sync.Mutex
	factory func(p P) (C, error)
	compare Compare[P]

	hasChild bool
	params   P
	child    C
}

// NewSummoner constructs a Summoner. A nil compare defaults to hash
// equality over the canonical JSON of params.
func NewSummoner[P any, C Child](factory func(p P) (C, error), compare Compare[P]) *Summoner[P, C] {
	if compare == nil {
		compare = func(current, next P) bool {
			return canon.MustHashOf(current) == canon.MustHashOf(next)
		}
	}
	return &Summoner[P, C]{factory: factory, compare: compare}
}

// Spawn is the single entry point: if no current child, create one; if
// compare(currentParams, p) holds, no-op; otherwise destroy and recreate.
func (s *Summoner[P, C]) Spawn(p P) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasChild {
		if s.compare(s.params, p) {
			return nil
		}
		if err := s.child.Destroy(); err != nil {
			return err
		}
		s.hasChild = false
	}

	child, err := s.factory(p)
	if err != nil {
		return err
	}
	s.child = child
	s.params = p
	s.hasChild = true
	return nil
}

// Kill unconditionally destroys the current child, if any.
func (s *Summoner[P, C]) Kill() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasChild {
		return nil
	}
	s.hasChild = false
	return s.child.Destroy()
}

// Params returns the current child's params and whether a child is alive.
func (s *Summoner[P, C]) Params() (P, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params, s.hasChild
}

// Destroy is an alias of Kill, satisfying Child itself so a Summoner can be
// nested inside a Spawner/another Summoner.
func (s *Summoner[P, C]) Destroy() error {
	return s.Kill()
}
