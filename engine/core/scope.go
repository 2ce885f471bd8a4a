package core

import (
	"errors"
	"fmt"
)

type release struct {
	name string
	fn   func() error
}

// Scope is a stack of release functions. Close runs them in reverse order of
// registration, so whatever was built last is torn down first. Scopes nest by
// pushing the inner scope's Close as a release step of the outer one.
type Scope struct {
	name     string
	releases []release
	closed   bool
}

func NewScope(name string) *Scope {
	return &Scope{name: name}
}

// Defer registers fn to run on Close.
func (s *Scope) Defer(name string, fn func() error) {
	s.releases = append(s.releases, release{name: name, fn: fn})
}

// DeferFunc registers a release step that cannot fail.
func (s *Scope) DeferFunc(name string, fn func()) {
	s.Defer(name, func() error {
		fn()
		return nil
	})
}

// Nest pushes child so that it is closed as a single step of s.
func (s *Scope) Nest(child *Scope) {
	s.Defer(child.name, child.Close)
}

// Len returns the number of pending release steps.
func (s *Scope) Len() int {
	return len(s.releases)
}

// Close runs every release step in reverse order. All steps run even if some
// fail; the failures are joined. Closing twice is a no-op.
func (s *Scope) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for i := len(s.releases) - 1; i >= 0; i-- {
		r := s.releases[i]
		if err := r.fn(); err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", s.name, r.name, err))
		}
	}
	s.releases = nil
	return errors.Join(errs...)
}
