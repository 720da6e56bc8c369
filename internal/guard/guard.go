// Package guard enforces the instance policy with advisory file locks so two
// daemons cannot fight over one printer or one work directory.
package guard

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/Roelanb/duetlapse/internal/config"
)

// ErrDuplicate marks a second daemon rejected by the instance policy.
var ErrDuplicate = errors.New("another instance is already running")

type Guard struct {
	lock *flock.Flock
}

// Acquire takes the lock the configured policy asks for: one per host
// ("single"), one per printer address ("oneip"), or none at all ("many").
// dir should be a host-wide location such as the system temp directory.
func Acquire(instances, printer, dir string) (*Guard, error) {
	var name string
	switch instances {
	case config.InstancesMany:
		return &Guard{}, nil
	case config.InstancesSingle:
		name = "duetlapse.lock"
	case config.InstancesOneIP:
		name = "duetlapse-" + sanitize(printer) + ".lock"
	default:
		return nil, fmt.Errorf("unknown instances policy %q", instances)
	}

	l := flock.New(filepath.Join(dir, name))
	ok, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("instance lock %s: %w", l.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (lock %s held)", ErrDuplicate, l.Path())
	}
	return &Guard{lock: l}, nil
}

// Release drops the lock. Safe on a policy-"many" guard.
func (g *Guard) Release() {
	if g != nil && g.lock != nil {
		_ = g.lock.Unlock()
	}
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		default:
			return '-'
		}
	}, s)
}
