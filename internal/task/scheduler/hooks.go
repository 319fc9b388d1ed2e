package scheduler

import (
	"errors"

	"tempo/internal/session"
)

// hooker brackets a phase: prerun calls every hook before the phase body and
// keeps the after callbacks they return for postrun.
type hooker struct {
	afters []func() error
}

func prerun(s *session.Session, hooks []session.PhaseHook) (*hooker, error) {
	h := &hooker{}
	for _, hook := range hooks {
		after, err := hook(s)
		if err != nil {
			return h, err
		}
		if after != nil {
			h.afters = append(h.afters, after)
		}
	}
	return h, nil
}

// postrun calls the after callbacks in registration order.
func (h *hooker) postrun() error {
	var errs []error
	for _, after := range h.afters {
		if err := after(); err != nil {
			errs = append(errs, err)
		}
	}
	h.afters = nil
	return errors.Join(errs...)
}
