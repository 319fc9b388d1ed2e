package cond

import (
	"fmt"
	"strings"
)

// Bounds compares a count. With no bound set, any count above zero holds.
type Bounds struct {
	Eq *int
	Ne *int
	Lt *int
	Le *int
	Gt *int
	Ge *int
}

func intp(n int) *int { return &n }

func (b Bounds) Empty() bool {
	return b.Eq == nil && b.Ne == nil && b.Lt == nil && b.Le == nil && b.Gt == nil && b.Ge == nil
}

func (b Bounds) Check(n int) bool {
	if b.Empty() {
		return n > 0
	}
	if b.Eq != nil && n != *b.Eq {
		return false
	}
	if b.Ne != nil && n == *b.Ne {
		return false
	}
	if b.Lt != nil && n >= *b.Lt {
		return false
	}
	if b.Le != nil && n > *b.Le {
		return false
	}
	if b.Gt != nil && n <= *b.Gt {
		return false
	}
	if b.Ge != nil && n < *b.Ge {
		return false
	}
	return true
}

// anyOverZero reports whether the bounds mean exactly "at least one".
func (b Bounds) anyOverZero() bool {
	if b.Empty() {
		return true
	}
	only := Bounds{Gt: b.Gt, Ge: b.Ge}
	if only != b {
		return false
	}
	switch {
	case b.Gt != nil && b.Ge == nil:
		return *b.Gt == 0
	case b.Ge != nil && b.Gt == nil:
		return *b.Ge == 1
	}
	return false
}

// equalZero reports whether the bounds mean exactly "none".
func (b Bounds) equalZero() bool {
	set := 0
	for _, p := range []*int{b.Eq, b.Ne, b.Lt, b.Le, b.Gt, b.Ge} {
		if p != nil {
			set++
		}
	}
	if set != 1 {
		return false
	}
	switch {
	case b.Eq != nil:
		return *b.Eq == 0
	case b.Le != nil:
		return *b.Le == 0
	case b.Lt != nil:
		return *b.Lt == 1
	}
	return false
}

func (b Bounds) String() string {
	var parts []string
	add := func(op string, p *int) {
		if p != nil {
			parts = append(parts, fmt.Sprintf("%s %d", op, *p))
		}
	}
	add("==", b.Eq)
	add("!=", b.Ne)
	add("<", b.Lt)
	add("<=", b.Le)
	add(">", b.Gt)
	add(">=", b.Ge)
	return strings.Join(parts, " ")
}
