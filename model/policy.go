package model

import (
	"strings"
)

// Policy is a per-state control decision for one stage. Policy[i] is true
// when non-absorbing state i is under capacity control.
type Policy []bool

// EnumeratePolicies returns the Cartesian product {false,true}^n. State 0 is
// the most significant position, so index 0 is the all-false policy and the
// last index is all-true.
func EnumeratePolicies(n int) []Policy {
	if n < 0 {
		return nil
	}
	count := 1 << n
	out := make([]Policy, count)
	for k := 0; k < count; k++ {
		pi := make(Policy, n)
		for i := 0; i < n; i++ {
			pi[i] = (k>>(n-1-i))&1 == 1
		}
		out[k] = pi
	}
	return out
}

// Index returns the position of the policy in EnumeratePolicies order.
func (p Policy) Index() int {
	idx := 0
	for _, b := range p {
		idx <<= 1
		if b {
			idx |= 1
		}
	}
	return idx
}

// Bit returns 1 when state i is controlled.
func (p Policy) Bit(i int) int {
	if p[i] {
		return Controlled
	}
	return Uncontrolled
}

// Bits returns the policy as a 0/1 row.
func (p Policy) Bits() []int {
	out := make([]int, len(p))
	for i := range p {
		out[i] = p.Bit(i)
	}
	return out
}

// String renders the policy as dash-separated bits, e.g. "0-1-1".
func (p Policy) String() string {
	var b strings.Builder
	for i := range p {
		if i > 0 {
			b.WriteByte('-')
		}
		if p[i] {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}
