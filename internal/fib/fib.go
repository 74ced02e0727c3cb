// Package fib computes Fibonacci numbers with F(0)=0 and F(1)=1.
package fib

import (
	"context"
	"errors"
	"fmt"
)

// MaxPosition is the largest n with F(n) representable as an int64.
const MaxPosition = 92

// Algorithm selects how F(n) is evaluated.
type Algorithm string

const (
	// Recursive is the doubly-recursive definition, exponential in n.
	Recursive Algorithm = "recursive"
	// Iterative walks the sequence once, linear in n.
	Iterative Algorithm = "iterative"
)

var (
	ErrNegative   = errors.New("negative position")
	ErrOutOfRange = errors.New("position out of range")
)

// checkEvery is how many recursive calls run between context checks.
const checkEvery = 1 << 16

// ParseAlgorithm returns the Algorithm named s.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case Recursive, Iterative:
		return Algorithm(s), nil
	}
	return "", fmt.Errorf("unknown algorithm %q (want recursive or iterative)", s)
}

// Compute evaluates F(n) with alg. It rejects n < 0 and n > maxPosition
// (maxPosition <= 0 or above MaxPosition means MaxPosition), and returns
// ctx.Err() if ctx ends first.
func Compute(ctx context.Context, alg Algorithm, n, maxPosition int64) (int64, error) {
	if maxPosition <= 0 || maxPosition > MaxPosition {
		maxPosition = MaxPosition
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegative, n)
	}
	if n > maxPosition {
		return 0, fmt.Errorf("%w: %d exceeds %d", ErrOutOfRange, n, maxPosition)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	switch alg {
	case Iterative:
		return iterative(n), nil
	case Recursive, "":
		r := &recursion{ctx: ctx}
		v := r.fib(n)
		if r.err != nil {
			return 0, r.err
		}
		return v, nil
	}
	return 0, fmt.Errorf("unknown algorithm %q", alg)
}

func iterative(n int64) int64 {
	var a, b int64 = 0, 1
	for i := int64(0); i < n; i++ {
		a, b = b, a+b
	}
	return a
}

type recursion struct {
	ctx   context.Context
	calls int
	err   error
}

func (r *recursion) fib(n int64) int64 {
	if r.err != nil {
		return 0
	}
	r.calls++
	if r.calls%checkEvery == 0 {
		if err := r.ctx.Err(); err != nil {
			r.err = err
			return 0
		}
	}
	if n <= 1 {
		return n
	}
	return r.fib(n-1) + r.fib(n-2)
}
