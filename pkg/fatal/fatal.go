package fatal

import (
	"github.com/cockroachdb/errors"
)

// Fatal conditions
//
// Object-model corruption (double tracking, refcount underflow, releasing a
// lock nobody holds) cannot be recovered from: continuing risks
// use-after-free. These conditions panic with an *Error. An unrecovered
// panic aborts the process, which is the intended outcome; tests recover it
// to assert that the abort happened.

// Error is the panic value for an unrecoverable runtime condition
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return "fatal: " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf aborts with a formatted assertion failure
func Errorf(format string, args ...interface{}) {
	panic(&Error{Err: errors.AssertionFailedf(format, args...)})
}

// Wrap aborts with err as the cause
func Wrap(err error, msg string) {
	panic(&Error{Err: errors.WithAssertionFailure(errors.Wrap(err, msg))})
}

// FromRecover returns the *Error carried by a recovered panic value, or nil
func FromRecover(r interface{}) *Error {
	if r == nil {
		return nil
	}
	if fe, ok := r.(*Error); ok {
		return fe
	}
	return nil
}

// Catch runs fn and returns the fatal error it raised, if any.
// Panics that are not fatal errors propagate.
func Catch(fn func()) (fe *Error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if fe = FromRecover(r); fe == nil {
			panic(r)
		}
	}()
	fn()
	return nil
}
