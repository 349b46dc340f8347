package errors

import stderrors "errors"

// as wraps the standard library's errors.As so types.go does not need to
// import a package named "errors" under its own package name.
func as(err error, target any) bool {
	return stderrors.As(err, target)
}
