package bbq

import (
	"path/filepath"
	"strings"
)

// externalScriptExtensions are the filesystem-path suffixes recognized as an
// out-of-process callback module (spec.md §4.2, §9's tagged-variant note).
var externalScriptExtensions = map[string]bool{
	".js":  true,
	".ts":  true,
	".py":  true,
	".sh":  true,
}

// JobFunc is the in-process callback signature: given a Handle describing
// the invocation, return an error to fail the attempt.
type JobFunc func(h Handle) error

// Callback is the tagged variant `InProcess(fn) | External(path)` from
// spec.md §9: a registered job callback is exactly one of a same-address-space
// function or a filesystem path to a callback module run in an isolated
// Runtime. The zero value is invalid; construct one with InProcessCallback
// or ExternalCallback.
type Callback struct {
	fn   JobFunc
	path string
}

// InProcessCallback wraps fn as an in-process Callback.
func InProcessCallback(fn JobFunc) Callback {
	return Callback{fn: fn}
}

// ExternalCallback wraps path as an out-of-process Callback. path must end in
// a recognized script extension or Job/Worker registration rejects it with
// ErrCallbackInvalid.
func ExternalCallback(path string) Callback {
	return Callback{path: path}
}

// isExternal reports whether c is the out-of-process variant.
func (c Callback) isExternal() bool {
	return c.fn == nil
}

// valid reports whether c was constructed through InProcessCallback or
// ExternalCallback with a recognized extension. The zero Callback is invalid.
func (c Callback) valid() bool {
	if c.fn != nil {
		return true
	}
	if c.path == "" {
		return false
	}
	return externalScriptExtensions[strings.ToLower(filepath.Ext(c.path))]
}
