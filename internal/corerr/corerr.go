// Package corerr classifies errors the way the core's background loops need
// to react to them: every fallible call returns a plain error classified
// under one of these classes, inspected with errors.As rather than caught.
package corerr

import (
	"errors"
	"fmt"
)

// Class is the error taxonomy every outbound call and background loop must
// classify its failures under.
type Class string

const (
	Transient    Class = "transient"
	Unauthorized Class = "unauthorized"
	QuotaExceeded Class = "quota_exceeded"
	NotFound     Class = "not_found"
	Malformed    Class = "malformed"
	CryptoError  Class = "crypto_error"
	Fatal        Class = "fatal"
)

// Classified wraps an underlying error with the class callers must react to.
type Classified struct {
	Class Class
	Err   error
}

func (c *Classified) Error() string {
	return fmt.Sprintf("%s: %v", c.Class, c.Err)
}

func (c *Classified) Unwrap() error {
	return c.Err
}

func classify(class Class, err error) error {
	if err == nil {
		return nil
	}
	return &Classified{Class: class, Err: err}
}

func New(class Class, err error) error      { return classify(class, err) }
func AsTransient(err error) error           { return classify(Transient, err) }
func AsUnauthorized(err error) error        { return classify(Unauthorized, err) }
func AsQuotaExceeded(err error) error       { return classify(QuotaExceeded, err) }
func AsNotFound(err error) error            { return classify(NotFound, err) }
func AsMalformed(err error) error           { return classify(Malformed, err) }
func AsCryptoError(err error) error         { return classify(CryptoError, err) }
func AsFatal(err error) error               { return classify(Fatal, err) }

// ClassOf extracts the class of err, defaulting to Transient for an
// unclassified error (the safest default: retry rather than silently drop).
func ClassOf(err error) Class {
	var c *Classified
	if errors.As(err, &c) {
		return c.Class
	}
	if err == nil {
		return ""
	}
	return Transient
}

func Is(err error, class Class) bool {
	return ClassOf(err) == class
}
