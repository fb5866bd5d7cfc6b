// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package errors re-exports github.com/pkg/errors so that the rest of the
// module can `import "github.com/imatic-tech/opcua/errors"` without binding
// directly to the upstream package name.
package errors

import "github.com/pkg/errors"

// Errorf formats according to a format specifier and returns the string as a
// value that satisfies error.
func Errorf(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

// New returns an error with the supplied message.
func New(msg string) error {
	return errors.New(msg)
}

// Wrap returns an error annotating err with a message.
func Wrap(err error, msg string) error {
	return errors.Wrap(err, msg)
}

// Wrapf returns an error annotating err with a format specifier.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// Cause returns the underlying cause of the error, if possible.
func Cause(err error) error {
	return errors.Cause(err)
}
