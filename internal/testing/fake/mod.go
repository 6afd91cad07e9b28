// Package fake provides fake implementations for interfaces commonly used in
// the repository. The fakes are intentionally simple and allow errors to be
// triggered when required.
package fake

import "golang.org/x/xerrors"

var fakeErr = xerrors.New("fake error")

// GetError returns the error of a bad fake.
func GetError() error {
	return fakeErr
}
