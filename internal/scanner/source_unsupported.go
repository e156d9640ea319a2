//go:build !windows

package scanner

import "errors"

// NewWindowsDirSource and NewWindowsJournalSource only exist on Windows.
// These stubs exist purely so the package (and the queue/busy-counter
// logic, which is exercised against a fake dirSource/journalSource in
// tests) builds on a non-Windows development machine.

func NewWindowsDirSource() (dirSource, error) {
	return nil, errors.New("scanner: directory enumeration is only supported on Windows")
}

func NewWindowsJournalSource() (journalSource, error) {
	return nil, errors.New("scanner: USN journal access is only supported on Windows")
}
