//go:build !windows

package usnwatch

import "errors"

// NewVolumeSource only exists on Windows; this engine is NTFS-journal
// specific. This stub exists purely so the package (and its
// scheduler/dirty-facing tests, which exercise Monitor.apply against a
// fake usnSource) builds on a non-Windows development machine.
func NewVolumeSource(driveLetter string) (usnSource, error) {
	return nil, errors.New("usnwatch: USN journal access is only supported on Windows")
}
