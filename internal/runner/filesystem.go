package runner

import (
	"io"
	"os"
	"path/filepath"
)

// Filesystem abstracts the OS operations CommandRunner needs beyond
// running a child process: existence checks, directory creation, file
// deletion and byte-for-byte copying. Grounded the same way usnwatch's
// drive-reader abstraction is, so Cook/Cleanup can be exercised in tests
// without a real volume.
type Filesystem interface {
	MkdirAll(absoluteDir string) error
	RemoveFile(absolutePath string) error
	CopyFile(absoluteSrc, absoluteDst string) error
}

// osFilesystem is the production Filesystem, used by cmd/assetcooker.
type osFilesystem struct{}

// NewOSFilesystem returns the real, disk-backed Filesystem.
func NewOSFilesystem() Filesystem {
	return osFilesystem{}
}

func (osFilesystem) MkdirAll(absoluteDir string) error {
	if absoluteDir == "" {
		return nil
	}
	return os.MkdirAll(longPath(absoluteDir), 0o755)
}

func (osFilesystem) RemoveFile(absolutePath string) error {
	err := os.Remove(longPath(absolutePath))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (osFilesystem) CopyFile(absoluteSrc, absoluteDst string) error {
	src, err := os.Open(longPath(absoluteSrc))
	if err != nil {
		return err
	}
	defer src.Close()

	if dir := filepath.Dir(absoluteDst); dir != "." {
		if err := os.MkdirAll(longPath(dir), 0o755); err != nil {
			return err
		}
	}

	dst, err := os.Create(longPath(absoluteDst))
	if err != nil {
		return err
	}
	_, copyErr := io.Copy(dst, src)
	closeErr := dst.Close()
	if copyErr != nil {
		return copyErr
	}
	return closeErr
}
