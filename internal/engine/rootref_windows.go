//go:build windows

package engine

import (
	"fmt"

	"golang.org/x/sys/windows"

	"github.com/assetcooker/assetcooker/internal/model"
)

// rootRefNumber opens a repo's root directory and reads back its
// filesystem reference number, so a freshly-scanned repo (nothing
// restored from cache) has a root FileID to seed InitialScanner's queue
// with, the same way a cached repo gets one from cache.RestoreRepoFiles.
func rootRefNumber(absolutePath string) (model.RefNumber, error) {
	path := absolutePath
	if len(path) > 0 && path[len(path)-1] == '\\' {
		path = path[:len(path)-1]
	}
	h, err := windows.CreateFile(
		windows.StringToUTF16Ptr(path),
		0,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS,
		0,
	)
	if err != nil {
		return model.RefNumber{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer windows.CloseHandle(h)

	var info windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(h, &info); err != nil {
		return model.RefNumber{}, fmt.Errorf("reading file id for %s: %w", path, err)
	}
	return model.RefNumber{High: uint64(info.FileIndexHigh), Low: uint64(info.FileIndexLow)}, nil
}
