//go:build windows

package usnwatch

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/assetcooker/assetcooker/internal/model"
)

const (
	fsctlQueryUSNJournal = 0x000900F4
	fsctlReadUSNJournal  = 0x000900BB

	// journalReadBufferSize is the buffer FSCTL_READ_USN_JOURNAL fills
	// per call; spec §4.3 doesn't mandate a size, 64KiB matches the
	// grounding source's MAX_RECORD_BUFFER_SIZE.
	journalReadBufferSize = 65536
)

// queryUSNJournalData mirrors USN_JOURNAL_DATA_V0.
type queryUSNJournalData struct {
	UsnJournalID    uint64
	FirstUsn        int64
	NextUsn         int64
	LowestValidUsn  int64
	MaxUsn          int64
	MaximumSize     uint64
	AllocationDelta uint64
}

// readUSNJournalData mirrors READ_USN_JOURNAL_DATA_V0.
type readUSNJournalData struct {
	StartUsn          int64
	ReasonMask        uint32
	ReturnOnlyOnClose uint32
	Timeout           uint64
	BytesToWaitFor    uint64
	UsnJournalID      uint64
}

// usnRecordV2 mirrors the fixed-size prefix of USN_RECORD_V2, the record
// version FSCTL_READ_USN_JOURNAL returns absent an explicit request for
// V3/V4 records.
type usnRecordV2 struct {
	RecordLength              uint32
	MajorVersion              uint16
	MinorVersion              uint16
	FileReferenceNumber       uint64
	ParentFileReferenceNumber uint64
	Usn                       int64
	TimeStamp                 int64
	Reason                    uint32
	SourceInfo                uint32
	SecurityID                uint32
	FileAttributes            uint32
	FileNameLength            uint16
	FileNameOffset            uint16
}

// fileIDDescriptor mirrors FILE_ID_DESCRIPTOR with Type fixed to 0
// (64-bit LARGE_INTEGER file id), which is all a USN_RECORD_V2's
// FileReferenceNumber supplies.
type fileIDDescriptor struct {
	Size   uint32
	Type   uint32
	FileID [16]byte
}

var (
	kernel32         = windows.NewLazySystemDLL("kernel32.dll")
	procOpenFileById = kernel32.NewProc("OpenFileById")
)

func openFileByID(volume windows.Handle, ref uint64, access, shareMode uint32) (windows.Handle, error) {
	var desc fileIDDescriptor
	desc.Size = uint32(unsafe.Sizeof(desc))
	desc.Type = 0 // FileIdType
	*(*uint64)(unsafe.Pointer(&desc.FileID[0])) = ref

	r1, _, e1 := procOpenFileById.Call(
		uintptr(volume),
		uintptr(unsafe.Pointer(&desc)),
		uintptr(access),
		uintptr(shareMode),
		0,
		uintptr(windows.FILE_FLAG_BACKUP_SEMANTICS),
	)
	if windows.Handle(r1) == windows.InvalidHandle {
		return windows.InvalidHandle, e1
	}
	return windows.Handle(r1), nil
}

// volumeSource is the production usnSource, backed by a raw volume
// handle opened with traversal rights, per spec §4.3.
type volumeSource struct {
	handle    windows.Handle
	journalID uint64
}

// NewVolumeSource opens the USN journal for driveLetter (e.g. "C").
func NewVolumeSource(driveLetter string) (usnSource, error) {
	path := `\\.\` + driveLetter + `:`
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, err
	}
	handle, err := windows.CreateFile(
		pathPtr,
		windows.GENERIC_READ,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS,
		0,
	)
	if err != nil {
		return nil, fmt.Errorf("opening volume %s: %w", path, err)
	}

	var query queryUSNJournalData
	var bytesReturned uint32
	err = windows.DeviceIoControl(
		handle, fsctlQueryUSNJournal,
		nil, 0,
		(*byte)(unsafe.Pointer(&query)), uint32(unsafe.Sizeof(query)),
		&bytesReturned, nil,
	)
	if err != nil {
		windows.CloseHandle(handle)
		return nil, fmt.Errorf("querying USN journal on %s: %w", path, err)
	}

	return &volumeSource{handle: handle, journalID: query.UsnJournalID}, nil
}

func (v *volumeSource) QueryJournal() (journalID uint64, firstUSN, nextUSN int64, err error) {
	var query queryUSNJournalData
	var bytesReturned uint32
	err = windows.DeviceIoControl(
		v.handle, fsctlQueryUSNJournal,
		nil, 0,
		(*byte)(unsafe.Pointer(&query)), uint32(unsafe.Sizeof(query)),
		&bytesReturned, nil,
	)
	if err != nil {
		return 0, 0, 0, err
	}
	return query.UsnJournalID, query.FirstUsn, query.NextUsn, nil
}

func (v *volumeSource) ReadJournal(startUSN int64) ([]JournalRecord, int64, error) {
	request := readUSNJournalData{
		StartUsn:          startUSN,
		ReasonMask:        ReasonMask,
		ReturnOnlyOnClose: 1,
		UsnJournalID:      v.journalID,
	}

	buffer := make([]byte, journalReadBufferSize)
	var bytesReturned uint32
	err := windows.DeviceIoControl(
		v.handle, fsctlReadUSNJournal,
		(*byte)(unsafe.Pointer(&request)), uint32(unsafe.Sizeof(request)),
		&buffer[0], uint32(len(buffer)),
		&bytesReturned, nil,
	)
	if err != nil {
		return nil, startUSN, fmt.Errorf("FSCTL_READ_USN_JOURNAL: %w", err)
	}
	if bytesReturned <= 8 {
		return nil, startUSN, nil
	}

	nextUSN := *(*int64)(unsafe.Pointer(&buffer[0]))

	var records []JournalRecord
	offset := uint32(8)
	for offset+uint32(unsafe.Sizeof(usnRecordV2{})) <= bytesReturned {
		rec := (*usnRecordV2)(unsafe.Pointer(&buffer[offset]))
		if rec.RecordLength == 0 || offset+rec.RecordLength > bytesReturned {
			break
		}
		records = append(records, JournalRecord{
			RefNumber: model.RefNumber{Low: rec.FileReferenceNumber},
			Reason:    rec.Reason,
			USN:       rec.Usn,
			Timestamp: fileTimeToUnixNano(rec.TimeStamp),
		})
		offset += rec.RecordLength
	}
	return records, nextUSN, nil
}

func (v *volumeSource) ResolvePath(ref model.RefNumber) (ResolvedFile, error) {
	handle, err := openFileByID(v.handle, ref.Low, windows.FILE_READ_ATTRIBUTES, windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE)
	if err != nil {
		return ResolvedFile{}, classifyOpenError(err)
	}
	defer windows.CloseHandle(handle)

	buf := make([]uint16, 4096)
	n, err := windows.GetFinalPathNameByHandle(handle, &buf[0], uint32(len(buf)), 0)
	if err != nil {
		return ResolvedFile{}, err
	}
	path := windows.UTF16ToString(buf[:n])

	attrs, err := windows.GetFileAttributes(&buf[0])
	if err != nil {
		return ResolvedFile{}, err
	}

	return ResolvedFile{
		AbsolutePath: stripExtendedPrefix(path),
		IsDirectory:  attrs&windows.FILE_ATTRIBUTE_DIRECTORY != 0,
	}, nil
}

func (v *volumeSource) Close() error {
	return windows.CloseHandle(v.handle)
}

func classifyOpenError(err error) error {
	switch err {
	case windows.ERROR_SHARING_VIOLATION:
		return fmt.Errorf("%w: %v", ErrSharingViolation, err)
	case windows.ERROR_FILE_NOT_FOUND, windows.ERROR_PATH_NOT_FOUND:
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case windows.ERROR_ACCESS_DENIED, windows.ERROR_INVALID_PARAMETER:
		return Droppable(err)
	default:
		return err
	}
}

// stripExtendedPrefix removes the \\?\ long-path prefix
// GetFinalPathNameByHandle returns, since FileIndex stores plain
// drive-letter-rooted absolute paths.
func stripExtendedPrefix(path string) string {
	const prefix = `\\?\`
	if len(path) > len(prefix) && path[:len(prefix)] == prefix {
		return path[len(prefix):]
	}
	return path
}

// fileTimeToUnixNano converts a USN record's FILETIME timestamp (100ns
// ticks since 1601-01-01) to UnixNano.
func fileTimeToUnixNano(fileTime int64) int64 {
	const ticksPerSecond = 10_000_000
	const epochDiffSeconds = 11644473600
	seconds := fileTime/ticksPerSecond - epochDiffSeconds
	nanos := (fileTime % ticksPerSecond) * 100
	return seconds*1_000_000_000 + nanos
}
