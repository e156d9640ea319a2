//go:build windows

package scanner

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/assetcooker/assetcooker/internal/model"
)

const (
	fsctlQueryUSNJournal = 0x000900F4
	fsctlReadUSNJournal  = 0x000900BB
	fsctlReadFileUSNData = 0x000900EB

	// dirEnumBufferSize is GetFileInformationByHandleEx's output buffer
	// for FileIdBothDirectoryInfo; spec §4.4 asks for "a fixed-size
	// buffer (>= 32 KiB)".
	dirEnumBufferSize = 32 * 1024
)

// fileIDBothDirInfo mirrors FILE_ID_BOTH_DIR_INFO's fixed-size prefix
// (the variable-length FileName follows immediately after).
type fileIDBothDirInfo struct {
	NextEntryOffset uint32
	FileIndex       uint32
	CreationTime    int64
	LastAccessTime  int64
	LastWriteTime   int64
	ChangeTime      int64
	EndOfFile       int64
	AllocationSize  int64
	FileAttributes  uint32
	FileNameLength  uint32
	EaSize          uint32
	ShortNameLength int8
	_               [1]byte
	ShortName       [12]uint16
	_               [2]byte
	FileID          uint64
}

// usnRecordV2 mirrors the fixed-size prefix of USN_RECORD_V2.
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
// (64-bit LARGE_INTEGER file id).
type fileIDDescriptor struct {
	Size   uint32
	Type   uint32
	FileID [16]byte
}

var (
	kernel32         = windows.NewLazySystemDLL("kernel32.dll")
	procOpenFileById = kernel32.NewProc("OpenFileById")
)

func openFileByID(volume windows.Handle, ref uint64, access uint32) (windows.Handle, error) {
	var desc fileIDDescriptor
	desc.Size = uint32(unsafe.Sizeof(desc))
	desc.Type = 0
	*(*uint64)(unsafe.Pointer(&desc.FileID[0])) = ref

	r1, _, e1 := procOpenFileById.Call(
		uintptr(volume),
		uintptr(unsafe.Pointer(&desc)),
		uintptr(access),
		uintptr(windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE),
		0,
		uintptr(windows.FILE_FLAG_BACKUP_SEMANTICS),
	)
	if windows.Handle(r1) == windows.InvalidHandle {
		return windows.InvalidHandle, e1
	}
	return windows.Handle(r1), nil
}

// volumePool opens each drive's volume handle once and reuses it across
// calls, since every ListDirectory/journal read for a drive shares the
// same open-by-RefNumber traversal root.
type volumePool struct {
	mu      sync.Mutex
	volumes map[string]windows.Handle
}

func newVolumePool() *volumePool {
	return &volumePool{volumes: make(map[string]windows.Handle)}
}

func (p *volumePool) get(drive string) (windows.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.volumes[drive]; ok {
		return h, nil
	}
	path := `\\.\` + drive + `:`
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, err
	}
	h, err := windows.CreateFile(
		pathPtr,
		windows.GENERIC_READ,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS,
		0,
	)
	if err != nil {
		return 0, fmt.Errorf("opening volume %s: %w", path, err)
	}
	p.volumes[drive] = h
	return h, nil
}

// windowsDirSource is the production dirSource: enumerates a directory's
// entries via GetFileInformationByHandleEx(FileIdBothDirectoryInfo),
// which (unlike FindFirstFile/FindNextFile) reports each entry's own
// reference number alongside its name and attributes.
type windowsDirSource struct {
	volumes *volumePool
}

// NewWindowsDirSource constructs the production dirSource.
func NewWindowsDirSource() (dirSource, error) {
	return &windowsDirSource{volumes: newVolumePool()}, nil
}

func (w *windowsDirSource) ListDirectory(drive string, ref model.RefNumber) ([]Entry, error) {
	volume, err := w.volumes.get(drive)
	if err != nil {
		return nil, err
	}
	handle, err := openFileByID(volume, ref.Low, windows.GENERIC_READ)
	if err != nil {
		return nil, err
	}
	defer windows.CloseHandle(handle)

	var entries []Entry
	buf := make([]byte, dirEnumBufferSize)
	for {
		err := windows.GetFileInformationByHandleEx(handle, windows.FileIdBothDirectoryInfo, &buf[0], uint32(len(buf)))
		if err != nil {
			if err == windows.ERROR_NO_MORE_FILES {
				break
			}
			return entries, err
		}

		offset := 0
		for {
			info := (*fileIDBothDirInfo)(unsafe.Pointer(&buf[offset]))
			nameOffset := offset + int(unsafe.Sizeof(*info))
			nameLen := int(info.FileNameLength / 2)
			name := windows.UTF16ToString(unsafe.Slice((*uint16)(unsafe.Pointer(&buf[nameOffset])), nameLen))

			if name != "." && name != ".." {
				entries = append(entries, Entry{
					Name:        name,
					IsDirectory: info.FileAttributes&windows.FILE_ATTRIBUTE_DIRECTORY != 0,
					RefNumber:   model.RefNumber{Low: info.FileID},
				})
			}

			if info.NextEntryOffset == 0 {
				break
			}
			offset += int(info.NextEntryOffset)
		}
	}
	return entries, nil
}

// windowsJournalSource is the production journalSource backing
// Scanner.BackfillChangeUSNs.
type windowsJournalSource struct {
	volumes    *volumePool
	mu         sync.Mutex
	journalIDs map[string]uint64
}

// NewWindowsJournalSource constructs the production journalSource.
func NewWindowsJournalSource() (journalSource, error) {
	return &windowsJournalSource{volumes: newVolumePool(), journalIDs: make(map[string]uint64)}, nil
}

func (w *windowsJournalSource) journalID(drive string, handle windows.Handle) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if id, ok := w.journalIDs[drive]; ok {
		return id, nil
	}

	var query struct {
		UsnJournalID    uint64
		FirstUsn        int64
		NextUsn         int64
		LowestValidUsn  int64
		MaxUsn          int64
		MaximumSize     uint64
		AllocationDelta uint64
	}
	var bytesReturned uint32
	err := windows.DeviceIoControl(handle, fsctlQueryUSNJournal, nil, 0,
		(*byte)(unsafe.Pointer(&query)), uint32(unsafe.Sizeof(query)), &bytesReturned, nil)
	if err != nil {
		return 0, fmt.Errorf("querying USN journal on drive %s: %w", drive, err)
	}
	w.journalIDs[drive] = query.UsnJournalID
	return query.UsnJournalID, nil
}

func (w *windowsJournalSource) ReadRange(drive string, firstUSN, nextUSN int64) ([]JournalEntry, error) {
	volume, err := w.volumes.get(drive)
	if err != nil {
		return nil, err
	}
	journalID, err := w.journalID(drive, volume)
	if err != nil {
		return nil, err
	}

	var all []JournalEntry
	cursor := firstUSN
	for cursor < nextUSN {
		request := struct {
			StartUsn          int64
			ReasonMask        uint32
			ReturnOnlyOnClose uint32
			Timeout           uint64
			BytesToWaitFor    uint64
			UsnJournalID      uint64
		}{StartUsn: cursor, ReasonMask: 0xFFFFFFFF, UsnJournalID: journalID}

		buffer := make([]byte, 65536)
		var bytesReturned uint32
		err := windows.DeviceIoControl(volume, fsctlReadUSNJournal,
			(*byte)(unsafe.Pointer(&request)), uint32(unsafe.Sizeof(request)),
			&buffer[0], uint32(len(buffer)), &bytesReturned, nil)
		if err != nil {
			return all, fmt.Errorf("FSCTL_READ_USN_JOURNAL: %w", err)
		}
		if bytesReturned <= 8 {
			break
		}

		advanced := *(*int64)(unsafe.Pointer(&buffer[0]))
		if advanced <= cursor {
			break
		}

		offset := uint32(8)
		for offset+uint32(unsafe.Sizeof(usnRecordV2{})) <= bytesReturned {
			rec := (*usnRecordV2)(unsafe.Pointer(&buffer[offset]))
			if rec.RecordLength == 0 || offset+rec.RecordLength > bytesReturned {
				break
			}
			all = append(all, JournalEntry{
				RefNumber: model.RefNumber{Low: rec.FileReferenceNumber},
				USN:       rec.Usn,
				Timestamp: fileTimeToUnixNano(rec.TimeStamp),
			})
			offset += rec.RecordLength
		}
		cursor = advanced
	}
	return all, nil
}

func (w *windowsJournalSource) ReadSingleFileUSN(drive string, ref model.RefNumber) (JournalEntry, error) {
	volume, err := w.volumes.get(drive)
	if err != nil {
		return JournalEntry{}, err
	}
	handle, err := openFileByID(volume, ref.Low, windows.GENERIC_READ)
	if err != nil {
		return JournalEntry{}, err
	}
	defer windows.CloseHandle(handle)

	buf := make([]byte, unsafe.Sizeof(usnRecordV2{})+1024)
	var bytesReturned uint32
	err = windows.DeviceIoControl(handle, fsctlReadFileUSNData, nil, 0,
		&buf[0], uint32(len(buf)), &bytesReturned, nil)
	if err != nil {
		return JournalEntry{}, fmt.Errorf("FSCTL_READ_FILE_USN_DATA: %w", err)
	}
	rec := (*usnRecordV2)(unsafe.Pointer(&buf[0]))
	return JournalEntry{
		RefNumber: ref,
		USN:       rec.Usn,
		Timestamp: fileTimeToUnixNano(rec.TimeStamp),
	}, nil
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
