// Package cache implements the Cache component from spec §4.10: a
// binary, LZ4-compressed snapshot of FileIndex and Command state written
// on clean shutdown, consumed on startup to skip InitialScanner for
// drives it can still vouch for.
package cache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/lz4"

	"github.com/assetcooker/assetcooker/internal/fileindex"
	"github.com/assetcooker/assetcooker/internal/model"
	"github.com/assetcooker/assetcooker/internal/rulegraph"
)

// currentVersion is the on-disk format version. Per spec §4.10 this is a
// durable wire contract: any layout change must bump it, and a cache
// written with a different version is discarded wholesale rather than
// migrated.
const currentVersion int32 = 5

const (
	tagVersion     = "VERSION"
	tagDrive       = "DRIVE"
	tagRepo        = "REPO"
	tagRepoContent = "REPO_CONTENT"
	tagStrings     = "STRINGS"
	tagFiles       = "FILES"
	tagRule        = "RULE"
	tagCmd         = "CMD"
	tagFin         = "FIN"
)

// ErrIncompatibleVersion is returned by Load when the file's version
// doesn't match currentVersion; the caller should treat this exactly
// like a cold start.
var ErrIncompatibleVersion = errors.New("cache: incompatible format version")

// FileRecord is one file's restored identity, as read from a repo's
// FILES section.
type FileRecord struct {
	Path         string
	IsDirectory  bool
	RefNumber    model.RefNumber
	CreationTime time.Time
	ChangeUSN    int64
	ChangeTime   time.Time
}

// RepoContent is one repo's restored file set.
type RepoContent struct {
	Name  string
	Files []FileRecord
}

// RepoRef identifies a repo by name and root path, as recorded under a
// drive's cache entry.
type RepoRef struct {
	Name string
	Root string
}

// DriveEntry is one drive's restored journal bookkeeping.
type DriveEntry struct {
	Letter    string
	JournalID uint64
	NextUSN   int64
	Repos     []RepoRef
}

// CommandEntry is one command's restored last-cook state, keyed by its
// main input's PathHash since FileIDs aren't stable across restarts.
type CommandEntry struct {
	MainInputHash       model.PathHash
	LastCookUSN         int64
	IsError             bool
	LastCookTime        int64 // UnixNano
	Output              string
	DepFileInputHashes  []model.PathHash
	DepFileOutputHashes []model.PathHash
}

// RuleEntry is one rule's restored commands.
type RuleEntry struct {
	Name       string
	HasDepFile bool
	Version    uint16
	Commands   []CommandEntry
}

// Snapshot is the fully decoded contents of a loaded cache.bin.
type Snapshot struct {
	Drives []DriveEntry
	Repos  []RepoContent
	Rules  []RuleEntry
}

// Save writes the current FileIndex and Command state to path, atomically
// replacing any existing file. drives and repos must be given in the same
// order the engine configured them in.
func Save(path string, drives []model.Drive, index *fileindex.Index, repos []model.Repo, graph *rulegraph.Graph) error {
	var body bytes.Buffer
	writeDrives(&body, drives, repos)
	writeRepoContents(&body, index, repos)
	writeRules(&body, index, graph)
	writeTag(&body, tagFin)

	var out bytes.Buffer
	writeTag(&out, tagVersion)
	if err := binary.Write(&out, binary.LittleEndian, currentVersion); err != nil {
		return err
	}
	if err := binary.Write(&out, binary.LittleEndian, uint64(body.Len())); err != nil {
		return err
	}

	lzWriter := lz4.NewWriter(&out)
	if _, err := lzWriter.Write(body.Bytes()); err != nil {
		return fmt.Errorf("compressing cache body: %w", err)
	}
	if err := lzWriter.Close(); err != nil {
		return fmt.Errorf("finishing cache body compression: %w", err)
	}

	return writeFileAtomic(path, out.Bytes())
}

func writeFileAtomic(path string, data []byte) error {
	temp, err := os.CreateTemp(filepath.Dir(path), ".cache-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary cache file: %w", err)
	}
	tempName := temp.Name()
	if _, err := temp.Write(data); err != nil {
		temp.Close()
		os.Remove(tempName)
		return fmt.Errorf("writing temporary cache file: %w", err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("closing temporary cache file: %w", err)
	}
	if err := os.Rename(tempName, path); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("replacing cache file: %w", err)
	}
	return nil
}

func writeDrives(w *bytes.Buffer, drives []model.Drive, repos []model.Repo) {
	writeU32(w, uint32(len(drives)))
	for _, d := range drives {
		writeTag(w, tagDrive)
		writeString(w, d.Letter)
		writeU64(w, d.JournalID)
		writeI64(w, d.NextUSN)
		writeU32(w, uint32(len(d.Repos)))
		for _, ri := range d.Repos {
			writeTag(w, tagRepo)
			writeString(w, repos[ri].Name)
			writeString(w, repos[ri].Root)
		}
	}
}

func writeRepoContents(w *bytes.Buffer, index *fileindex.Index, repos []model.Repo) {
	for _, r := range repos {
		table := index.Repo(r.Index)

		writeTag(w, tagRepoContent)
		writeString(w, r.Name)
		writeU32(w, uint32(table.Files.Len()))

		var pool bytes.Buffer
		type span struct{ offset, size uint32 }
		spans := make([]span, table.Files.Len())
		table.Files.Each(func(i int, f *model.FileInfo) {
			spans[i] = span{uint32(pool.Len()), uint32(len(f.Path))}
			pool.WriteString(f.Path)
		})
		writeU32(w, uint32(pool.Len()))
		writeTag(w, tagStrings)
		w.Write(pool.Bytes())

		writeTag(w, tagFiles)
		table.Files.Each(func(i int, f *model.FileInfo) {
			sizeAndDirBit := spans[i].size
			if f.Type == model.FileTypeDirectory {
				sizeAndDirBit |= 1 << 31
			}
			writeU32(w, spans[i].offset)
			writeU32(w, sizeAndDirBit)
			writeU64(w, f.RefNumber.High)
			writeU64(w, f.RefNumber.Low)
			writeI64(w, f.CreationTime.UnixNano())
			writeI64(w, f.ChangeUSN)
			writeI64(w, f.ChangeTime.UnixNano())
		})
	}
}

func writeRules(w *bytes.Buffer, index *fileindex.Index, graph *rulegraph.Graph) {
	rules := graph.Rules()
	writeU32(w, uint32(len(rules)))

	commandsByRule := make([][]model.Command, len(rules))
	graph.EachCommand(func(_ model.CommandID, c *model.Command) {
		commandsByRule[c.Rule] = append(commandsByRule[c.Rule], *c)
	})

	for i := range rules {
		rule := &rules[i]
		writeTag(w, tagRule)
		writeString(w, rule.Name)
		writeBool(w, rule.DepFile.HasDepFile())
		writeU16(w, rule.Version)

		cmds := commandsByRule[rule.ID]
		writeU32(w, uint32(len(cmds)))
		for _, c := range cmds {
			writeCommand(w, index, rule, c)
		}
	}
}

func writeCommand(w *bytes.Buffer, index *fileindex.Index, rule *model.Rule, c model.Command) {
	writeTag(w, tagCmd)

	mainHash := index.File(c.MainInput()).Hash
	writeU64(w, mainHash.High)
	writeU64(w, mainHash.Low)

	isError := c.LastLog != nil && c.LastLog.GetState() == model.CookStateError
	usnField := uint64(c.LastCookUSN) &^ (1 << 63)
	if isError {
		usnField |= 1 << 63
	}
	writeU64(w, usnField)

	var lastCookTime int64
	var output string
	if c.LastLog != nil {
		lastCookTime = c.LastLog.EndTime
		output = c.LastLog.Output
	}
	writeI64(w, lastCookTime)
	writeBool(w, isError)
	if isError {
		writeString(w, output)
	}

	if rule.DepFile.HasDepFile() {
		writeHashes(w, index, c.DepFileInputs)
		writeHashes(w, index, c.DepFileOutputs)
	}
}

func writeHashes(w *bytes.Buffer, index *fileindex.Index, ids []model.FileID) {
	writeU32(w, uint32(len(ids)))
	for _, id := range ids {
		h := index.File(id).Hash
		writeU64(w, h.High)
		writeU64(w, h.Low)
	}
}

// Load reads and decodes path, returning ErrIncompatibleVersion (with a
// zero Snapshot) if the stored version doesn't match currentVersion.
func Load(path string) (Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	r := bytes.NewReader(raw)

	if err := expectTag(r, tagVersion); err != nil {
		return Snapshot{}, err
	}
	var version int32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return Snapshot{}, err
	}
	if version != currentVersion {
		return Snapshot{}, ErrIncompatibleVersion
	}

	var uncompressedSize uint64
	if err := binary.Read(r, binary.LittleEndian, &uncompressedSize); err != nil {
		return Snapshot{}, err
	}

	body := make([]byte, uncompressedSize)
	lzReader := lz4.NewReader(r)
	if _, err := io.ReadFull(lzReader, body); err != nil {
		return Snapshot{}, fmt.Errorf("decompressing cache body: %w", err)
	}

	return decodeBody(bytes.NewReader(body))
}

func decodeBody(r *bytes.Reader) (Snapshot, error) {
	var snap Snapshot

	driveCount, err := readU32(r)
	if err != nil {
		return Snapshot{}, err
	}
	for i := uint32(0); i < driveCount; i++ {
		if err := expectTag(r, tagDrive); err != nil {
			return Snapshot{}, err
		}
		letter, err := readString(r)
		if err != nil {
			return Snapshot{}, err
		}
		journalID, err := readU64(r)
		if err != nil {
			return Snapshot{}, err
		}
		nextUSN, err := readI64(r)
		if err != nil {
			return Snapshot{}, err
		}
		repoCount, err := readU32(r)
		if err != nil {
			return Snapshot{}, err
		}
		entry := DriveEntry{Letter: letter, JournalID: journalID, NextUSN: nextUSN}
		for j := uint32(0); j < repoCount; j++ {
			if err := expectTag(r, tagRepo); err != nil {
				return Snapshot{}, err
			}
			name, err := readString(r)
			if err != nil {
				return Snapshot{}, err
			}
			root, err := readString(r)
			if err != nil {
				return Snapshot{}, err
			}
			entry.Repos = append(entry.Repos, RepoRef{Name: name, Root: root})
		}
		snap.Drives = append(snap.Drives, entry)
	}

	totalRepos := 0
	for _, d := range snap.Drives {
		totalRepos += len(d.Repos)
	}
	for i := 0; i < totalRepos; i++ {
		content, err := decodeRepoContent(r)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Repos = append(snap.Repos, content)
	}

	ruleCount, err := readU32(r)
	if err != nil {
		return Snapshot{}, err
	}
	for i := uint32(0); i < ruleCount; i++ {
		rule, err := decodeRule(r)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Rules = append(snap.Rules, rule)
	}

	if err := expectTag(r, tagFin); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func decodeRepoContent(r *bytes.Reader) (RepoContent, error) {
	if err := expectTag(r, tagRepoContent); err != nil {
		return RepoContent{}, err
	}
	name, err := readString(r)
	if err != nil {
		return RepoContent{}, err
	}
	fileCount, err := readU32(r)
	if err != nil {
		return RepoContent{}, err
	}
	poolSize, err := readU32(r)
	if err != nil {
		return RepoContent{}, err
	}
	if err := expectTag(r, tagStrings); err != nil {
		return RepoContent{}, err
	}
	pool := make([]byte, poolSize)
	if _, err := io.ReadFull(r, pool); err != nil {
		return RepoContent{}, err
	}

	if err := expectTag(r, tagFiles); err != nil {
		return RepoContent{}, err
	}
	content := RepoContent{Name: name, Files: make([]FileRecord, fileCount)}
	for i := uint32(0); i < fileCount; i++ {
		offset, err := readU32(r)
		if err != nil {
			return RepoContent{}, err
		}
		sizeAndDirBit, err := readU32(r)
		if err != nil {
			return RepoContent{}, err
		}
		refHigh, err := readU64(r)
		if err != nil {
			return RepoContent{}, err
		}
		refLow, err := readU64(r)
		if err != nil {
			return RepoContent{}, err
		}
		creationTime, err := readI64(r)
		if err != nil {
			return RepoContent{}, err
		}
		changeUSN, err := readI64(r)
		if err != nil {
			return RepoContent{}, err
		}
		changeTime, err := readI64(r)
		if err != nil {
			return RepoContent{}, err
		}

		size := sizeAndDirBit &^ (1 << 31)
		isDir := sizeAndDirBit&(1<<31) != 0
		content.Files[i] = FileRecord{
			Path:         string(pool[offset : offset+size]),
			IsDirectory:  isDir,
			RefNumber:    model.RefNumber{High: refHigh, Low: refLow},
			CreationTime: time.Unix(0, creationTime),
			ChangeUSN:    changeUSN,
			ChangeTime:   time.Unix(0, changeTime),
		}
	}
	return content, nil
}

func decodeRule(r *bytes.Reader) (RuleEntry, error) {
	if err := expectTag(r, tagRule); err != nil {
		return RuleEntry{}, err
	}
	name, err := readString(r)
	if err != nil {
		return RuleEntry{}, err
	}
	hasDepFile, err := readBool(r)
	if err != nil {
		return RuleEntry{}, err
	}
	version, err := readU16(r)
	if err != nil {
		return RuleEntry{}, err
	}
	cmdCount, err := readU32(r)
	if err != nil {
		return RuleEntry{}, err
	}

	entry := RuleEntry{Name: name, HasDepFile: hasDepFile, Version: version}
	for i := uint32(0); i < cmdCount; i++ {
		cmd, err := decodeCommand(r, hasDepFile)
		if err != nil {
			return RuleEntry{}, err
		}
		entry.Commands = append(entry.Commands, cmd)
	}
	return entry, nil
}

func decodeCommand(r *bytes.Reader, hasDepFile bool) (CommandEntry, error) {
	if err := expectTag(r, tagCmd); err != nil {
		return CommandEntry{}, err
	}
	hashHigh, err := readU64(r)
	if err != nil {
		return CommandEntry{}, err
	}
	hashLow, err := readU64(r)
	if err != nil {
		return CommandEntry{}, err
	}
	usnField, err := readU64(r)
	if err != nil {
		return CommandEntry{}, err
	}
	lastCookTime, err := readI64(r)
	if err != nil {
		return CommandEntry{}, err
	}
	isError, err := readBool(r)
	if err != nil {
		return CommandEntry{}, err
	}

	entry := CommandEntry{
		MainInputHash: model.PathHash{High: hashHigh, Low: hashLow},
		LastCookUSN:   int64(usnField &^ (1 << 63)),
		IsError:       isError,
		LastCookTime:  lastCookTime,
	}
	if isError {
		output, err := readString(r)
		if err != nil {
			return CommandEntry{}, err
		}
		entry.Output = output
	}
	if hasDepFile {
		inputs, err := readHashes(r)
		if err != nil {
			return CommandEntry{}, err
		}
		outputs, err := readHashes(r)
		if err != nil {
			return CommandEntry{}, err
		}
		entry.DepFileInputHashes = inputs
		entry.DepFileOutputHashes = outputs
	}
	return entry, nil
}

func readHashes(r *bytes.Reader) ([]model.PathHash, error) {
	count, err := readU32(r)
	if err != nil {
		return nil, err
	}
	hashes := make([]model.PathHash, count)
	for i := uint32(0); i < count; i++ {
		high, err := readU64(r)
		if err != nil {
			return nil, err
		}
		low, err := readU64(r)
		if err != nil {
			return nil, err
		}
		hashes[i] = model.PathHash{High: high, Low: low}
	}
	return hashes, nil
}
