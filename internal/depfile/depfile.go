// Package depfile parses the two dep-file grammars a Command's dep-file
// output may be written in (spec §4.5): the native AssetCooker
// "INPUT:"/"OUTPUT:" line format, and the classic Make rule prerequisite
// format.
package depfile

import (
	"bufio"
	"fmt"
	"strings"
)

// Format selects which grammar Parse uses.
type Format uint8

const (
	// FormatAssetCooker selects the "INPUT:"/"OUTPUT:" line format.
	FormatAssetCooker Format = iota
	// FormatMake selects the Makefile-rule prerequisite format.
	FormatMake
)

// Entry pairs a path with an optional explicit repo name. Repo is empty
// for the AssetCooker format (whose paths are relative to the owning
// command's own repo) and for relative Make-format paths; it is set for
// every absolute Make-format path, to the repo name the resolver
// returned (which may be the owning command's own repo).
type Entry struct {
	Repo string
	Path string
}

// Result holds the parsed inputs and outputs. For FormatMake, Outputs is
// always empty (the target is ignored and only the prerequisite list is
// consumed, per spec §4.5).
type Result struct {
	Inputs  []Entry
	Outputs []Entry
}

// Parse parses content according to format. Resolve is used only by the
// Make format, to turn an absolute path into a repo name and a path
// relative to it (or to reject a path outside every repo); the
// AssetCooker format's "INPUT:"/"OUTPUT:" lines are returned exactly as
// written, relative to the owning command's own repo.
func Parse(format Format, content []byte, resolve func(absolutePath string) (repo, relativePath string, err error)) (Result, error) {
	switch format {
	case FormatAssetCooker:
		return parseAssetCooker(content)
	case FormatMake:
		return parseMake(content, resolve)
	default:
		return Result{}, fmt.Errorf("unknown dep-file format %d", format)
	}
}

// parseAssetCooker implements the "plain text; one directive per line"
// grammar from spec §4.5. The whole file is rejected if any line is
// malformed.
func parseAssetCooker(content []byte) (Result, error) {
	var result Result
	scanner := bufio.NewScanner(strings.NewReader(string(content)))
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimLeft(scanner.Text(), " \t")
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "INPUT:"):
			result.Inputs = append(result.Inputs, Entry{Path: strings.TrimSpace(line[len("INPUT:"):])})
		case strings.HasPrefix(line, "OUTPUT:"):
			result.Outputs = append(result.Outputs, Entry{Path: strings.TrimSpace(line[len("OUTPUT:"):])})
		default:
			return Result{}, fmt.Errorf("dep-file line %d: expected 'INPUT:' or 'OUTPUT:' prefix, got %q", lineNumber, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return Result{}, fmt.Errorf("unable to read dep-file: %w", err)
	}
	return result, nil
}
