// Package template implements the small path-template language from spec
// §4.6: `{Name}` and `{Name[slice]}` substitutions over a file's
// repo-relative path components, plus a `{Repo:<name>}` construct that
// resolves to another repo's absolute root. Variable names and the
// `{Repo:...}` form are specific enough (and the required Python-style
// slice semantics exact enough) that none of the pack's templating
// libraries fit without distortion — see DESIGN.md for why this is
// hand-rolled rather than built on `text/template` like
// cmd/mutagen/common/templating does for user-facing output formatting.
package template

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Context supplies the variable values available to a template expansion,
// all derived from a single FileInfo plus the repo table needed to
// resolve `{Repo:name}`.
type Context struct {
	// Ext is the file's extension, including the leading dot.
	Ext string
	// File is the file's base name without its extension.
	File string
	// Dir is the file's directory, including a trailing separator (empty
	// if the file is at the repo root).
	Dir string
	// Path is the file's full repo-relative path.
	Path string
	// Repos maps a repo display name to its absolute root path (ending
	// in the platform separator), for `{Repo:name}` substitutions.
	Repos map[string]string
}

func (c Context) dirNoTrailingSlash() string {
	return strings.TrimRight(c.Dir, `/\`)
}

func (c Context) lookup(name string) (string, error) {
	switch {
	case name == "Ext":
		return c.Ext, nil
	case name == "File":
		return c.File, nil
	case name == "Dir":
		return c.Dir, nil
	case name == "Dir_NoTrailingSlash":
		return c.dirNoTrailingSlash(), nil
	case name == "Path":
		return c.Path, nil
	case strings.HasPrefix(name, "Repo:"):
		repoName := name[len("Repo:"):]
		root, ok := c.Repos[repoName]
		if !ok {
			return "", fmt.Errorf("unknown repo %q in template", repoName)
		}
		return root, nil
	default:
		return "", fmt.Errorf("unknown template variable %q", name)
	}
}

// token is one parsed `{...}` reference, plus the position of the literal
// template text preceding it.
type token struct {
	// literal is the literal text immediately before this variable.
	literal string
	// name is the variable name (e.g. "Ext", "Repo:Assets").
	name string
	// hasSlice indicates whether a `[...]` slice specifier was present.
	hasSlice bool
	// sliceStart/sliceEnd are nil when that bound was omitted.
	sliceStart, sliceEnd *int
	// afterIsQuote records whether the template character immediately
	// following the closing brace is a double quote, which triggers the
	// backslash-doubling rule.
	afterIsQuote bool
}

// parse splits tmpl into a sequence of tokens and a final literal tail.
func parse(tmpl string) ([]token, string, error) {
	var tokens []token
	remaining := tmpl
	for {
		open := strings.IndexByte(remaining, '{')
		if open == -1 {
			return tokens, remaining, nil
		}
		closeIdx := strings.IndexByte(remaining[open:], '}')
		if closeIdx == -1 {
			return nil, "", errors.New("unterminated '{' in template")
		}
		closeIdx += open

		literal := remaining[:open]
		body := strings.TrimSpace(remaining[open+1 : closeIdx])

		name := body
		var hasSlice bool
		var start, end *int
		if bracket := strings.IndexByte(body, '['); bracket != -1 {
			if !strings.HasSuffix(body, "]") {
				return nil, "", fmt.Errorf("malformed slice in template variable %q", body)
			}
			name = strings.TrimSpace(body[:bracket])
			spec := strings.TrimSpace(body[bracket+1 : len(body)-1])
			hasSlice = true
			var err error
			start, end, err = parseSlice(spec)
			if err != nil {
				return nil, "", err
			}
		}
		if name == "" {
			return nil, "", errors.New("empty template variable name")
		}

		afterIsQuote := closeIdx+1 < len(remaining) && remaining[closeIdx+1] == '"'

		tokens = append(tokens, token{
			literal:      literal,
			name:         name,
			hasSlice:     hasSlice,
			sliceStart:   start,
			sliceEnd:     end,
			afterIsQuote: afterIsQuote,
		})
		remaining = remaining[closeIdx+1:]
	}
}

// parseSlice parses a Python-like slice specifier: "[start]", "[start:]",
// "[:end]", or "[start:end]". A bare "[n]" (no colon) is treated as the
// single-bound form "[n:n+1]"-equivalent only in the sense that start=n
// and end is left open, matching spec §4.6's enumeration of forms (it
// lists "[start]" alongside the colon forms as a distinct case, i.e. an
// open-ended slice from n to the end).
func parseSlice(spec string) (start, end *int, err error) {
	if spec == "" {
		return nil, nil, nil
	}
	colon := strings.IndexByte(spec, ':')
	if colon == -1 {
		n, err := strconv.Atoi(strings.TrimSpace(spec))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid slice index %q: %w", spec, err)
		}
		return &n, nil, nil
	}
	startPart := strings.TrimSpace(spec[:colon])
	endPart := strings.TrimSpace(spec[colon+1:])
	if startPart != "" {
		n, err := strconv.Atoi(startPart)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid slice start %q: %w", startPart, err)
		}
		start = &n
	}
	if endPart != "" {
		n, err := strconv.Atoi(endPart)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid slice end %q: %w", endPart, err)
		}
		end = &n
	}
	return start, end, nil
}

// ApplySlice applies Python-style slicing to s: negative indices count
// from the end, out-of-range bounds clamp rather than error, and a
// missing bound defaults to the corresponding end of the string.
func ApplySlice(s string, start, end *int) string {
	length := len(s)
	resolve := func(idx *int, def int) int {
		if idx == nil {
			return def
		}
		n := *idx
		if n < 0 {
			n += length
		}
		if n < 0 {
			n = 0
		}
		if n > length {
			n = length
		}
		return n
	}
	lo := resolve(start, 0)
	hi := resolve(end, length)
	if hi < lo {
		return ""
	}
	return s[lo:hi]
}

// Expand substitutes every `{...}` reference in tmpl using ctx, applying
// the backslash-before-quote escaping rule from spec §4.6.
func Expand(tmpl string, ctx Context) (string, error) {
	tokens, tail, err := parse(tmpl)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, t := range tokens {
		b.WriteString(t.literal)
		value, err := ctx.lookup(t.name)
		if err != nil {
			return "", err
		}
		if t.hasSlice {
			value = ApplySlice(value, t.sliceStart, t.sliceEnd)
		}
		b.WriteString(value)
		if t.afterIsQuote && strings.HasSuffix(value, `\`) {
			b.WriteByte('\\')
		}
	}
	b.WriteString(tail)
	return b.String(), nil
}

// ExpandPathResult is the result of expanding a single-file-resolution
// path template: the template must contain exactly one unsliced
// `{Repo:...}` reference at position 0, which is returned separately so
// the caller knows which repo owns RelativePath.
type ExpandPathResult struct {
	RepoName     string
	RelativePath string
}

// ExpandPath expands a path template under the single-file-resolution
// rule from spec §4.6: exactly one `{Repo:...}` must appear, at position
// 0, unsliced.
func ExpandPath(tmpl string, ctx Context) (ExpandPathResult, error) {
	tokens, tail, err := parse(tmpl)
	if err != nil {
		return ExpandPathResult{}, err
	}
	if len(tokens) == 0 || tokens[0].literal != "" || !strings.HasPrefix(tokens[0].name, "Repo:") {
		return ExpandPathResult{}, errors.New("path template must start with an unsliced {Repo:...} reference")
	}
	if tokens[0].hasSlice {
		return ExpandPathResult{}, errors.New("{Repo:...} reference may not be sliced")
	}
	for _, t := range tokens[1:] {
		if strings.HasPrefix(t.name, "Repo:") {
			return ExpandPathResult{}, errors.New("path template may contain only one {Repo:...} reference")
		}
	}

	repoName := tokens[0].name[len("Repo:"):]
	if _, ok := ctx.Repos[repoName]; !ok {
		return ExpandPathResult{}, fmt.Errorf("unknown repo %q in template", repoName)
	}

	var b strings.Builder
	for _, t := range tokens[1:] {
		b.WriteString(t.literal)
		value, err := ctx.lookup(t.name)
		if err != nil {
			return ExpandPathResult{}, err
		}
		if t.hasSlice {
			value = ApplySlice(value, t.sliceStart, t.sliceEnd)
		}
		b.WriteString(value)
		if t.afterIsQuote && strings.HasSuffix(value, `\`) {
			b.WriteByte('\\')
		}
	}
	b.WriteString(tail)
	return ExpandPathResult{RepoName: repoName, RelativePath: b.String()}, nil
}
