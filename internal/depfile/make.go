package depfile

import (
	"errors"
	"regexp"
	"strings"
)

// absolutePathPattern recognizes a Windows-style absolute path (a drive
// letter followed by a separator), which is the form Make-style dep-files
// produced by compilers actually emit.
var absolutePathPattern = regexp.MustCompile(`^[A-Za-z]:[\\/]`)

// escapableAfterBackslash lists the characters that are literal when
// preceded by a backslash, per spec §4.5.
const escapableAfterBackslash = " \\:[]#"

// joinContinuations collapses Make-style line continuations (a line
// ending in " \" followed by LF or CRLF) into their following line.
func joinContinuations(text string) string {
	var b strings.Builder
	i := 0
	for i < len(text) {
		if text[i] == '\\' && i+1 < len(text) {
			rest := text[i+1:]
			if strings.HasPrefix(rest, "\r\n") {
				b.WriteByte(' ')
				i += 3
				continue
			}
			if strings.HasPrefix(rest, "\n") {
				b.WriteByte(' ')
				i += 2
				continue
			}
		}
		b.WriteByte(text[i])
		i++
	}
	return b.String()
}

// findUnescapedColon finds the first ':' not preceded by an unescaped
// backslash-escape sequence for ':' itself (i.e. the rule separator, as
// opposed to a ':' that's part of an escaped path like "C\:\\Windows").
func findUnescapedColon(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			continue
		}
		if s[i] == ':' {
			return i
		}
	}
	return -1
}

// tokenize splits s on whitespace runs that are not escaped, preserving
// escape sequences within each token for cleanupPath to resolve.
func tokenize(s string) []string {
	var tokens []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			current.WriteByte(c)
			current.WriteByte(s[i+1])
			i++
			continue
		}
		if c == ' ' || c == '\t' || c == '\r' || c == '\n' {
			flush()
			continue
		}
		current.WriteByte(c)
	}
	flush()
	return tokens
}

// cleanupPath unescapes a single Make dep-file token: a backslash
// followed by one of " \\:[]#" becomes that literal character, "$$"
// becomes a literal "$", and every other character passes through
// unchanged.
func cleanupPath(token string) string {
	var b strings.Builder
	b.Grow(len(token))
	for i := 0; i < len(token); i++ {
		c := token[i]
		if c == '\\' && i+1 < len(token) && strings.IndexByte(escapableAfterBackslash, token[i+1]) != -1 {
			b.WriteByte(token[i+1])
			i++
			continue
		}
		if c == '$' && i+1 < len(token) && token[i+1] == '$' {
			b.WriteByte('$')
			i++
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// parseMake implements the Makefile-rule prerequisite grammar from spec
// §4.5: only the prerequisite list is consumed, the target is discarded.
func parseMake(content []byte, resolve func(absolutePath string) (repo, relativePath string, err error)) (Result, error) {
	joined := joinContinuations(string(content))
	colon := findUnescapedColon(joined)
	if colon == -1 {
		return Result{}, errors.New("make dep-file missing ':' rule separator")
	}

	var inputs []Entry
	for _, tok := range tokenize(joined[colon+1:]) {
		path := cleanupPath(tok)
		if path == "" {
			continue
		}
		entry := Entry{Path: path}
		if absolutePathPattern.MatchString(path) {
			if resolve == nil {
				return Result{}, errors.New("make dep-file contains an absolute path but no repo resolver was provided")
			}
			repo, relativePath, err := resolve(path)
			if err != nil {
				return Result{}, err
			}
			entry = Entry{Repo: repo, Path: relativePath}
		}
		inputs = append(inputs, entry)
	}
	return Result{Inputs: inputs}, nil
}
