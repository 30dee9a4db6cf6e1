package segment

import (
	"fmt"
	"regexp"
	"strings"
)

// RawPatterns holds prompt patterns in string form before compilation.
// Patterns prefixed with "re:" are compiled as regular expressions and must
// match at the end of the line; everything else is a literal line suffix.
type RawPatterns struct {
	PromptPatterns []string
}

// Patterns holds compiled prompt patterns.
type Patterns struct {
	Strings []string
	Regexps []*regexp.Regexp
}

// DefaultRawPatterns returns the built-in prompt patterns for a shell name.
// Unknown shells get the generic set.
func DefaultRawPatterns(shellName string) *RawPatterns {
	switch strings.ToLower(shellName) {
	case "bash", "sh", "dash", "ksh", "mksh", "ash":
		return &RawPatterns{PromptPatterns: []string{`re:[$#] $`}}
	case "zsh":
		return &RawPatterns{PromptPatterns: []string{`re:[%#] $`}}
	case "fish":
		return &RawPatterns{PromptPatterns: []string{`re:[>#] $`}}
	default:
		return &RawPatterns{PromptPatterns: []string{`re:[$#%>] $`}}
	}
}

// RemoteRawPatterns match a whole unterminated line ending in a prompt
// terminator, the shape of most remote shells' prompts ("me@host:~$ ").
func RemoteRawPatterns() *RawPatterns {
	return &RawPatterns{PromptPatterns: []string{`re:^.*[$#%>] $`}}
}

// MergeRawPatterns appends extra patterns to the defaults, dropping duplicates.
func MergeRawPatterns(defaults, extra *RawPatterns) *RawPatterns {
	if defaults == nil && extra == nil {
		return nil
	}
	out := &RawPatterns{}
	seen := make(map[string]bool)
	for _, src := range []*RawPatterns{defaults, extra} {
		if src == nil {
			continue
		}
		for _, p := range src.PromptPatterns {
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			out.PromptPatterns = append(out.PromptPatterns, p)
		}
	}
	return out
}

// CompilePatterns compiles raw patterns. An invalid regular expression is an
// error; callers that load user configuration report it instead of silently
// dropping the pattern.
func CompilePatterns(raw *RawPatterns) (*Patterns, error) {
	out := &Patterns{}
	if raw == nil {
		return out, nil
	}
	for _, p := range raw.PromptPatterns {
		if expr, ok := strings.CutPrefix(p, "re:"); ok {
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("compile prompt pattern %q: %w", p, err)
			}
			out.Regexps = append(out.Regexps, re)
			continue
		}
		if p != "" {
			out.Strings = append(out.Strings, p)
		}
	}
	return out, nil
}

// Empty reports whether no patterns are configured.
func (p *Patterns) Empty() bool {
	return p == nil || (len(p.Strings) == 0 && len(p.Regexps) == 0)
}

// MatchSuffix reports whether line ends with a prompt, and the prompt's
// length in bytes.
func (p *Patterns) MatchSuffix(line string) (int, bool) {
	if p == nil || line == "" {
		return 0, false
	}
	for _, s := range p.Strings {
		if strings.HasSuffix(line, s) {
			return len(s), true
		}
	}
	for _, re := range p.Regexps {
		locs := re.FindAllStringIndex(line, -1)
		for i := len(locs) - 1; i >= 0; i-- {
			if locs[i][1] == len(line) {
				return len(line) - locs[i][0], true
			}
		}
	}
	return 0, false
}
