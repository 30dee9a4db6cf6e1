package vt

import (
	"net/url"
	"strconv"
	"strings"
)

// dispatchOSC turns a completed OSC payload into a ShellMark event when it
// is one of the shell-integration sequences. Titles, hyperlinks, palette
// changes and the rest are consumed silently.
func (p *Parser) dispatchOSC() {
	payload := string(p.osc)
	p.osc = p.osc[:0]

	code, rest, _ := strings.Cut(payload, ";")
	switch code {
	case "133":
		if m, ok := parsePromptMark(rest); ok {
			p.emit(ShellMark(m))
		}
	case "7":
		if dir, ok := parseWorkingDirectory(rest); ok {
			p.emit(ShellMark(Mark{Kind: MarkWorkingDirectory, Value: dir}))
		}
	}
}

// parsePromptMark decodes the FinalTerm semantic prompt marks (A, B, C, D)
// plus the private F fence mark.
func parsePromptMark(s string) (Mark, bool) {
	fields := strings.Split(s, ";")
	switch fields[0] {
	case "A":
		return Mark{Kind: MarkPromptStart}, true
	case "B":
		return Mark{Kind: MarkCommandStart}, true
	case "C":
		return Mark{Kind: MarkCommandExecuted}, true
	case "D":
		m := Mark{Kind: MarkCommandFinished}
		if len(fields) > 1 {
			if code, err := strconv.Atoi(strings.TrimSpace(fields[1])); err == nil {
				m.ExitCode, m.HasExitCode = code, true
			}
		}
		return m, true
	case "F":
		if len(fields) < 2 || fields[1] == "" {
			return Mark{}, false
		}
		return Mark{Kind: MarkFence, Value: fields[1]}, true
	}
	return Mark{}, false
}

// parseWorkingDirectory extracts the path from an OSC 7 file URL. A bare
// absolute path is accepted as well.
func parseWorkingDirectory(s string) (string, bool) {
	if strings.HasPrefix(s, "/") {
		return s, true
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme != "file" || u.Path == "" {
		return "", false
	}
	return u.Path, true
}
