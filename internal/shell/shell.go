// Package shell knows how to launch the supported shells inside a session:
// which arguments and environment to use, which prompt patterns apply and
// whether the shell reports command boundaries itself.
package shell

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mosaicterm/mosaicterm/internal/logging"
	"github.com/mosaicterm/mosaicterm/internal/segment"
)

var shellLog = logging.ForComponent(logging.CompShell)

// Type is a shell family.
type Type string

const (
	Bash  Type = "bash"
	Zsh   Type = "zsh"
	Fish  Type = "fish"
	Posix Type = "sh" // sh, dash, ash, ksh, mksh
	Other Type = "other"
)

// DefaultTerm is the TERM value exported to the shell.
const DefaultTerm = "xterm-256color"

// Detect maps a shell path or name to its family.
func Detect(path string) Type {
	name := strings.ToLower(filepath.Base(path))
	name = strings.TrimPrefix(name, "-") // login shells
	switch name {
	case "bash":
		return Bash
	case "zsh":
		return Zsh
	case "fish":
		return Fish
	case "sh", "dash", "ash", "ksh", "mksh", "ksh93":
		return Posix
	default:
		return Other
	}
}

// Default returns the user's shell: $SHELL when it is set and executable,
// else the first of bash, zsh and sh found on PATH.
func Default() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		if p, err := exec.LookPath(sh); err == nil {
			return p
		}
	}
	for _, name := range []string{"bash", "zsh", "sh"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return "/bin/sh"
}

// Options are the configured launch parameters.
type Options struct {
	// Path is the shell executable; empty uses Default.
	Path string
	// Args replace the built-in arguments when non-empty. Shell integration
	// is only installed with the built-in arguments.
	Args []string
	// Env overrides individual variables.
	Env map[string]string
	// InheritEnv starts from the current process environment.
	InheritEnv bool
	Term       string
}

// Launch is everything needed to start and segment one shell.
type Launch struct {
	Path string
	Args []string
	Env  map[string]string
	Type Type
	// Integrated is true when the shell emits OSC 133;D after every command,
	// so boundaries and exit codes are exact.
	Integrated bool
	// Patterns are the prompt patterns for the pattern detector.
	Patterns *segment.RawPatterns
}

// promptCommand reports the working directory and the last exit status after
// every command. The directory goes first so a block's boundary never races
// ahead of the cwd update.
const promptCommand = `__mosaic_status=$?; printf '\033]7;file://%s%s\007\033]133;D;%s\007' "${HOSTNAME:-localhost}" "$PWD" "$__mosaic_status"`

// zshPrompt is a PS1 made only of the same two marks; %? is the last status.
const zshPrompt = "%{\x1b]7;file://%m%/\x07\x1b]133;D;%?\x07%}"

// posixPrompt relies on PS1 parameter expansion, which POSIX shells apply
// before every prompt.
const posixPrompt = "\x1b]7;file://${HOSTNAME:-localhost}${PWD}\x07\x1b]133;D;$?\x07"

// fishInit replaces fish's prompt with the marks and silences the greeting.
const fishInit = `set -g fish_greeting ''; ` +
	`function fish_prompt; set -l s $status; printf '\e]7;file://%s%s\a\e]133;D;%s\a' $hostname $PWD $s; end; ` +
	`function fish_right_prompt; end`

// Prepare resolves launch parameters for opts.
func Prepare(opts Options) Launch {
	path := opts.Path
	if path == "" {
		path = Default()
	}
	l := Launch{
		Path: path,
		Type: Detect(path),
		Env:  Environ(opts.InheritEnv, os.Environ()),
	}
	term := opts.Term
	if term == "" {
		term = DefaultTerm
	}
	l.Env["TERM"] = term
	l.Patterns = segment.DefaultRawPatterns(string(l.Type))

	custom := len(opts.Args) > 0
	switch l.Type {
	case Bash:
		l.Args = []string{"--noprofile", "--norc", "--noediting", "-i"}
		l.Env["PS1"] = ""
		l.Env["PS2"] = ""
		l.Env["PROMPT_COMMAND"] = promptCommand
		l.Env["BASH_SILENCE_DEPRECATION_WARNING"] = "1"
		l.Integrated = !custom
	case Zsh:
		l.Args = []string{"-f", "-o", "nozle", "-o", "nopromptsp", "-o", "nopromptcr", "-i"}
		l.Env["PS1"] = zshPrompt
		l.Env["PS2"] = ""
		l.Env["RPS1"] = ""
		l.Integrated = !custom
	case Fish:
		l.Args = []string{"--no-config", "--init-command", fishInit, "-i"}
		l.Integrated = !custom
	case Posix:
		l.Args = []string{"-i"}
		l.Env["PS1"] = posixPrompt
		l.Env["PS2"] = ""
		l.Integrated = !custom
	default:
		l.Args = []string{"-i"}
	}
	if custom {
		l.Args = append([]string(nil), opts.Args...)
	}
	for k, v := range opts.Env {
		l.Env[k] = v
	}

	shellLog.Debug("shell_prepared",
		"path", l.Path,
		"type", string(l.Type),
		"integrated", l.Integrated,
		"args", strings.Join(l.Args, " "))
	return l
}

// Environ builds the base child environment. Without inherit only the
// variables a shell needs to find programs and the user's home survive.
func Environ(inherit bool, environ []string) map[string]string {
	keep := map[string]bool{
		"PATH": true, "HOME": true, "USER": true, "LOGNAME": true,
		"LANG": true, "LC_ALL": true, "LC_CTYPE": true, "TMPDIR": true,
		"SHELL": true, "TZ": true,
	}
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		if inherit || keep[k] {
			env[k] = v
		}
	}
	// never leak our own integration into a nested shell
	delete(env, "PROMPT_COMMAND")
	return env
}

// FenceCommand is the command line that restores sane terminal modes and
// prints the fence mark for token. Any POSIX-ish shell runs it.
func FenceCommand(token string) string {
	return fmt.Sprintf(`stty sane -echo 2>/dev/null; printf '\033]133;F;%%s\007' '%s'`, token)
}
