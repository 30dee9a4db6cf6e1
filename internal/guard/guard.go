// Package guard recognises commands that take over the terminal and do not
// fit the block model: full-screen editors, pagers, monitors, multiplexers,
// file managers, REPLs and remote shells. It only warns; it never blocks
// execution.
package guard

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mosaicterm/mosaicterm/internal/logging"
)

var guardLog = logging.ForComponent(logging.CompGuard)

// Category groups known programs.
type Category string

const (
	CategoryEditor      Category = "editor"
	CategoryMonitor     Category = "monitor"
	CategoryPager       Category = "pager"
	CategoryMultiplexer Category = "multiplexer"
	CategoryFileManager Category = "file-manager"
	CategoryTUI         Category = "tui"
	CategoryREPL        Category = "repl"
	CategoryRemote      Category = "remote"
	CategoryCustom      Category = "custom"
)

// DefaultPrograms is the curated deny-list of full-screen programs.
var DefaultPrograms = map[string]Category{
	"vim": CategoryEditor, "nvim": CategoryEditor, "vi": CategoryEditor,
	"nano": CategoryEditor, "emacs": CategoryEditor, "helix": CategoryEditor,
	"hx": CategoryEditor, "micro": CategoryEditor,

	"top": CategoryMonitor, "htop": CategoryMonitor, "btop": CategoryMonitor,
	"gotop": CategoryMonitor, "ytop": CategoryMonitor, "atop": CategoryMonitor,

	"less": CategoryPager, "more": CategoryPager, "man": CategoryPager,

	"tmux": CategoryMultiplexer, "screen": CategoryMultiplexer,

	"ranger": CategoryFileManager, "nnn": CategoryFileManager,
	"mc": CategoryFileManager, "vifm": CategoryFileManager,

	"ncdu": CategoryTUI, "cmus": CategoryTUI, "weechat": CategoryTUI,
	"irssi": CategoryTUI, "mutt": CategoryTUI, "ncmpcpp": CategoryTUI,
}

// DefaultREPLs read from the terminal until they exit. They do not draw full
// screen, but they never return to the prompt on their own.
var DefaultREPLs = []string{"python", "python3", "node", "irb", "ruby"}

// DefaultRemotes open a shell on another host. Their prompts come from the
// remote shell, which carries no integration marks.
var DefaultRemotes = []string{"ssh", "mosh", "telnet", "et"}

// sshValueFlags are the ssh options that consume the next argument.
const sshValueFlags = "BbcDEeFIiJLlmOopQRSWw"

// RecoverySequence resets terminal state after a full-screen program was
// killed: attributes reset, cursor shown, alternate screen left, screen
// cleared and cursor homed.
const RecoverySequence = "\x1b[0m\x1b[?25h\x1b[?1049l\x1b[2J\x1b[H"

// DefaultCursorHintThreshold is how many cursor movements a plain command may
// attempt before it is treated as drawing a screen.
const DefaultCursorHintThreshold = 32

// Warning is returned for a command that is expected to misbehave in block
// mode.
type Warning struct {
	Program  string   `json:"program"`
	Category Category `json:"category"`
	Message  string   `json:"message"`
}

func (w Warning) String() string {
	return w.Message
}

// Guard classifies command lines. It is safe for concurrent use.
type Guard struct {
	mu        sync.RWMutex
	programs  map[string]Category
	threshold int
}

// New returns a guard over DefaultPrograms and DefaultREPLs plus extra
// program names.
func New(extra ...string) *Guard {
	g := &Guard{threshold: DefaultCursorHintThreshold}
	g.SetExtra(extra)
	return g
}

// SetExtra replaces the user-configured program names.
func (g *Guard) SetExtra(extra []string) {
	programs := make(map[string]Category, len(DefaultPrograms)+len(DefaultREPLs)+len(DefaultRemotes)+len(extra))
	for name, c := range DefaultPrograms {
		programs[name] = c
	}
	for _, name := range DefaultREPLs {
		programs[name] = CategoryREPL
	}
	for _, name := range DefaultRemotes {
		programs[name] = CategoryRemote
	}
	for _, name := range extra {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := programs[name]; !ok {
			programs[name] = CategoryCustom
		}
	}
	g.mu.Lock()
	g.programs = programs
	g.mu.Unlock()
	if len(extra) > 0 {
		guardLog.Debug("guard_programs_updated", "extra", len(extra), "total", len(programs))
	}
}

// SetCursorHintThreshold changes the Suspicious threshold. n <= 0 restores
// the default.
func (g *Guard) SetCursorHintThreshold(n int) {
	if n <= 0 {
		n = DefaultCursorHintThreshold
	}
	g.mu.Lock()
	g.threshold = n
	g.mu.Unlock()
}

// Programs returns the known program names, sorted.
func (g *Guard) Programs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.programs))
	for name := range g.programs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// CommandName returns the program a command line starts with: the base name
// of its first whitespace-delimited token.
func CommandName(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return filepath.Base(fields[0])
}

// Classify reports whether command starts a known interactive program.
func (g *Guard) Classify(command string) (Warning, bool) {
	name := CommandName(command)
	if name == "" {
		return Warning{}, false
	}
	g.mu.RLock()
	c, ok := g.programs[name]
	g.mu.RUnlock()
	if !ok {
		return Warning{}, false
	}
	if name == "ssh" && sshRunsCommand(strings.Fields(command)[1:]) {
		// ssh host cmd runs cmd and returns like any other command
		return Warning{}, false
	}
	return Warning{Program: name, Category: c, Message: message(name, c)}, true
}

// sshRunsCommand reports whether ssh arguments name a remote command after
// the destination. -N and -W never open a shell either.
func sshRunsCommand(args []string) bool {
	dest := false
	for i := 0; i < len(args); i++ {
		a := args[i]
		if dest {
			return true
		}
		if a == "--" {
			dest = i+1 < len(args)
			i++
			continue
		}
		if len(a) > 1 && a[0] == '-' {
			for j := 1; j < len(a); j++ {
				if a[j] == 'N' || a[j] == 'W' {
					return true
				}
				if strings.IndexByte(sshValueFlags, a[j]) >= 0 {
					if j == len(a)-1 {
						i++ // value is the next argument
					}
					break
				}
			}
			continue
		}
		dest = true
	}
	return false
}

func message(name string, c Category) string {
	switch c {
	case CategoryREPL:
		return fmt.Sprintf("%s reads from the terminal until it exits; its block stays open until then", name)
	case CategoryPager:
		return fmt.Sprintf("%s is a pager and draws full screen; pipe to cat for block output", name)
	case CategoryRemote:
		return fmt.Sprintf("%s opens a remote shell; its prompts are guessed until the connection closes", name)
	default:
		return fmt.Sprintf("%s is a full-screen %s and is not supported in block mode; kill it to recover", name, c)
	}
}

// Suspicious reports whether a running command behaves like a full-screen
// program it was not classified as: it switched to the alternate screen or
// moved the cursor more than the threshold allows.
func (g *Guard) Suspicious(cursorHints int, altScreen bool) bool {
	if altScreen {
		return true
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return cursorHints > g.threshold
}
