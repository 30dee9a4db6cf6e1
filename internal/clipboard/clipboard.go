// Package clipboard copies block output to the system clipboard.
package clipboard

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/mosaicterm/mosaicterm/internal/platform"
)

var ErrEmpty = errors.New("clipboard: no content to copy")

// CopyResult describes a successful copy.
type CopyResult struct {
	Method    string // "pbcopy", "xclip", "osc52", ...
	ByteSize  int
	LineCount int
}

// Copier writes text to the clipboard. The zero value uses the native
// tools for the detected platform; set OSC52 to fall back to the escape
// sequence on /dev/tty.
type Copier struct {
	// Commands overrides the native clipboard commands to try.
	Commands [][]string
	// OSC52 enables the escape-sequence fallback.
	OSC52 bool
	// TTY receives the OSC 52 sequence. Nil opens /dev/tty.
	TTY io.Writer
}

// Copy copies text with the default Copier, OSC 52 enabled when the
// outer terminal is likely to honour it.
func Copy(text string) (*CopyResult, error) {
	c := Copier{OSC52: SupportsOSC52(os.Getenv("TERM"))}
	return c.Copy(text)
}

// Copy tries each native command in order, then OSC 52.
func (c Copier) Copy(text string) (*CopyResult, error) {
	if text == "" {
		return nil, ErrEmpty
	}
	res := &CopyResult{ByteSize: len(text), LineCount: countLines(text)}

	cmds := c.Commands
	if cmds == nil {
		cmds = platform.ClipboardCommands()
	}
	var lastErr error
	for _, argv := range cmds {
		path, err := exec.LookPath(argv[0])
		if err != nil {
			lastErr = err
			continue
		}
		if err := runClipCmd(path, argv[1:], text); err != nil {
			lastErr = fmt.Errorf("%s: %w", argv[0], err)
			continue
		}
		res.Method = argv[0]
		return res, nil
	}

	if c.OSC52 {
		if err := c.writeOSC52(text); err != nil {
			return nil, fmt.Errorf("OSC 52 clipboard failed: %w", err)
		}
		res.Method = "osc52"
		return res, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("no clipboard method worked: %w", lastErr)
	}
	return nil, fmt.Errorf("no clipboard method available on %s (install xclip, xsel or wl-copy)", platform.Detect())
}

// runClipCmd executes a clipboard command, piping text to its stdin.
func runClipCmd(name string, args []string, text string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdin = strings.NewReader(text)
	return cmd.Run()
}

func (c Copier) writeOSC52(text string) error {
	seq := osc52Sequence(base64.StdEncoding.EncodeToString([]byte(text)), os.Getenv("TMUX") != "")
	if c.TTY != nil {
		_, err := io.WriteString(c.TTY, seq)
		return err
	}
	// bypass stdout, which the UI owns
	tty, err := os.OpenFile("/dev/tty", os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("cannot open /dev/tty: %w", err)
	}
	defer tty.Close()
	_, err = tty.WriteString(seq)
	return err
}

// osc52Sequence builds the set-clipboard sequence, wrapped in a DCS
// passthrough when running inside tmux.
func osc52Sequence(base64Content string, inTmux bool) string {
	osc := "\x1b]52;c;" + base64Content + "\x07"
	if inTmux {
		return "\x1bPtmux;\x1b" + osc + "\x1b\\"
	}
	return osc
}

// SupportsOSC52 guesses from TERM whether the outer terminal accepts OSC 52.
// The Linux console and dumb terminals do not.
func SupportsOSC52(term string) bool {
	switch term {
	case "", "dumb", "linux":
		return false
	}
	return true
}

// countLines counts lines; a trailing newline does not add one.
func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
