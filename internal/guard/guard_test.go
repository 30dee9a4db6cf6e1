package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	g := New()
	tests := []struct {
		command  string
		want     bool
		program  string
		category Category
	}{
		{"vim", true, "vim", CategoryEditor},
		{"vim -R readonly.txt", true, "vim", CategoryEditor},
		{"\t\thtop", true, "htop", CategoryMonitor},
		{"/usr/bin/less file.txt", true, "less", CategoryPager},
		{"top -d 1", true, "top", CategoryMonitor},
		{"tmux attach", true, "tmux", CategoryMultiplexer},
		{"python3", true, "python3", CategoryREPL},
		{"ssh prod", true, "ssh", CategoryRemote},
		{"ssh -p 2222 -i ~/.ssh/id deploy@prod", true, "ssh", CategoryRemote},
		{"mosh prod", true, "mosh", CategoryRemote},
		{"telnet 10.0.0.1 23", true, "telnet", CategoryRemote},
		{"ssh prod uptime", false, "", ""},
		{"ssh -p2222 prod 'df -h'", false, "", ""},
		{"ssh -N -L 8080:localhost:80 prod", false, "", ""},
		{"ls -la", false, "", ""},
		{"echo vim", false, "", ""},
		{"grep htop notes.txt", false, "", ""},
		{"vimdiff a b", false, "", ""},
		{"", false, "", ""},
		{"   ", false, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			w, ok := g.Classify(tt.command)
			assert.Equal(t, tt.want, ok)
			if tt.want {
				assert.Equal(t, tt.program, w.Program)
				assert.Equal(t, tt.category, w.Category)
				assert.Contains(t, w.Message, tt.program)
			}
		})
	}
}

func TestExtraPrograms(t *testing.T) {
	g := New("k9s", " ", "vim")
	w, ok := g.Classify("k9s --context prod")
	require.True(t, ok)
	assert.Equal(t, CategoryCustom, w.Category)

	// extras never downgrade a curated entry
	w, ok = g.Classify("vim")
	require.True(t, ok)
	assert.Equal(t, CategoryEditor, w.Category)

	g.SetExtra(nil)
	_, ok = g.Classify("k9s")
	assert.False(t, ok)
	assert.Contains(t, g.Programs(), "htop")
}

func TestSSHRunsCommand(t *testing.T) {
	tests := []struct {
		args []string
		want bool
	}{
		{nil, false},
		{[]string{"host"}, false},
		{[]string{"-v", "host"}, false},
		{[]string{"-o", "BatchMode=yes", "host"}, false},
		{[]string{"-l", "me", "host", "ls"}, true},
		{[]string{"-Ap", "22", "host"}, false},
		{[]string{"--", "host"}, false},
		{[]string{"--", "host", "ls"}, true},
		{[]string{"-W", "db:5432", "bastion"}, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sshRunsCommand(tt.args), "%v", tt.args)
	}
}

func TestSuspicious(t *testing.T) {
	g := New()
	assert.False(t, g.Suspicious(0, false))
	assert.False(t, g.Suspicious(DefaultCursorHintThreshold, false))
	assert.True(t, g.Suspicious(DefaultCursorHintThreshold+1, false))
	assert.True(t, g.Suspicious(0, true))

	g.SetCursorHintThreshold(2)
	assert.True(t, g.Suspicious(3, false))
	g.SetCursorHintThreshold(0)
	assert.False(t, g.Suspicious(3, false))
}

func TestCommandName(t *testing.T) {
	assert.Equal(t, "ls", CommandName("ls -la"))
	assert.Equal(t, "nvim", CommandName("  /opt/bin/nvim  x"))
	assert.Equal(t, "", CommandName(""))
}

func TestRecoverySequence(t *testing.T) {
	assert.Equal(t, "\x1b[0m\x1b[?25h\x1b[?1049l\x1b[2J\x1b[H", RecoverySequence)
}
