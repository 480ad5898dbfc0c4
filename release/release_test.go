package release

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tangled.sh/tangled.sh/deployer/config"
	"tangled.sh/tangled.sh/deployer/models"
	"tangled.sh/tangled.sh/deployer/runner"
)

func environment(t *testing.T, doc string) *config.Environment {
	t.Helper()
	env, err := config.ParseEnvironment("test", []byte(doc))
	require.NoError(t, err)
	return env
}

func TestReleasesAware(t *testing.T) {
	enabled := environment(t, "release:\n  enabled: true\n  directory: releases\n").WithReleaseID("42")
	assert.Equal(t, "cd releases/42 && ls -la", NewResolver(enabled).ReleasesAware("ls -la"))

	disabled := environment(t, "release:\n  enabled: false\n").WithReleaseID("42")
	assert.Equal(t, "ls -la", NewResolver(disabled).ReleasesAware("ls -la"))
}

func TestCacheAware(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		git   string
		rsync string
	}{
		{
			name:  "extras disabled",
			doc:   "extras:\n  enabled: false\n  vcs:\n    enabled: true\n  rsync:\n    enabled: true\n",
			git:   "cmd",
			rsync: "cmd",
		},
		{
			name:  "vcs disabled",
			doc:   "extras:\n  enabled: true\n  vcs:\n    enabled: false\n",
			git:   "cmd",
			rsync: "cmd",
		},
		{
			name:  "defaults",
			doc:   "extras:\n  enabled: true\n  vcs:\n    enabled: true\n  rsync:\n    enabled: true\n",
			git:   "cd shared/git-remote-cache && cmd",
			rsync: "cd shared/rsync-remote-cache && cmd",
		},
		{
			name:  "custom directories",
			doc:   "extras:\n  enabled: true\n  directory: cache\n  vcs:\n    enabled: true\n    directory: git\n  rsync:\n    enabled: false\n    directory: rs\n",
			git:   "cd cache/git && cmd",
			rsync: "cmd",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(environment(t, tt.doc))
			assert.Equal(t, tt.git, r.GitCacheAware("cmd"))
			assert.Equal(t, tt.rsync, r.RsyncCacheAware("cmd"))
		})
	}
}

// fakeHost keeps just enough remote state to answer the archive probe.
type fakeHost struct {
	packed   map[string]bool
	commands []string
	fail     string
}

func (h *fakeHost) Remote(_ context.Context, command string, _ bool) (bool, string) {
	h.commands = append(h.commands, command)
	if h.fail != "" && strings.Contains(command, h.fail) {
		return false, "ssh: connect to host web-1 port 22: Connection refused"
	}

	switch {
	case strings.HasPrefix(command, "test -e "):
		for id, packed := range h.packed {
			if packed && strings.Contains(command, "/"+id+".tar.gz") {
				return true, "true"
			}
		}
		return true, ""
	case strings.HasPrefix(command, "mv "):
		h.packed[strings.Fields(command)[1][len("releases/"):]] = true
	case strings.HasPrefix(command, "tar xfz "):
		for id := range h.packed {
			if strings.Contains(command, "/"+id+".tar.gz") {
				h.packed[id] = false
			}
		}
	}
	return true, ""
}

func (h *fakeHost) mutations() int {
	n := 0
	for _, c := range h.commands {
		if !strings.HasPrefix(c, "test -e ") {
			n++
		}
	}
	return n
}

func packager(t *testing.T, h *fakeHost) Packager {
	env := environment(t, "release:\n  enabled: true\n")
	return NewPackagerWith(env, h)
}

func TestTarRelease(t *testing.T) {
	h := &fakeHost{packed: map[string]bool{}}
	p := packager(t, h)

	require.True(t, p.Tar(context.Background(), "42"))
	require.Len(t, h.commands, 2)
	assert.Equal(t, `test -e releases/42/42.tar.gz && echo "true" || echo ""`, h.commands[0])
	assert.Equal(t, "mv releases/42 releases/42_tmp/ && mkdir releases/42 && tar cfz releases/42/42.tar.gz releases/42_tmp/ && rm -rf releases/42_tmp/", h.commands[1])

	// idempotent: no further mutation once packed
	assert.True(t, p.Tar(context.Background(), "42"))
	assert.True(t, p.Tar(context.Background(), "42"))
	assert.Equal(t, 1, h.mutations())
}

func TestUntarRelease(t *testing.T) {
	h := &fakeHost{packed: map[string]bool{"42": true}}
	p := packager(t, h)

	require.True(t, p.Untar(context.Background(), "42"))
	assert.Equal(t, "tar xfz releases/42/42.tar.gz && rm -rf releases/42 && mv releases/42_tmp/ releases/42", h.commands[1])

	assert.True(t, p.Untar(context.Background(), "42"))
	assert.Equal(t, 1, h.mutations())
}

func TestUntarWithoutArchiveIsNoop(t *testing.T) {
	h := &fakeHost{packed: map[string]bool{}}
	assert.True(t, packager(t, h).Untar(context.Background(), "7"))
	assert.Zero(t, h.mutations())
}

func TestProbeFailureIsFailure(t *testing.T) {
	h := &fakeHost{packed: map[string]bool{}, fail: "test -e"}
	p := packager(t, h)

	assert.False(t, p.Tar(context.Background(), "42"))
	assert.False(t, p.Untar(context.Background(), "42"))
	assert.Zero(t, h.mutations())

	_, err := p.IsPacked(context.Background(), "42")
	assert.ErrorIs(t, err, ErrProbeFailed)
}

func TestPartialChainIsNotRolledBack(t *testing.T) {
	h := &fakeHost{packed: map[string]bool{}, fail: "mv releases/42"}
	p := packager(t, h)

	assert.False(t, p.Tar(context.Background(), "42"))
	// a single chained invocation, nothing issued afterwards to repair it
	assert.Equal(t, 1, h.mutations())
}

type recordingShell struct{ commands []string }

func (s *recordingShell) Exec(_ context.Context, command string) (string, error) {
	s.commands = append(s.commands, command)
	return "", nil
}

func TestNewPackagerChangesIntoDeployTarget(t *testing.T) {
	env := environment(t, "deployment:\n  to: /srv/app\n  host: web-1\nrelease:\n  enabled: true\n").WithReleaseID("9")
	sh := &recordingShell{}
	r := runner.New(env, models.StageDeploy, runner.WithShell(sh))

	require.True(t, NewPackager(r).Tar(context.Background(), "8"))
	require.Len(t, sh.commands, 2)
	assert.Contains(t, sh.commands[0], `cd /srv/app && test -e releases/8/8.tar.gz`)
	assert.NotContains(t, sh.commands[0], "releases/9")
}
