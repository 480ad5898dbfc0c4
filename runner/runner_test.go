package runner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tangled.sh/tangled.sh/deployer/config"
	"tangled.sh/tangled.sh/deployer/models"
)

type recordingShell struct {
	commands []string
	output   string
	err      error
}

func (s *recordingShell) Exec(_ context.Context, command string) (string, error) {
	s.commands = append(s.commands, command)
	return s.output, s.err
}

func environment(t *testing.T, doc string) *config.Environment {
	t.Helper()
	env, err := config.ParseEnvironment("test", []byte(doc))
	require.NoError(t, err)
	return env
}

const releasesYAML = `
deployment:
  to: /var/www/app/
  user: deploy
  host: web-1
release:
  enabled: true
  directory: releases
`

func TestRunRoutesByStage(t *testing.T) {
	env := environment(t, releasesYAML).WithReleaseID("7")

	tests := []struct {
		stage  models.Stage
		remote bool
	}{
		{models.StagePreDeploy, false},
		{models.StageDeploy, true},
		{models.StagePostRelease, true},
		{models.StagePostDeploy, false},
	}

	for _, tt := range tests {
		t.Run(tt.stage.String(), func(t *testing.T) {
			sh := &recordingShell{}
			ok, _ := New(env, tt.stage, WithShell(sh)).Run(context.Background(), "echo hi")
			require.True(t, ok)
			require.Len(t, sh.commands, 1)

			if tt.remote {
				assert.Contains(t, sh.commands[0], "ssh ")
				assert.Contains(t, sh.commands[0], `cd /var/www/app/releases/7 && echo hi`)
			} else {
				assert.Equal(t, "echo hi", sh.commands[0])
			}
		})
	}
}

func TestRemoteEndToEnd(t *testing.T) {
	env := environment(t, releasesYAML).WithReleaseID("7")
	sh := &recordingShell{}

	ok, _ := New(env, models.StageDeploy, WithShell(sh)).Remote(context.Background(), "echo hi", true)
	require.True(t, ok)

	want := `ssh -p 22 -q -o StrictHostKeyChecking=no -o UserKnownHostsFile=/dev/null deploy@web-1 "sh -c \"cd /var/www/app/releases/7 && echo hi\""`
	assert.Equal(t, want, sh.commands[0])
}

func TestRemoteReleaseAware(t *testing.T) {
	env := environment(t, releasesYAML).WithReleaseID("7")
	sh := &recordingShell{}

	r := New(env, models.StageDeploy, WithShell(sh), WithReleaseAware(true))
	r.Remote(context.Background(), "ls", true)
	assert.Contains(t, sh.commands[0], `"sh -c \"cd /var/www/app && ls\""`)

	sh.commands = nil
	New(env, models.StageDeploy, WithShell(sh)).AsReleaseAware().Remote(context.Background(), "ls", true)
	assert.Contains(t, sh.commands[0], `cd /var/www/app && ls`)
}

func TestRemoteWithoutCd(t *testing.T) {
	env := environment(t, releasesYAML).WithReleaseID("7")
	sh := &recordingShell{}

	New(env, models.StageDeploy, WithShell(sh)).Remote(context.Background(), "uptime", false)
	assert.Contains(t, sh.commands[0], `"sh -c \"uptime\""`)
}

func TestRemoteEscapesQuotes(t *testing.T) {
	env := environment(t, "deployment:\n  to: /srv\n  host: h\n")
	body := RemoteBody(env, `echo "a b"`, true, false)
	assert.Equal(t, `cd /srv && echo \"a b\"`, body)

	// only double quotes are escaped; everything else passes through verbatim
	body = RemoteBody(env, `echo $HOME; rm -rf 'x'`, false, false)
	assert.Equal(t, `echo $HOME; rm -rf 'x'`, body)
}

func TestReleaseSuffix(t *testing.T) {
	disabled := environment(t, "deployment:\n  to: /srv\n").WithReleaseID("7")
	assert.Empty(t, ReleaseSuffix(disabled, false))

	enabled := environment(t, releasesYAML).WithReleaseID("7")
	assert.Equal(t, "/releases/7", ReleaseSuffix(enabled, false))
	assert.Empty(t, ReleaseSuffix(enabled, true))
}

func TestSSHPrefix(t *testing.T) {
	env := environment(t, `
deployment:
  to: /srv
  host: web-1:2222
  identity-file: /keys/deploy
  timeout: 5
general:
  ssh_needs_tty: true
`)
	want := "ssh -i /keys/deploy -t -p 2222 -q -o StrictHostKeyChecking=no -o UserKnownHostsFile=/dev/null -o ConnectTimeout=5 web-1"
	assert.Equal(t, want, SSHPrefix("", env))
	assert.Equal(t, "/usr/bin/ssh"+want[3:], SSHPrefix("/usr/bin/ssh", env))
}

func TestLocalReportsFailure(t *testing.T) {
	env := environment(t, releasesYAML)
	sh := &recordingShell{output: "boom\n", err: errors.New("exit status 1")}

	ok, out := New(env, models.StagePreDeploy, WithShell(sh)).Local(context.Background(), "false")
	assert.False(t, ok)
	assert.Equal(t, "boom", out)
	assert.Len(t, sh.commands, 1, "commands are never retried")
}

func TestLocalShell(t *testing.T) {
	sh := LocalShell{}

	out, err := sh.Exec(context.Background(), "echo hello; echo oops 1>&2")
	require.NoError(t, err)
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "oops")

	_, err = sh.Exec(context.Background(), "exit 3")
	assert.ErrorContains(t, err, "exit code: 3")
}
