package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tangled.sh/tangled.sh/deployer/models"
)

const productionYAML = `
deployment:
  user: deploy
  to: /var/www/app/
  hosts:
    - web-1.example.com
    - web-2.example.com:2222
  identity-file: ~/.ssh/deploy
  timeout: 10
release:
  enabled: true
  max: 5
extras:
  enabled: true
  vcs:
    enabled: false
general:
  ssh_needs_tty: yes
parameters:
  branch: main
tasks:
  pre-deploy:
    - shell/exec:
        command: make build
  on-deploy:
    - composer/install
    - shell/exec:
        command: php artisan migrate
        in-release: true
  post-release:
    - shell/exec:
  post-deploy: []
`

func parse(t *testing.T) *Environment {
	t.Helper()
	env, err := ParseEnvironment("production", []byte(productionYAML))
	require.NoError(t, err)
	return env
}

func TestLookups(t *testing.T) {
	env := parse(t)

	assert.Equal(t, "deploy", env.Deployment("user", ""))
	assert.Equal(t, "/var/www/app/", env.DeployTo())
	assert.Equal(t, "releases", env.ReleasesDirectory())
	assert.True(t, env.ReleasesEnabled())
	assert.Equal(t, 5, env.Int("release.max", 10))
	assert.Equal(t, 10, env.Int("release.missing", 10))
	assert.True(t, env.Bool("general.ssh_needs_tty", false))
	assert.True(t, env.Bool("extras.enabled", false))
	assert.False(t, env.Bool("extras.vcs.enabled", true))
	assert.Equal(t, "git-remote-cache", env.String("extras.vcs.directory", "git-remote-cache"))

	// walking through scalars or missing maps falls back to the default
	assert.Equal(t, "x", env.String("deployment.user.name", "x"))
	assert.Equal(t, "x", env.String("nothing.at.all", "x"))
	assert.Equal(t, "x", env.String("deployment", "x"))
	assert.False(t, env.Has("deployment.port"))
}

func TestHosts(t *testing.T) {
	env := parse(t)

	assert.Equal(t, []string{"web-1.example.com", "web-2.example.com:2222"}, env.Hosts())
	assert.Equal(t, "web-1.example.com", env.HostName())
	assert.Equal(t, 22, env.HostPort())

	second := env.WithHost("web-2.example.com:2222")
	assert.Equal(t, "web-2.example.com", second.HostName())
	assert.Equal(t, 2222, second.HostPort())
	assert.Equal(t, "web-1.example.com", env.HostName(), "original must not change")

	single, err := ParseEnvironment("staging", []byte("deployment:\n  host: stage\n  port: 2200\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"stage"}, single.Hosts())
	assert.Equal(t, 2200, single.HostPort())
}

func TestSSHOptions(t *testing.T) {
	env := parse(t)
	assert.Equal(t, "-i ~/.ssh/deploy ", env.IdentityFileOption())
	assert.Equal(t, "-o ConnectTimeout=10 ", env.ConnectTimeoutOption())

	bare, err := ParseEnvironment("bare", []byte("deployment:\n  to: /srv\n"))
	require.NoError(t, err)
	assert.Empty(t, bare.IdentityFileOption())
	assert.Empty(t, bare.ConnectTimeoutOption())
}

func TestSteps(t *testing.T) {
	env := parse(t)

	pre := env.Steps(models.StagePreDeploy)
	require.Len(t, pre, 1)
	assert.Equal(t, "shell/exec", pre[0].Name)
	assert.Equal(t, "make build", pre[0].Parameters["command"])

	deploy := env.Steps(models.StageDeploy)
	require.Len(t, deploy, 2)
	assert.Equal(t, "composer/install", deploy[0].Name)
	assert.Nil(t, deploy[0].Parameters)
	assert.Equal(t, true, deploy[1].Parameters["in-release"])

	release := env.Steps(models.StagePostRelease)
	require.Len(t, release, 1)
	assert.Nil(t, release[0].Parameters)

	assert.Empty(t, env.Steps(models.StagePostDeploy))
}

func TestStepsRejectUnknownStage(t *testing.T) {
	_, err := ParseEnvironment("bad", []byte("tasks:\n  pre-release:\n    - a\n"))
	assert.Error(t, err)

	_, err = ParseEnvironment("bad", []byte("tasks:\n  pre-deploy:\n    - {a: 1, b: 2}\n"))
	assert.Error(t, err)
}

func TestParametersAndCopies(t *testing.T) {
	env := parse(t)
	assert.Equal(t, "main", env.Parameter("branch", "x"))
	assert.Equal(t, "x", env.Parameter("missing", "x"))

	over := env.WithParameters(map[string]any{"branch": "release"})
	assert.Equal(t, "release", over.Parameter("branch", nil))
	assert.Equal(t, "main", env.Parameter("branch", nil))

	withID := env.WithReleaseID("42")
	assert.Equal(t, "42", withID.ReleaseID())
	assert.Empty(t, env.ReleaseID())
}

func TestLoadEnvironment(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "environments"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "environments", "production.yml"), []byte(productionYAML), 0644))

	env, err := LoadEnvironment(dir, "production")
	require.NoError(t, err)
	assert.Equal(t, "production", env.Name())

	_, err = LoadEnvironment(dir, "staging")
	assert.ErrorIs(t, err, ErrEnvironmentNotFound)

	_, err = LoadEnvironment(dir, "../production")
	assert.ErrorIs(t, err, ErrInvalidEnvironment)
}
