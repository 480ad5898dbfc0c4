package tasks

import (
	"context"
	"fmt"
	"strings"

	"tangled.sh/tangled.sh/deployer/release"
	"tangled.sh/tangled.sh/deployer/task"
)

var defaultExcludes = []string{".git"}

// Rsync is the default deploy strategy: it copies deployment.from from the
// controller to the host, into the new release when releases are enabled.
// With the rsync cache enabled it syncs into the shared cache directory
// and copies the cache into the release on the host, so unchanged files
// are not sent again for every release.
type Rsync struct {
	task.Base
}

func NewRsync(b task.Base) task.Task {
	return &Rsync{Base: b}
}

func (t *Rsync) Name() string {
	return NameRsync
}

func (t *Rsync) ManagesReleasePath() {}

func (t *Rsync) Run(ctx context.Context) (bool, error) {
	env := t.Config()
	to := strings.TrimRight(env.DeployTo(), "/")
	if to == "" {
		return false, task.Fatal(NameRsync + ": deployment.to is not set")
	}

	target := to
	if env.ReleasesEnabled() {
		target = to + "/" + env.ReleasesDirectory() + "/" + env.ReleaseID()
	}

	cacheDir := release.NewResolver(env).RsyncCacheDir()
	dest := target
	if cacheDir != "" {
		dest = to + "/" + cacheDir
	}

	if ok, _ := t.RunCommandRemote(ctx, "mkdir -p "+dest, true); !ok {
		return false, nil
	}

	// rsync itself always runs on the controller
	if ok, _ := t.RunCommandLocal(ctx, t.rsyncCommand(dest)); !ok {
		return false, nil
	}

	if cacheDir == "" {
		return true, nil
	}

	ok, _ := t.RunCommandRemote(ctx, t.RsyncCacheAwareCommand(
		"mkdir -p "+target+" && rsync -a --delete ./ "+target+"/",
	), true)
	return ok, nil
}

func (t *Rsync) rsyncCommand(dest string) string {
	env := t.Config()

	shell := fmt.Sprintf("ssh -p %d -q -o StrictHostKeyChecking=no -o UserKnownHostsFile=/dev/null", env.HostPort())
	if opt := strings.TrimSpace(env.IdentityFileOption()); opt != "" {
		shell += " " + opt
	}

	excludes := env.Strings("deployment.excludes")
	if excludes == nil {
		excludes = defaultExcludes
	}

	parts := []string{"rsync", "-avz", "--delete", `-e "` + shell + `"`}
	for _, e := range excludes {
		parts = append(parts, "--exclude="+e)
	}

	from := env.Deployment("from", "./")
	if !strings.HasSuffix(from, "/") {
		from += "/"
	}

	host := env.HostName()
	if user := env.Deployment("user", ""); user != "" {
		host = user + "@" + host
	}

	parts = append(parts, from, host+":"+dest+"/")
	return strings.Join(parts, " ")
}
