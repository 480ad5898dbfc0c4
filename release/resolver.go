package release

import (
	"tangled.sh/tangled.sh/deployer/config"
)

// Resolver prefixes commands with a `cd` into release or shared cache
// directories. All paths are relative to deployment.to, which remote
// commands of release aware tasks already run in.
type Resolver struct {
	env *config.Environment
}

func NewResolver(env *config.Environment) Resolver {
	return Resolver{env: env}
}

// ReleasesAware runs command inside the current release directory when
// releases are enabled.
func (r Resolver) ReleasesAware(command string) string {
	if !r.env.ReleasesEnabled() {
		return command
	}
	return "cd " + r.env.ReleasesDirectory() + "/" + r.env.ReleaseID() + " && " + command
}

func (r Resolver) GitCacheAware(command string) string {
	return r.cacheAware(command, cache{
		enabled:    "extras.vcs.enabled",
		directory:  "extras.vcs.directory",
		defaultDir: "git-remote-cache",
	})
}

func (r Resolver) RsyncCacheAware(command string) string {
	return r.cacheAware(command, cache{
		enabled:    "extras.rsync.enabled",
		directory:  "extras.rsync.directory",
		defaultDir: "rsync-remote-cache",
	})
}

// GitCacheDir and RsyncCacheDir return the cache directory, or empty when
// that cache is disabled.
func (r Resolver) GitCacheDir() string {
	return r.cacheDir(cache{"extras.vcs.enabled", "extras.vcs.directory", "git-remote-cache"})
}

func (r Resolver) RsyncCacheDir() string {
	return r.cacheDir(cache{"extras.rsync.enabled", "extras.rsync.directory", "rsync-remote-cache"})
}

type cache struct {
	enabled    string
	directory  string
	defaultDir string
}

func (r Resolver) cacheDir(c cache) string {
	if !r.env.Bool("extras.enabled", false) || !r.env.Bool(c.enabled, false) {
		return ""
	}
	return r.env.String("extras.directory", "shared") + "/" + r.env.String(c.directory, c.defaultDir)
}

func (r Resolver) cacheAware(command string, c cache) string {
	dir := r.cacheDir(c)
	if dir == "" {
		return command
	}
	return "cd " + dir + " && " + command
}
