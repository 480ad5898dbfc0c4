// Package tasks holds the built-in tasks. Each one composes a shell command,
// usually prefixed with a `cd` into the directory it works on, and hands it
// to the command helpers of task.Base.
package tasks

import (
	"tangled.sh/tangled.sh/deployer/task"
)

const (
	NameShellExec        = "shell/exec"
	NameComposerInstall  = "composer/install"
	NameGitUpdateCache   = "git/update-cache"
	NameRsync            = "deployment/rsync"
	NameReleasesLink     = "releases/link"
	NameReleasesRotate   = "releases/rotate"
	NameReleasesList     = "releases/list"
	NameReleasesRollback = "releases/rollback"
	NameReleasesPack     = "releases/pack"
	NameReleasesUnpack   = "releases/unpack"
)

// Register adds the built-in tasks to r.
func Register(r *task.Registry) {
	r.Register(NameShellExec, NewShellExec)
	r.Register(NameComposerInstall, NewComposerInstall)
	r.Register(NameGitUpdateCache, NewGitUpdateCache)
	r.Register(NameRsync, NewRsync)
	r.Register(NameReleasesLink, NewLink)
	r.Register(NameReleasesRotate, NewRotate)
	r.Register(NameReleasesList, NewList)
	r.Register(NameReleasesRollback, NewRollback)
	r.Register(NameReleasesPack, NewPack)
	r.Register(NameReleasesUnpack, NewUnpack)
}

// DefaultRegistry is a registry holding only the built-in tasks.
func DefaultRegistry() *task.Registry {
	r := task.NewRegistry()
	Register(r)
	return r
}
