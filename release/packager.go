package release

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tangled.sh/tangled.sh/deployer/config"
	"tangled.sh/tangled.sh/deployer/log"
	"tangled.sh/tangled.sh/deployer/runner"
)

var ErrProbeFailed = errors.New("could not determine release state")

// Remote executes a command on the target host.
type Remote interface {
	Remote(ctx context.Context, command string, cdFirst bool) (bool, string)
}

// Layout names the paths of a release relative to deployment.to.
type Layout struct {
	Directory string
}

func (l Layout) ReleaseDir(id string) string {
	return l.Directory + "/" + id
}

func (l Layout) ArchivePath(id string) string {
	return l.ReleaseDir(id) + "/" + id + ".tar.gz"
}

func (l Layout) TempDir(id string) string {
	return l.ReleaseDir(id) + "_tmp/"
}

// Packager moves a release between its expanded form (a directory of
// files) and its packed form (an empty directory holding <id>.tar.gz).
//
// The state is never stored; it is probed on the host on each call. Each
// transition is a single remote `&&` chain, so a failing step stops the
// rest but leaves earlier steps applied. Nothing cleans up after a
// partial chain. Concurrent calls for the same release race between probe
// and act and must be serialised by the caller.
type Packager struct {
	layout Layout
	remote Remote
}

// NewPackager runs its commands through r, changed into deployment.to.
func NewPackager(r *runner.Runner) Packager {
	return NewPackagerWith(r.Environment(), r.AsReleaseAware())
}

func NewPackagerWith(env *config.Environment, remote Remote) Packager {
	return Packager{
		layout: Layout{Directory: env.ReleasesDirectory()},
		remote: remote,
	}
}

// IsPacked probes the host for the release archive.
func (p Packager) IsPacked(ctx context.Context, id string) (bool, error) {
	probe := "test -e " + p.layout.ArchivePath(id) + ` && echo "true" || echo ""`
	ok, out := p.remote.Remote(ctx, probe, true)
	if !ok {
		return false, fmt.Errorf("%w %s: %s", ErrProbeFailed, id, out)
	}
	return strings.TrimSpace(out) == "true", nil
}

// Tar packs the release. An already packed release is left alone.
func (p Packager) Tar(ctx context.Context, id string) bool {
	l := log.FromContext(ctx).With("component", "packager", "release", id)

	packed, err := p.IsPacked(ctx, id)
	if err != nil {
		l.Error("tar release", "error", err)
		return false
	}
	if packed {
		l.Debug("release already packed")
		return true
	}

	dir := p.layout.ReleaseDir(id)
	tmp := p.layout.TempDir(id)
	ok, out := p.remote.Remote(ctx, strings.Join([]string{
		"mv " + dir + " " + tmp,
		"mkdir " + dir,
		"tar cfz " + p.layout.ArchivePath(id) + " " + tmp,
		"rm -rf " + tmp,
	}, " && "), true)
	if !ok {
		l.Error("tar release failed, release directory may be left partially packed", "output", out)
	}
	return ok
}

// Untar expands a packed release. A release without archive is left alone.
func (p Packager) Untar(ctx context.Context, id string) bool {
	l := log.FromContext(ctx).With("component", "packager", "release", id)

	packed, err := p.IsPacked(ctx, id)
	if err != nil {
		l.Error("untar release", "error", err)
		return false
	}
	if !packed {
		l.Debug("release not packed")
		return true
	}

	ok, out := p.remote.Remote(ctx, strings.Join([]string{
		"tar xfz " + p.layout.ArchivePath(id),
		"rm -rf " + p.layout.ReleaseDir(id),
		"mv " + p.layout.TempDir(id) + " " + p.layout.ReleaseDir(id),
	}, " && "), true)
	if !ok {
		l.Error("untar release failed, release directory may be left partially unpacked", "output", out)
	}
	return ok
}
