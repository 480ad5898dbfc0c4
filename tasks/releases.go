package tasks

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strconv"
	"strings"

	"tangled.sh/tangled.sh/deployer/log"
	"tangled.sh/tangled.sh/deployer/task"
)

var ErrReleasesDisabled = errors.New("releases are not enabled")

// Release is a release directory found on a host.
type Release struct {
	ID      string
	Current bool
	Packed  bool
}

// releases is shared by the release aware tasks; all commands run in
// deployment.to.
type releases struct {
	*task.Base
}

func (r releases) symlink() string {
	return r.Config().String("release.symlink", "current")
}

// current returns the release id the symlink points at, or empty.
func (r releases) current(ctx context.Context) (string, error) {
	ok, out := r.RunCommandRemote(ctx, "readlink "+r.symlink()+` || echo ""`, true)
	if !ok {
		return "", fmt.Errorf("reading %s: %s", r.symlink(), out)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", nil
	}
	return path.Base(out), nil
}

// list returns the releases on the host, oldest first.
func (r releases) list(ctx context.Context) ([]Release, error) {
	dir := r.Config().ReleasesDirectory()

	ok, out := r.RunCommandRemote(ctx, "ls -1 "+dir, true)
	if !ok {
		return nil, fmt.Errorf("listing %s: %s", dir, out)
	}

	var ids []string
	for _, line := range strings.Split(out, "\n") {
		id := strings.TrimSpace(line)
		if id == "" || strings.HasSuffix(id, "_tmp") {
			continue
		}
		ids = append(ids, id)
	}
	sortReleaseIDs(ids)

	current, err := r.current(ctx)
	if err != nil {
		return nil, err
	}

	ok, out = r.RunCommandRemote(ctx, "find "+dir+` -mindepth 2 -maxdepth 2 -name "*.tar.gz"`, true)
	if !ok {
		return nil, fmt.Errorf("finding packed releases: %s", out)
	}
	packed := map[string]bool{}
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			packed[path.Base(path.Dir(line))] = true
		}
	}

	list := make([]Release, 0, len(ids))
	for _, id := range ids {
		list = append(list, Release{ID: id, Current: id == current, Packed: packed[id]})
	}
	return list, nil
}

func (r releases) link(ctx context.Context, id string) bool {
	dir := r.Config().ReleasesDirectory()
	ok, _ := r.RunCommandRemote(ctx, "ln -sfn "+dir+"/"+id+" "+r.symlink(), true)
	return ok
}

// sortReleaseIDs orders ids numerically when all of them are numbers and
// lexically otherwise; timestamp ids sort correctly either way.
func sortReleaseIDs(ids []string) {
	numeric := true
	for _, id := range ids {
		if _, err := strconv.ParseUint(id, 10, 64); err != nil {
			numeric = false
			break
		}
	}

	slices.SortFunc(ids, func(a, b string) int {
		if numeric {
			x, _ := strconv.ParseUint(a, 10, 64)
			y, _ := strconv.ParseUint(b, 10, 64)
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
		return strings.Compare(a, b)
	})
}

// Link points the release symlink at the new release. With
// release.compress it packs the release that was live before.
type Link struct {
	task.Base
}

func NewLink(b task.Base) task.Task {
	return &Link{Base: b}
}

func (t *Link) Name() string {
	return NameReleasesLink
}

func (t *Link) ManagesReleasePath() {}

func (t *Link) Run(ctx context.Context) (bool, error) {
	env := t.Config()
	if !env.ReleasesEnabled() {
		return false, task.Skip(ErrReleasesDisabled.Error())
	}

	r := releases{&t.Base}
	previous, err := r.current(ctx)
	if err != nil {
		log.FromContext(ctx).Warn("could not read previous release", "error", err)
	}

	if !r.link(ctx, env.ReleaseID()) {
		return false, nil
	}

	if env.Bool("release.compress", false) && previous != "" && previous != env.ReleaseID() {
		return t.TarRelease(ctx, previous), nil
	}
	return true, nil
}

// Rotate removes the oldest releases beyond release.max. The live release
// is never removed.
type Rotate struct {
	task.Base
}

func NewRotate(b task.Base) task.Task {
	return &Rotate{Base: b}
}

func (t *Rotate) Name() string {
	return NameReleasesRotate
}

func (t *Rotate) ManagesReleasePath() {}

func (t *Rotate) Run(ctx context.Context) (bool, error) {
	env := t.Config()
	if !env.ReleasesEnabled() {
		return false, task.Skip(ErrReleasesDisabled.Error())
	}

	keep := t.IntParameter("max", env.Int("release.max", 10))
	if keep < 1 {
		keep = 1
	}

	list, err := releases{&t.Base}.list(ctx)
	if err != nil {
		log.FromContext(ctx).Error("rotate releases", "error", err)
		return false, nil
	}
	if len(list) <= keep {
		return false, task.Skip(fmt.Sprintf("%d releases, keeping up to %d", len(list), keep))
	}

	var remove []string
	for _, rel := range list[:len(list)-keep] {
		if rel.Current || rel.ID == env.ReleaseID() {
			continue
		}
		remove = append(remove, env.ReleasesDirectory()+"/"+rel.ID)
	}
	if len(remove) == 0 {
		return true, nil
	}

	ok, _ := t.RunCommandRemote(ctx, "rm -rf "+strings.Join(remove, " "), true)
	return ok, nil
}

// List reads the releases of the bound host. Run only logs them; callers
// wanting the data use Releases.
type List struct {
	task.Base
}

func NewList(b task.Base) task.Task {
	return &List{Base: b}
}

func (t *List) Name() string {
	return NameReleasesList
}

func (t *List) ManagesReleasePath() {}

// Releases returns the releases on the host, newest first.
func (t *List) Releases(ctx context.Context) ([]Release, error) {
	if !t.Config().ReleasesEnabled() {
		return nil, ErrReleasesDisabled
	}
	list, err := releases{&t.Base}.list(ctx)
	if err != nil {
		return nil, err
	}
	slices.Reverse(list)
	return list, nil
}

func (t *List) Run(ctx context.Context) (bool, error) {
	list, err := t.Releases(ctx)
	if errors.Is(err, ErrReleasesDisabled) {
		return false, task.Skip(err.Error())
	}
	if err != nil {
		log.FromContext(ctx).Error("list releases", "error", err)
		return false, nil
	}

	l := log.FromContext(ctx)
	for _, rel := range list {
		l.Info("release", "host", t.Config().HostName(), "id", rel.ID, "current", rel.Current, "packed", rel.Packed)
	}
	return true, nil
}

// Rollback points the release symlink back at an older release, unpacking
// it first when needed. The `release` parameter selects the target: an id,
// a negative offset from the live release ("-2"), or empty for the release
// right before the live one.
type Rollback struct {
	task.Base

	// set by Run; a result, not configuration
	target string
}

func NewRollback(b task.Base) task.Task {
	return &Rollback{Base: b}
}

func (t *Rollback) Name() string {
	return NameReleasesRollback
}

func (t *Rollback) ManagesReleasePath() {}

// Target is the release Run selected, empty before Run or when it failed
// to pick one. It reports the outcome of Run and never changes how the task
// behaves.
func (t *Rollback) Target() string {
	return t.target
}

func (t *Rollback) Run(ctx context.Context) (bool, error) {
	if !t.Config().ReleasesEnabled() {
		return false, task.Fatal("cannot roll back: " + ErrReleasesDisabled.Error())
	}

	r := releases{&t.Base}
	list, err := r.list(ctx)
	if err != nil {
		return false, task.Fatalf("cannot roll back: %w", err)
	}

	target, err := rollbackTarget(list, t.StringParameter("release", ""))
	if err != nil {
		return false, task.Fatalf("cannot roll back on %s: %w", t.Config().HostName(), err)
	}
	t.target = target.ID
	if target.Current {
		return false, task.Skip("release " + target.ID + " is already live")
	}

	l := log.FromContext(ctx)
	l.Info("rolling back", "host", t.Config().HostName(), "release", target.ID)

	if target.Packed && !t.UntarRelease(ctx, target.ID) {
		return false, nil
	}
	return r.link(ctx, target.ID), nil
}

func rollbackTarget(list []Release, want string) (Release, error) {
	if len(list) == 0 {
		return Release{}, errors.New("no releases found")
	}

	cur := slices.IndexFunc(list, func(r Release) bool { return r.Current })

	offset := -1
	if want != "" {
		n, err := strconv.Atoi(want)
		if err != nil || n >= 0 {
			i := slices.IndexFunc(list, func(r Release) bool { return r.ID == want })
			if i < 0 {
				return Release{}, fmt.Errorf("release %s not found", want)
			}
			return list[i], nil
		}
		offset = n
	}

	if cur < 0 {
		cur = len(list)
	}
	i := cur + offset
	if i < 0 || i >= len(list) {
		return Release{}, fmt.Errorf("no release %d before the live one", -offset)
	}
	return list[i], nil
}

// Pack archives a release (the `release` parameter, default the release
// being deployed) into <id>.tar.gz.
type Pack struct {
	task.Base
}

func NewPack(b task.Base) task.Task {
	return &Pack{Base: b}
}

func (t *Pack) Name() string {
	return NameReleasesPack
}

func (t *Pack) ManagesReleasePath() {}

func (t *Pack) Run(ctx context.Context) (bool, error) {
	id, err := releaseParameter(ctx, &t.Base)
	if err != nil {
		return false, err
	}
	return t.TarRelease(ctx, id), nil
}

// Unpack expands a packed release back into its directory.
type Unpack struct {
	task.Base
}

func NewUnpack(b task.Base) task.Task {
	return &Unpack{Base: b}
}

func (t *Unpack) Name() string {
	return NameReleasesUnpack
}

func (t *Unpack) ManagesReleasePath() {}

func (t *Unpack) Run(ctx context.Context) (bool, error) {
	id, err := releaseParameter(ctx, &t.Base)
	if err != nil {
		return false, err
	}
	return t.UntarRelease(ctx, id), nil
}

func releaseParameter(ctx context.Context, b *task.Base) (string, error) {
	if !b.Config().ReleasesEnabled() {
		return "", task.Skip(ErrReleasesDisabled.Error())
	}
	if id := b.StringParameter("release", b.Config().ReleaseID()); id != "" {
		return id, nil
	}

	id, err := releases{b}.current(ctx)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", task.Skip("no release given and no live release")
	}
	return id, nil
}
