package tasks

import (
	"context"
	"strings"

	"tangled.sh/tangled.sh/deployer/task"
)

const defaultComposerFlags = "--no-dev --no-interaction --optimize-autoloader"

// ComposerInstall installs PHP dependencies inside the release being
// deployed, or in the working directory when run on the controller.
type ComposerInstall struct {
	task.Base
}

func NewComposerInstall(b task.Base) task.Task {
	return &ComposerInstall{Base: b}
}

func (t *ComposerInstall) Name() string {
	return NameComposerInstall
}

func (t *ComposerInstall) ManagesReleasePath() {}

func (t *ComposerInstall) Run(ctx context.Context) (bool, error) {
	composer := t.Config().String("general.composer_cmd", "composer")
	command := strings.TrimSpace(composer + " install " + t.StringParameter("flags", defaultComposerFlags))

	if t.Stage().IsRemote() {
		command = t.ReleasesAwareCommand(command)
	}

	ok, _ := t.RunCommand(ctx, command)
	return ok, nil
}
