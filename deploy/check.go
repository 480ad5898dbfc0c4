package deploy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"tangled.sh/tangled.sh/deployer/config"
	"tangled.sh/tangled.sh/deployer/models"
	"tangled.sh/tangled.sh/deployer/task"
)

// Check validates an environment before anything runs. Every problem is
// fatal: nothing has been touched yet, so there is nothing to carry on with.
func (d *Deployer) Check(env *config.Environment) error {
	if env.DeployTo() == "" {
		return task.Fatal(env.Name() + ": deployment.to is not set")
	}
	if len(env.Hosts()) == 0 {
		return task.Fatal(env.Name() + ": no hosts configured")
	}

	if f := env.IdentityFile(); f != "" {
		if err := checkIdentityFile(f); err != nil {
			return task.Fatalf("%s: identity file: %w", env.Name(), err)
		}
	}

	for _, stage := range models.Stages() {
		for _, step := range env.Steps(stage) {
			if _, err := d.registry().Lookup(step.Name); err != nil {
				return task.Fatalf("%s: tasks: %s: %w", env.Name(), stage.Section(), err)
			}
		}
	}
	if s := Strategy(env); s != "" {
		if _, err := d.registry().Lookup(s); err != nil {
			return task.Fatalf("%s: deployment.strategy: %w", env.Name(), err)
		}
	}

	return nil
}

// checkIdentityFile makes sure the key exists and is a private key ssh can
// use. Keys behind a passphrase are accepted; the agent unlocks them.
func checkIdentityFile(path string) error {
	path, err := expandHome(path)
	if err != nil {
		return err
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	_, err = ssh.ParsePrivateKey(contents)
	var missing *ssh.PassphraseMissingError
	if err != nil && !errors.As(err, &missing) {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
