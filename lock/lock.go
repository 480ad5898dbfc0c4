package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/avast/retry-go/v4"
	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

var ErrLocked = errors.New("environment is locked")

// Info is written into the lock file.
type Info struct {
	Holder string    `yaml:"holder"`
	Reason string    `yaml:"reason,omitempty"`
	Since  time.Time `yaml:"since"`
}

// Locker keeps one lock file per environment in Dir. A lock taken by hand
// (`deployer lock`) and the lock a running deployment holds are the same
// file, so either blocks the other.
type Locker struct {
	Dir string

	// Delay between attempts while waiting; zero means 500ms.
	Delay time.Duration
}

func (l Locker) path(env string) (string, error) {
	if env == "" {
		return "", errors.New("empty environment name")
	}
	return securejoin.SecureJoin(l.Dir, env+".lock")
}

// Lock creates the lock file, failing with ErrLocked if it already exists.
func (l Locker) Lock(env string, info Info) error {
	path, err := l.path(env)
	if err != nil {
		return err
	}
	if info.Since.IsZero() {
		info.Since = time.Now()
	}

	contents, err := yaml.Marshal(info)
	if err != nil {
		return fmt.Errorf("encoding lock info: %w", err)
	}

	if err := os.MkdirAll(l.Dir, 0755); err != nil {
		return fmt.Errorf("creating lock dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return l.lockedError(env)
		}
		return fmt.Errorf("creating lock file: %w", err)
	}

	err = writeLockFile(f, contents)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		// a half written file would lock the environment for good
		os.Remove(path)
		return fmt.Errorf("writing lock file: %w", err)
	}
	return nil
}

var writeLockFile = func(f *os.File, contents []byte) error {
	_, err := f.Write(contents)
	return err
}

// Unlock removes the lock file; an unlocked environment is not an error.
func (l Locker) Unlock(env string) error {
	path, err := l.path(env)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing lock file: %w", err)
	}
	return nil
}

// Status reports whether env is locked and by whom.
func (l Locker) Status(env string) (Info, bool, error) {
	path, err := l.path(env)
	if err != nil {
		return Info{}, false, err
	}

	contents, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Info{}, false, nil
	}
	if err != nil {
		return Info{}, false, fmt.Errorf("reading lock file: %w", err)
	}

	var info Info
	// a lock file we cannot parse still locks the environment
	_ = yaml.Unmarshal(contents, &info)
	return info, true, nil
}

// Acquire takes the lock, polling with backoff for up to wait while some
// other holder has it.
func (l Locker) Acquire(ctx context.Context, env string, info Info, wait time.Duration) error {
	delay := l.Delay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}

	opts := []retry.Option{
		retry.RetryIf(func(err error) bool { return errors.Is(err, ErrLocked) }),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(delay),
		retry.MaxDelay(10 * delay),
		retry.LastErrorOnly(true),
	}
	if wait <= 0 {
		opts = append(opts, retry.Attempts(1))
	} else {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
		opts = append(opts, retry.Attempts(0))
	}
	opts = append(opts, retry.Context(ctx))

	err := retry.Do(func() error {
		return l.Lock(env, info)
	}, opts...)
	if err == nil {
		return nil
	}

	if _, locked, _ := l.Status(env); locked {
		return l.lockedError(env)
	}
	return err
}

func (l Locker) lockedError(env string) error {
	info, _, _ := l.Status(env)
	if info.Holder == "" {
		return fmt.Errorf("%w: %s", ErrLocked, env)
	}

	err := fmt.Errorf("%w: %s by %s since %s", ErrLocked, env, info.Holder, humanize.Time(info.Since))
	if info.Reason != "" {
		err = fmt.Errorf("%w (%s)", err, info.Reason)
	}
	return err
}
