package lock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockUnlock(t *testing.T) {
	l := Locker{Dir: t.TempDir()}

	_, locked, err := l.Status("production")
	require.NoError(t, err)
	assert.False(t, locked)

	require.NoError(t, l.Lock("production", Info{Holder: "alice", Reason: "db migration"}))

	info, locked, err := l.Status("production")
	require.NoError(t, err)
	assert.True(t, locked)
	assert.Equal(t, "alice", info.Holder)
	assert.Equal(t, "db migration", info.Reason)

	err = l.Lock("production", Info{Holder: "bob"})
	assert.ErrorIs(t, err, ErrLocked)
	assert.ErrorContains(t, err, "alice")
	assert.ErrorContains(t, err, "db migration")

	// other environments are unaffected
	require.NoError(t, l.Lock("staging", Info{Holder: "bob"}))

	require.NoError(t, l.Unlock("production"))
	require.NoError(t, l.Unlock("production"), "unlocking twice is fine")

	_, locked, err = l.Status("production")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestFailedWriteLeavesNoLock(t *testing.T) {
	orig := writeLockFile
	t.Cleanup(func() { writeLockFile = orig })

	writeLockFile = func(f *os.File, contents []byte) error {
		_, _ = f.Write(contents[:len(contents)/2])
		return errors.New("no space left on device")
	}

	l := Locker{Dir: t.TempDir()}
	err := l.Lock("production", Info{Holder: "alice"})
	require.ErrorContains(t, err, "no space left on device")
	assert.NotErrorIs(t, err, ErrLocked)

	_, locked, err := l.Status("production")
	require.NoError(t, err)
	assert.False(t, locked)

	writeLockFile = orig
	assert.NoError(t, l.Lock("production", Info{Holder: "alice"}))
}

func TestUnparseableLockStillLocks(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "production.lock"), []byte("\t{{not yaml"), 0644))

	_, locked, err := Locker{Dir: dir}.Status("production")
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestAcquireWithoutWait(t *testing.T) {
	l := Locker{Dir: t.TempDir()}
	require.NoError(t, l.Acquire(context.Background(), "production", Info{Holder: "deploy"}, 0))

	start := time.Now()
	err := l.Acquire(context.Background(), "production", Info{Holder: "deploy"}, 0)
	assert.ErrorIs(t, err, ErrLocked)
	assert.Less(t, time.Since(start), time.Second)
}

func TestAcquireWaitsForRelease(t *testing.T) {
	l := Locker{Dir: t.TempDir(), Delay: 10 * time.Millisecond}
	require.NoError(t, l.Lock("production", Info{Holder: "first"}))

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = l.Unlock("production")
	}()

	require.NoError(t, l.Acquire(context.Background(), "production", Info{Holder: "second"}, 5*time.Second))

	info, locked, err := l.Status("production")
	require.NoError(t, err)
	assert.True(t, locked)
	assert.Equal(t, "second", info.Holder)
}

func TestAcquireGivesUp(t *testing.T) {
	l := Locker{Dir: t.TempDir(), Delay: 10 * time.Millisecond}
	require.NoError(t, l.Lock("production", Info{Holder: "first"}))

	err := l.Acquire(context.Background(), "production", Info{Holder: "second"}, 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestRejectsEscapingNames(t *testing.T) {
	dir := t.TempDir()
	l := Locker{Dir: filepath.Join(dir, "locks")}

	require.NoError(t, l.Lock("../outside", Info{Holder: "x"}))
	_, err := os.Stat(filepath.Join(dir, "outside.lock"))
	assert.True(t, os.IsNotExist(err))

	assert.Error(t, l.Lock("", Info{}))
}
