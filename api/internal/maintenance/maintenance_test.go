package maintenance

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

type fakePurger struct {
	calls []time.Duration
	err   error
}

func (f *fakePurger) PurgeOlderThan(_ context.Context, d time.Duration) (int64, error) {
	f.calls = append(f.calls, d)
	return 3, f.err
}

func TestNew_RegistersJobs(t *testing.T) {
	s, err := New(Config{Schedule: "@every 1h", ScratchDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Jobs())

	s, err = New(Config{Schedule: "@every 1h", ScratchDir: t.TempDir(), Journal: &fakePurger{}, Retention: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Jobs())

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestNew_BadSchedule(t *testing.T) {
	_, err := New(Config{Schedule: "every hour please"})
	require.Error(t, err)
}

func TestSweepScratch(t *testing.T) {
	root := t.TempDir()
	stale := filepath.Join(root, "rmbg-old-1")
	fresh := filepath.Join(root, "rmbg-new-1")
	other := filepath.Join(root, "keep-me")
	for _, d := range []string{stale, fresh, other} {
		require.NoError(t, os.Mkdir(d, 0o700))
	}
	old := time.Now().Add(-2 * StaleAfter)
	require.NoError(t, os.Chtimes(stale, old, old))
	require.NoError(t, os.Chtimes(other, old, old))

	SweepScratch(root, StaleAfter)()

	assert.NoDirExists(t, stale)
	assert.DirExists(t, fresh)
	assert.DirExists(t, other)
}

func TestPurgeJournal(t *testing.T) {
	p := &fakePurger{}
	PurgeJournal(p, 48*time.Hour)()
	assert.Equal(t, []time.Duration{48 * time.Hour}, p.calls)

	p.err = errors.New("db down")
	assert.NotPanics(t, PurgeJournal(p, time.Hour))
}
