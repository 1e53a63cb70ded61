package liveness

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "ETL_Nightly_v2", SafeName("ETL Nightly/v2"))
	assert.Equal(t, "Relatório_1", SafeName("Relatório.1"))
}

func TestIsAlive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	live := map[int]bool{4242: true}
	f := NewPIDFiles(t.TempDir(), WithProber(ProbeFunc(func(_ context.Context, pid int) bool {
		return live[pid]
	})))

	assert.False(t, f.IsAlive(ctx, "report"), "no record")

	require.NoError(t, f.Record(ctx, "report", 4242))
	assert.True(t, f.IsAlive(ctx, "report"))
	assert.FileExists(t, f.Path("report"))

	require.NoError(t, f.Record(ctx, "report", 7))
	assert.False(t, f.IsAlive(ctx, "report"))
	assert.NoFileExists(t, f.Path("report"), "dead record is cleared")
}

func TestIsAliveGarbage(t *testing.T) {
	t.Parallel()
	f := NewPIDFiles(t.TempDir(), WithProber(ProbeFunc(func(context.Context, int) bool { return true })))
	require.NoError(t, os.WriteFile(f.Path("x"), []byte("not a pid"), 0o644))
	assert.False(t, f.IsAlive(context.Background(), "x"))
}

func TestForget(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := NewPIDFiles(t.TempDir())
	require.NoError(t, f.Record(ctx, "a b", 1))
	f.Forget("a b")
	assert.NoFileExists(t, f.Path("a b"))
	f.Forget("a b")
}

func TestSystemProberSelf(t *testing.T) {
	t.Parallel()
	assert.True(t, SystemProber{}.Alive(context.Background(), os.Getpid()))
}
