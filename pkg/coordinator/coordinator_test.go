package coordinator

import (
	"context"
	"image"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-sobel/pkg/assembler"
	"go-sobel/pkg/common"
	"go-sobel/pkg/imageio"
	"go-sobel/pkg/processor"
	"go-sobel/pkg/queue"
	"go-sobel/pkg/sobel"
)

func writeRandomImage(t *testing.T, path string, seed int64, rows, cols int) {
	t.Helper()
	gray := image.NewGray(image.Rect(0, 0, cols, rows))
	rand.New(rand.NewSource(seed)).Read(gray.Pix)
	require.NoError(t, imageio.SavePNG(path, gray))
}

func newClient(t *testing.T) *queue.RedisClient {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := queue.NewRedisClient(context.Background(), mr.Addr(), "")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.EnsureGroups(context.Background()))
	return client
}

type recordingQueue struct {
	mu     sync.Mutex
	resets []int
	infos  []*common.ImageInfo
	jobs   []*common.JobMessage
	done   []int
}

func (q *recordingQueue) ResetImage(_ context.Context, imageID int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.resets = append(q.resets, imageID)
	return nil
}

func (q *recordingQueue) StoreImageInfo(_ context.Context, info *common.ImageInfo) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.infos = append(q.infos, info)
	return nil
}

func (q *recordingQueue) AddJob(_ context.Context, job *common.JobMessage) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return "id", nil
}

func (q *recordingQueue) MarkImageCompleted(_ context.Context, imageID int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.done = append(q.done, imageID)
	return nil
}

func (q *recordingQueue) StoreVerdict(context.Context, *common.Verdict) error { return nil }

func TestProcessImageQueuesHaloTiles(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.png")
	writeRandomImage(t, in, 1, 30, 50)

	q := &recordingQueue{}
	c := NewCoordinator(q, sobel.ModeFloat, 16, 0)
	info, err := c.ProcessImage(context.Background(), 7, in, filepath.Join(dir, "out.png"))
	require.NoError(t, err)

	// Interior is 48x28: 3 columns by 2 rows of tiles.
	assert.Equal(t, 6, info.ExpectedTiles)
	assert.Equal(t, "float", info.Mode)
	require.Len(t, q.jobs, 6)

	covered := 0
	for i, job := range q.jobs {
		tile := job.ImageTile
		assert.Equal(t, "tile", job.Type)
		assert.Equal(t, i, tile.TileID)
		assert.Equal(t, 7, tile.ImageID)
		assert.Equal(t, info.RunID, tile.RunID)
		assert.Len(t, tile.Data, tile.WindowRows()*tile.WindowCols())
		assert.GreaterOrEqual(t, tile.X, 1)
		assert.GreaterOrEqual(t, tile.Y, 1)
		covered += tile.Width * tile.Height
	}
	assert.Equal(t, 48*28, covered)
	assert.Empty(t, q.done)
	assert.NotEmpty(t, info.RunID)
	assert.Equal(t, []int{7}, q.resets)
}

func TestProcessImageClearsPreviousRun(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "in.png")
	writeRandomImage(t, in, 5, 20, 20)

	// State left by an earlier run that used the same id.
	require.NoError(t, client.MarkImageCompleted(ctx, 0))
	require.NoError(t, client.StoreVerdict(ctx, &common.Verdict{ImageID: 0, RunID: "old", Pass: true}))

	info, err := NewCoordinator(client, sobel.ModeClamped, 8, 0).ProcessImage(ctx, 0, in, filepath.Join(dir, "out.png"))
	require.NoError(t, err)
	assert.NotEqual(t, "old", info.RunID)

	done, err := client.IsImageCompleted(ctx, 0)
	require.NoError(t, err)
	assert.False(t, done)
	v, err := client.GetVerdict(ctx, 0)
	require.NoError(t, err)
	assert.Nil(t, v)

	stored, err := client.GetImageInfo(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, info.RunID, stored.RunID)
}

func TestProcessImageDegenerate(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "thin.png")
	writeRandomImage(t, in, 2, 2, 40)
	out := filepath.Join(dir, "thin_out.png")

	q := &recordingQueue{}
	info, err := NewCoordinator(q, sobel.ModeClamped, 0, 0).ProcessImage(context.Background(), 0, in, out)
	require.NoError(t, err)
	assert.Zero(t, info.ExpectedTiles)
	assert.Empty(t, q.jobs)
	assert.Equal(t, []int{0}, q.done)

	got, err := imageio.LoadIntensity(out, 0)
	require.NoError(t, err)
	assert.Equal(t, make([]uint8, 80), got.Pix)
}

func TestProcessImagesMissingInput(t *testing.T) {
	q := &recordingQueue{}
	_, err := NewCoordinator(q, sobel.ModeClamped, 0, 0).ProcessImages(context.Background(),
		[]string{filepath.Join(t.TempDir(), "missing.png")}, t.TempDir())
	require.ErrorIs(t, err, imageio.ErrNotFound)
}

func TestDistributedMatchesReference(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)

	inDir, outDir := t.TempDir(), t.TempDir()
	paths := []string{filepath.Join(inDir, "a.png"), filepath.Join(inDir, "b.png")}
	writeRandomImage(t, paths[0], 3, 37, 41)
	writeRandomImage(t, paths[1], 4, 64, 20)

	pool := processor.NewWorkerPool(ctx, client, 2, "test")
	asm := assembler.NewAssembler(ctx, client, "test", true)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); pool.Start() }()
	go func() { defer wg.Done(); asm.Start() }()
	defer func() {
		pool.Stop()
		asm.Stop()
		wg.Wait()
	}()

	infos, err := NewCoordinator(client, sobel.ModeClamped, 16, 0).ProcessImages(ctx, paths, outDir)
	require.NoError(t, err)
	require.Len(t, infos, 2)

	for range infos {
		select {
		case v := <-asm.Completed():
			assert.True(t, v.Pass, "image %d deviation %g", v.ImageID, v.MaxDeviation)
		case <-time.After(20 * time.Second):
			t.Fatal("distributed run did not complete")
		}
	}

	for _, info := range infos {
		done, err := client.IsImageCompleted(ctx, info.ID)
		require.NoError(t, err)
		assert.True(t, done)

		v, err := client.GetVerdict(ctx, info.ID)
		require.NoError(t, err)
		require.NotNil(t, v)
		assert.True(t, v.Pass)

		got, err := imageio.LoadIntensity(info.OutputPath, 0)
		require.NoError(t, err)
		src, err := imageio.LoadIntensity(info.InputPath, 0)
		require.NoError(t, err)
		assert.Equal(t, sobel.Reference(src).Pix, got.Pix)
	}
}
