package queue

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newCapturedQueue returns a queue whose logs land in the returned buffer.
func newCapturedQueue(t *testing.T, name string, limit int) (*Dedup, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewDedup(name, limit, logger), buf
}

func fillTasks(q *Dedup, n int) {
	for i := 0; i < n; i++ {
		q.Push(fmt.Sprintf("/data/task-%04d", i))
	}
}

func TestPushDeduplicates(t *testing.T) {
	q, _ := newCapturedQueue(t, "task", 100)
	for i := 0; i < 5; i++ {
		q.Push("/data/foo")
	}
	assert.Equal(t, 1, q.Len())
}

func TestPushPreservesInsertionOrder(t *testing.T) {
	q, _ := newCapturedQueue(t, "task", 100)
	q.Push("/a")
	q.Push("/b")
	q.Push("/c")
	assert.Equal(t, []string{"/a", "/b", "/c"}, q.Snapshot())
}

func TestPushWarnsAboveHalfCapacity(t *testing.T) {
	q, buf := newCapturedQueue(t, "task", 10)
	fillTasks(q, 5) // len 0..4 at push time, never above half
	assert.Equal(t, 0, strings.Count(buf.String(), "level=WARN"))

	// Five more distinct pushes at len 5..9: len 5 is not above half,
	// the other four each warn.
	for i := 0; i < 3; i++ {
		q.Push(fmt.Sprintf("/data/more-%d", i))
	}
	q.Push("/data/extra-a")
	q.Push("/data/extra-b")
	assert.Equal(t, 4, strings.Count(buf.String(), "level=WARN"))
	assert.Equal(t, 10, q.Len())
}

func TestPushRejectsAtCapacity(t *testing.T) {
	q, buf := newCapturedQueue(t, "task", 10)
	fillTasks(q, 10)
	require.Equal(t, 10, q.Len())

	q.Push("/data/overflow")
	assert.Equal(t, 10, q.Len())
	assert.Equal(t, 1, strings.Count(buf.String(), "level=ERROR"))
	assert.NotContains(t, q.Snapshot(), "/data/overflow")
}

func TestTakeBatchSizes(t *testing.T) {
	const workers = 4
	tests := []struct {
		fill int
		want int
	}{
		{0, 0},
		{1, 1},
		{9, 8},
		{10, 8},
		{49, 8},
		{50, 15},
		{99, 15},
		{100, 15},
		{101, 101 / workers},
		{workers * 60, 60},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("len=%d", tt.fill), func(t *testing.T) {
			q, _ := newCapturedQueue(t, "task", 100000)
			fillTasks(q, tt.fill)
			batch := q.TakeBatch(workers)
			assert.Len(t, batch, tt.want)
			assert.Equal(t, tt.fill-tt.want, q.Len())
		})
	}
}

func TestTakeBatchPopsPrefix(t *testing.T) {
	q, _ := newCapturedQueue(t, "task", 100)
	q.Push("/a")
	q.Push("/b")
	q.Push("/c")

	batch := q.TakeBatch(2)
	assert.Equal(t, []string{"/a", "/b", "/c"}, batch)
	assert.Equal(t, 0, q.Len())
}

func TestTakeBatchAliasSafety(t *testing.T) {
	// A push after a partial drain must not clobber the returned batch.
	q, _ := newCapturedQueue(t, "task", 100)
	fillTasks(q, 12)
	batch := q.TakeBatch(2)
	require.Len(t, batch, 8)
	saved := append([]string{}, batch...)
	fillTasks(q, 40)
	assert.Equal(t, saved, batch)
}

func TestTakeAll(t *testing.T) {
	q, _ := newCapturedQueue(t, "retry", 100)
	q.Push("/a")
	q.Push("/b")

	got := q.TakeAll()
	assert.Equal(t, []string{"/a", "/b"}, got)
	assert.Equal(t, 0, q.Len())
	assert.Empty(t, q.TakeAll())
}
