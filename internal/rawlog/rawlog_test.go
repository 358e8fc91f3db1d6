package rawlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kolkata(t *testing.T) *time.Location {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Skip("tzdata not available")
	}
	return loc
}

func readAll(t *testing.T, path string) string {
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestWriter_Lifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "GPS_Data_Log.txt")
	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	w, err := Open(path, kolkata(t), start)
	require.NoError(t, err)
	assert.Equal(t, path, w.Path())

	require.NoError(t, w.Append("$DP,1,2", time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)))
	require.NoError(t, w.Append("{not valid json", time.Date(2024, 1, 2, 20, 15, 30, 0, time.UTC)))
	require.NoError(t, w.Close(start.Add(time.Hour)))

	want := "=== GPS Server Started at 2024-01-02T03:04:05.000Z ===\n\n" +
		"02/01/2024, 02:30:00 pm\n$DP,1,2\n\n" +
		"03/01/2024, 01:45:30 am\n{not valid json\n\n" +
		"\n=== Server Stopped at 2024-01-02T04:04:05.000Z ===\n"
	assert.Equal(t, want, readAll(t, path))
}

func TestWriter_ReopenNeverTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.txt")
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	w, err := Open(path, time.UTC, now)
	require.NoError(t, err)
	require.NoError(t, w.Append("first run", now))
	require.NoError(t, w.Close(now))

	w, err = Open(path, time.UTC, now)
	require.NoError(t, err)
	require.NoError(t, w.Append("second run", now))
	require.NoError(t, w.Close(now))

	content := readAll(t, path)
	assert.Equal(t, 2, strings.Count(content, "=== GPS Server Started at"))
	assert.Equal(t, 2, strings.Count(content, "=== Server Stopped at"))
	assert.Less(t, strings.Index(content, "first run"), strings.Index(content, "second run"))
	assert.Contains(t, content, "===\n\n=== GPS Server Started")
}

func TestWriter_AppendAfterClose(t *testing.T) {
	w, err := Open(filepath.Join(t.TempDir(), "raw.txt"), time.UTC, time.Now())
	require.NoError(t, err)
	require.NoError(t, w.Close(time.Now()))
	assert.Error(t, w.Append("late", time.Now()))
	assert.NoError(t, w.Close(time.Now()))
}

func TestWriter_ConcurrentAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.txt")
	w, err := Open(path, time.UTC, time.Now())
	require.NoError(t, err)

	const writers, perWriter = 8, 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				assert.NoError(t, w.Append(fmt.Sprintf("conn-%d msg-%03d", i, j), time.Now()))
			}
		}(i)
	}
	wg.Wait()
	require.NoError(t, w.Close(time.Now()))

	content := readAll(t, path)
	for i := 0; i < writers; i++ {
		last := -1
		for j := 0; j < perWriter; j++ {
			idx := strings.Index(content, fmt.Sprintf("conn-%d msg-%03d\n", i, j))
			require.GreaterOrEqual(t, idx, 0)
			assert.Greater(t, idx, last, "receipt order within one writer")
			last = idx
		}
	}
}
