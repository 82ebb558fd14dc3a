package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	testingpkg "github.com/aristath/stockwatch/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	failDel map[string]bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte), failDel: make(map[string]bool)}
}

func (m *memoryStore) Upload(ctx context.Context, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memoryStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ObjectInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, ObjectInfo{Key: k, SizeBytes: int64(len(v))})
		}
	}
	return out, nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDel[key] {
		return errors.New("access denied")
	}
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func TestArchiveKey(t *testing.T) {
	at := time.Date(2026, 3, 2, 16, 0, 5, 0, time.UTC)
	tests := []struct {
		prefix string
		want   string
	}{
		{"", "stockwatch-backup-2026-03-02-160005.tar.gz"},
		{"stockwatch", "stockwatch/stockwatch-backup-2026-03-02-160005.tar.gz"},
		{"/nightly/prod/", "nightly/prod/stockwatch-backup-2026-03-02-160005.tar.gz"},
	}
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			s := NewBackupService(newMemoryStore(), t.TempDir(), tt.prefix, zerolog.Nop())
			key := s.ArchiveKey(at)
			assert.Equal(t, tt.want, key)

			ts, ok := parseArchiveKey(key)
			require.True(t, ok)
			assert.True(t, at.Equal(ts))
		})
	}
}

func TestParseArchiveKey_Rejects(t *testing.T) {
	for _, key := range []string{
		"stockwatch/monitor.db",
		"stockwatch-backup-yesterday.tar.gz",
		"stockwatch-backup-2026-03-02-160005.zip",
	} {
		_, ok := parseArchiveKey(key)
		assert.False(t, ok, key)
	}
}

func TestCreateAndUpload(t *testing.T) {
	db := testingpkg.NewTestDB(t, "monitor")
	_, err := db.Exec(`INSERT INTO monitoring_jobs (job_id, security_id, interval_minutes, status, started_at, last_message, updated_at)
		VALUES ('j1', '600519', 30, 'RUNNING', 1, 'started', 1)`)
	require.NoError(t, err)

	store := newMemoryStore()
	s := NewBackupService(store, t.TempDir(), "stockwatch", zerolog.Nop(), db)
	s.now = func() time.Time { return time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC) }

	key, err := s.CreateAndUpload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stockwatch/stockwatch-backup-2026-03-02-160000.tar.gz", key)

	data, ok := store.objects[key]
	require.True(t, ok)

	files := readArchive(t, data)
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"backup-metadata.json", "monitor.db"}, names)
	assert.True(t, bytes.HasPrefix(files["monitor.db"], []byte("SQLite format 3")))

	var meta BackupMetadata
	require.NoError(t, json.Unmarshal(files["backup-metadata.json"], &meta))
	require.Len(t, meta.Databases, 1)
	assert.Equal(t, "monitor", meta.Databases[0].Name)
	assert.Equal(t, int64(len(files["monitor.db"])), meta.Databases[0].SizeBytes)
	assert.True(t, strings.HasPrefix(meta.Databases[0].Checksum, "sha256:"))
}

func TestRotateOldBackups(t *testing.T) {
	now := time.Date(2026, 3, 30, 12, 0, 0, 0, time.UTC)
	store := newMemoryStore()
	s := NewBackupService(store, t.TempDir(), "stockwatch", zerolog.Nop())
	s.now = func() time.Time { return now }

	var keys []string
	for _, daysAgo := range []int{1, 2, 40, 45, 50, 3} {
		key := s.ArchiveKey(now.AddDate(0, 0, -daysAgo))
		keys = append(keys, key)
		store.objects[key] = []byte("x")
	}
	store.objects["stockwatch/notes.txt"] = []byte("ignored")
	store.failDel[keys[4]] = true

	backups, err := s.ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 6)
	assert.Equal(t, keys[0], backups[0].Key)
	assert.Equal(t, int64(24), backups[0].AgeHours)

	deleted, err := s.RotateOldBackups(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.ElementsMatch(t, []string{keys[2], keys[3]}, store.deleted)
	assert.Contains(t, store.objects, keys[4])
}

func TestRotateOldBackups_KeepsMinimum(t *testing.T) {
	now := time.Date(2026, 3, 30, 12, 0, 0, 0, time.UTC)
	store := newMemoryStore()
	s := NewBackupService(store, t.TempDir(), "", zerolog.Nop())
	s.now = func() time.Time { return now }

	for _, daysAgo := range []int{100, 200, 300} {
		store.objects[s.ArchiveKey(now.AddDate(0, 0, -daysAgo))] = []byte("x")
	}

	deleted, err := s.RotateOldBackups(context.Background(), 7)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	deleted, err = s.RotateOldBackups(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, deleted)
	assert.Len(t, store.objects, 3)
}

func TestBackupJob(t *testing.T) {
	db := testingpkg.NewTestDB(t, "monitor")
	store := newMemoryStore()
	job := NewBackupJob(NewBackupService(store, t.TempDir(), "stockwatch", zerolog.Nop(), db), 30, zerolog.Nop())

	assert.Equal(t, "offsite_backup", job.Name())
	require.NoError(t, job.Run())
	assert.Len(t, store.objects, 1)
}

func TestDailyMaintenanceJob(t *testing.T) {
	db := testingpkg.NewTestDB(t, "monitor")
	job := NewDailyMaintenanceJob(t.TempDir(), zerolog.Nop(), db)

	assert.Equal(t, "daily_maintenance", job.Name())
	assert.NoError(t, job.Run())
}

func readArchive(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	files := make(map[string][]byte)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[hdr.Name] = content
	}
	return files
}
