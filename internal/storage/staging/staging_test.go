package staging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// testStaging создаёт Staging во временной директории с короткими
// интервалами опроса, чтобы тесты не ждали минутами.
func testStaging(t *testing.T) *Staging {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	s, err := New(t.TempDir(), 10*time.Millisecond, 50*time.Millisecond, logger)
	if err != nil {
		t.Fatalf("New() вернул ошибку: %v", err)
	}
	return s
}

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("не удалось создать файл %s: %v", path, err)
	}
}

func TestIsInCacheMiss(t *testing.T) {
	s := testStaging(t)

	hit, err := s.IsInCache(context.Background(), "absent.tar")
	if err != nil {
		t.Fatalf("IsInCache() вернул ошибку: %v", err)
	}
	if hit {
		t.Error("IsInCache() = true для отсутствующего файла")
	}
}

func TestIsInCacheStableFile(t *testing.T) {
	s := testStaging(t)
	writeFile(t, s.Path("data.tar"), 1024)

	hit, err := s.IsInCache(context.Background(), "data.tar")
	if err != nil {
		t.Fatalf("IsInCache() вернул ошибку: %v", err)
	}
	if !hit {
		t.Error("IsInCache() = false для стабильного файла")
	}
}

func TestIsInCacheFileVanishes(t *testing.T) {
	s := testStaging(t)
	path := s.Path("vanishing.tar")
	writeFile(t, path, 1024)

	// Файл удаляется другим процессом между опросами
	go func() {
		time.Sleep(5 * time.Millisecond)
		os.Remove(path)
	}()

	hit, err := s.IsInCache(context.Background(), "vanishing.tar")
	if err != nil {
		t.Fatalf("IsInCache() вернул ошибку: %v", err)
	}
	if hit {
		t.Error("IsInCache() = true для исчезнувшего файла")
	}
}

func TestIsInCacheOrphanedZeroSize(t *testing.T) {
	s := testStaging(t)
	path := s.Path("orphan.tar")
	writeFile(t, path, 0)

	hit, err := s.IsInCache(context.Background(), "orphan.tar")
	if err != nil {
		t.Fatalf("IsInCache() вернул ошибку: %v", err)
	}
	if hit {
		t.Error("IsInCache() = true для мёртвой нулевой закачки")
	}
	// Мёртвый файл должен быть удалён
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("мёртвый файл нулевого размера не удалён")
	}
}

func TestIsInCacheGrowingFile(t *testing.T) {
	s := testStaging(t)
	path := s.Path("growing.tar")
	writeFile(t, path, 100)

	// Имитация докачки: размер растёт, потом стабилизируется
	go func() {
		time.Sleep(5 * time.Millisecond)
		writeFile(t, path, 500)
	}()

	hit, err := s.IsInCache(context.Background(), "growing.tar")
	if err != nil {
		t.Fatalf("IsInCache() вернул ошибку: %v", err)
	}
	if !hit {
		t.Error("IsInCache() = false для стабилизировавшегося файла")
	}
}

func TestIsInCacheContextCancelled(t *testing.T) {
	s := testStaging(t)
	writeFile(t, s.Path("data.tar"), 1024)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.IsInCache(ctx, "data.tar"); err == nil {
		t.Error("IsInCache() с отменённым контекстом не вернул ошибку")
	}
}

func TestTouchAccessPreservesModTime(t *testing.T) {
	s := testStaging(t)
	path := s.Path("data.tar")
	writeFile(t, path, 10)

	// Состарим файл
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	if err := s.TouchAccess("data.tar"); err != nil {
		t.Fatalf("TouchAccess() вернул ошибку: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !info.ModTime().Truncate(time.Second).Equal(old.Truncate(time.Second)) {
		t.Errorf("mtime изменился: %v, хотели %v", info.ModTime(), old)
	}

	atime, err := accessTime(info)
	if err != nil {
		t.Fatalf("accessTime: %v", err)
	}
	if time.Since(atime) > time.Minute {
		t.Errorf("atime не обновлён: %v", atime)
	}
}

func TestTotalSizeAndUsage(t *testing.T) {
	s := testStaging(t)
	writeFile(t, s.Path("a.tar"), 1000)
	writeFile(t, s.Path("b.tar"), 2000)

	// Поддиректории не учитываются
	if err := os.MkdirAll(filepath.Join(s.Dir(), "sub"), 0o750); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	writeFile(t, filepath.Join(s.Dir(), "sub", "c.tar"), 4000)

	size, err := s.TotalSize()
	if err != nil {
		t.Fatalf("TotalSize() вернул ошибку: %v", err)
	}
	if size != 3000 {
		t.Errorf("TotalSize() = %d, хотели 3000", size)
	}

	usage, err := s.UsageGB()
	if err != nil {
		t.Fatalf("UsageGB() вернул ошибку: %v", err)
	}
	if usage <= 0 || usage > 0.001 {
		t.Errorf("UsageGB() = %v, значение вне ожидаемого диапазона", usage)
	}
}

func TestRemoveMissingFile(t *testing.T) {
	s := testStaging(t)
	if err := s.Remove("absent.tar"); err != nil {
		t.Errorf("Remove() отсутствующего файла вернул ошибку: %v", err)
	}
}

func TestPurgeTTL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	root := t.TempDir()

	oldFile := filepath.Join(root, "old.tar")
	freshFile := filepath.Join(root, "fresh.tar")
	keptFile := filepath.Join(root, "keep.tar")
	for _, p := range []string{oldFile, freshFile, keptFile} {
		if err := os.WriteFile(p, []byte("data"), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	// Состарим old.tar и keep.tar
	old := time.Now().Add(-48 * time.Hour)
	for _, p := range []string{oldFile, keptFile} {
		if err := os.Chtimes(p, old, old); err != nil {
			t.Fatalf("Chtimes: %v", err)
		}
	}

	whitelist := map[string]struct{}{"keep.tar": {}}

	purged, err := PurgeTTL(root, 24*time.Hour, whitelist, logger)
	if err != nil {
		t.Fatalf("PurgeTTL() вернул ошибку: %v", err)
	}
	if purged != 1 {
		t.Errorf("PurgeTTL() = %d, хотели 1", purged)
	}

	if _, err := os.Stat(oldFile); !os.IsNotExist(err) {
		t.Error("устаревший файл не удалён")
	}
	if _, err := os.Stat(freshFile); err != nil {
		t.Error("свежий файл удалён")
	}
	if _, err := os.Stat(keptFile); err != nil {
		t.Error("файл из whitelist удалён")
	}
}

func TestPurgeTTLRecursive(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	root := t.TempDir()

	sub := filepath.Join(root, "nested")
	if err := os.MkdirAll(sub, 0o750); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	nested := filepath.Join(sub, "deep.tar")
	if err := os.WriteFile(nested, []byte("data"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(nested, old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	purged, err := PurgeTTL(root, 24*time.Hour, map[string]struct{}{}, logger)
	if err != nil {
		t.Fatalf("PurgeTTL() вернул ошибку: %v", err)
	}
	if purged != 1 {
		t.Errorf("PurgeTTL() = %d, хотели 1", purged)
	}
	if _, err := os.Stat(nested); !os.IsNotExist(err) {
		t.Error("вложенный устаревший файл не удалён")
	}
	// Директории остаются
	if _, err := os.Stat(sub); err != nil {
		t.Error("поддиректория удалена")
	}
}
