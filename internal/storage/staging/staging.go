// Пакет staging — операции с staging-директорией (локальным кэшем
// извлечённых из архива файлов): проверка наличия с детекцией
// стабильности, обновление времени доступа, подсчёт занятости,
// TTL-очистка для housekeeper.
package staging

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Staging — staging-директория воркера.
type Staging struct {
	// dir — корневая директория staging (RM_STAGING_DIR)
	dir string
	// pollInterval — интервал опроса размера файла (RM_WORKER_POLL_INTERVAL)
	pollInterval time.Duration
	// zeroSizeLimit — предел суммарного ожидания нулевого размера (RM_WORKER_ZERO_SIZE_LIMIT)
	zeroSizeLimit time.Duration
	logger        *slog.Logger
}

// New создаёт Staging. Проверяет и создаёт директорию, если она не существует.
func New(dir string, pollInterval, zeroSizeLimit time.Duration, logger *slog.Logger) (*Staging, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать staging-директорию %s: %w", dir, err)
	}

	return &Staging{
		dir:           dir,
		pollInterval:  pollInterval,
		zeroSizeLimit: zeroSizeLimit,
		logger:        logger.With(slog.String("component", "staging")),
	}, nil
}

// Dir возвращает путь к staging-директории.
func (s *Staging) Dir() string {
	return s.dir
}

// Path возвращает абсолютный путь файла в staging по basename.
func (s *Staging) Path(basename string) string {
	return filepath.Join(s.dir, basename)
}

// FileSize возвращает размер файла в staging в байтах.
func (s *Staging) FileSize(basename string) (int64, error) {
	info, err := os.Stat(s.Path(basename))
	if err != nil {
		return 0, fmt.Errorf("ошибка получения информации о файле %s: %w", basename, err)
	}
	return info.Size(), nil
}

// Remove удаляет файл из staging. Отсутствие файла — не ошибка.
func (s *Staging) Remove(basename string) error {
	err := os.Remove(s.Path(basename))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", basename, err)
	}
	return nil
}

// IsInCache проверяет наличие стабильного файла в staging (cache hit).
//
// Файл может в этот момент докачиваться другим воркером, поэтому размер
// опрашивается каждые pollInterval до двух одинаковых подряд наблюдений:
//   - файл исчез между опросами — другой процесс удалил его, cache miss;
//   - размер остаётся нулевым дольше zeroSizeLimit — мёртвая закачка,
//     файл удаляется, cache miss;
//   - размер стабилизировался — cache hit, время доступа файла обновляется
//     на текущее (mtime сохраняется, чтобы не ломать TTL-очистку housekeeper).
//
// Опрос блокирует вызывающий поток; воркер в это время не берёт
// другие задания (single-flight).
func (s *Staging) IsInCache(ctx context.Context, basename string) (bool, error) {
	localPath := s.Path(basename)

	info, err := os.Stat(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("ошибка проверки файла %s: %w", basename, err)
	}
	if info.IsDir() {
		return false, nil
	}

	fileSize := info.Size()
	var zeroWait time.Duration

	for {
		if err := sleepCtx(ctx, s.pollInterval); err != nil {
			return false, err
		}

		info, err := os.Stat(localPath)
		if err != nil {
			if os.IsNotExist(err) {
				// Файл удалён другим процессом (например, по таймауту)
				return false, nil
			}
			return false, fmt.Errorf("ошибка опроса файла %s: %w", basename, err)
		}

		curSize := info.Size()

		// Для больших файлов размер какое-то время остаётся нулевым,
		// пока другой воркер начинает закачку
		if curSize == 0 {
			zeroWait += s.pollInterval
			if zeroWait < s.zeroSizeLimit {
				continue
			}
			// Мёртвый файл — удаляем
			s.logger.Warn("Обнаружена мёртвая закачка, файл удаляется",
				slog.String("file", basename),
			)
			if err := s.Remove(basename); err != nil {
				s.logger.Error("Ошибка удаления мёртвого файла", slog.String("error", err.Error()))
			}
			return false, nil
		}

		if curSize != fileSize {
			// Закачка продолжается
			fileSize = curSize
			continue
		}
		break
	}

	s.logger.Debug("Cache hit", slog.String("file", basename))

	if err := s.TouchAccess(basename); err != nil {
		s.logger.Warn("Не удалось обновить время доступа",
			slog.String("file", basename),
			slog.String("error", err.Error()),
		)
	}

	return true, nil
}

// TouchAccess обновляет время доступа файла на текущее, сохраняя mtime.
// Housekeeper очищает staging по atime, так что свежий hit продлевает
// жизнь файла в кэше.
func (s *Staging) TouchAccess(basename string) error {
	localPath := s.Path(basename)

	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("ошибка stat файла %s: %w", basename, err)
	}

	if err := os.Chtimes(localPath, time.Now(), info.ModTime()); err != nil {
		return fmt.Errorf("ошибка обновления времени доступа %s: %w", basename, err)
	}
	return nil
}

// TotalSize возвращает суммарный размер файлов верхнего уровня staging в байтах.
func (s *Staging) TotalSize() (int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения staging-директории: %w", err)
	}

	var size int64
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			// Файл мог быть удалён между ReadDir и Info
			if os.IsNotExist(err) {
				continue
			}
			return 0, fmt.Errorf("ошибка получения информации о %s: %w", entry.Name(), err)
		}
		if !info.Mode().IsRegular() {
			continue
		}
		size += info.Size()
	}
	return size, nil
}

// UsageGB возвращает занятость staging в гигабайтах.
func (s *Staging) UsageGB() (float64, error) {
	size, err := s.TotalSize()
	if err != nil {
		return 0, err
	}
	return float64(size) / (1024 * 1024 * 1024), nil
}

// PurgeTTL рекурсивно удаляет из root файлы, к которым не обращались
// дольше ttl. Файлы из whitelist (по basename) не затрагиваются.
// Возвращает количество удалённых файлов.
func PurgeTTL(root string, ttl time.Duration, whitelist map[string]struct{}, logger *slog.Logger) (int, error) {
	now := time.Now()
	purged := 0

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Файл мог исчезнуть во время обхода
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}

		basename := filepath.Base(path)
		if _, ok := whitelist[basename]; ok {
			logger.Debug("Файл в whitelist, пропускается", slog.String("file", basename))
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}

		atime, err := accessTime(info)
		if err != nil {
			return err
		}

		elapsed := now.Sub(atime)
		if elapsed < ttl {
			return nil
		}

		logger.Info("Файл устарел, удаляется",
			slog.String("file", path),
			slog.Duration("elapsed", elapsed),
		)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("ошибка удаления файла %s: %w", path, err)
		}
		purged++
		return nil
	})
	if err != nil {
		return purged, fmt.Errorf("ошибка TTL-очистки %s: %w", root, err)
	}

	return purged, nil
}

// sleepCtx спит d или возвращает ошибку отмены контекста.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
