// main.go — точка входа housekeeper: разовая TTL-очистка staging
// по времени последнего доступа. Запускается по cron.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/bigkaa/gosds/retrieval-module/internal/storage/staging"
)

func main() {
	var (
		dataRoot      = flag.String("dataroot", "", "корень очищаемой директории (обязательный)")
		ttl           = flag.Duration("ttl", 24*time.Hour, "срок жизни файла с момента последнего доступа")
		whitelistPath = flag.String("whitelist", "", "CSV-файл с колонкой file: файлы, которые не удаляются")
		logLevel      = flag.String("log-level", "info", "уровень логирования (debug, info, warn, error)")
	)
	flag.Parse()

	if *dataRoot == "" {
		flag.Usage()
		log.Fatal("параметр -dataroot обязателен")
	}

	logger := setupLogger(*logLevel)

	whitelist, err := loadWhitelist(*whitelistPath)
	if err != nil {
		log.Fatalf("Ошибка загрузки whitelist: %v", err)
	}

	logger.Info("Housekeeper запускается",
		slog.String("dataroot", *dataRoot),
		slog.Duration("ttl", *ttl),
		slog.Int("whitelist", len(whitelist)),
	)

	purged, err := staging.PurgeTTL(*dataRoot, *ttl, whitelist, logger)
	if err != nil {
		logger.Error("Очистка завершилась с ошибкой",
			slog.Int("purged", purged),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger.Info("Очистка завершена", slog.Int("purged", purged))
}

// setupLogger настраивает текстовый slog-логгер (утилита запускается
// из cron, JSON здесь не нужен).
func setupLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// loadWhitelist читает CSV-файл с заголовком, используется колонка file.
// Пустой путь — пустой список.
func loadWhitelist(path string) (map[string]struct{}, error) {
	whitelist := make(map[string]struct{})
	if path == "" {
		return whitelist, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия whitelist %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return whitelist, nil
		}
		return nil, fmt.Errorf("ошибка чтения заголовка whitelist: %w", err)
	}

	fileCol := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), "file") {
			fileCol = i
			break
		}
	}
	if fileCol == -1 {
		return nil, fmt.Errorf("whitelist %s: колонка file не найдена", path)
	}

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения whitelist: %w", err)
		}
		if fileCol >= len(record) {
			continue
		}
		name := strings.TrimSpace(record[fileCol])
		if name != "" {
			whitelist[name] = struct{}{}
		}
	}

	return whitelist, nil
}
