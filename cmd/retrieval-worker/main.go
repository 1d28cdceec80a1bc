// main.go — точка входа воркера: потребляет очередь заданий,
// извлекает коллекции из ленточного архива в staging и уведомляет
// заказчиков. Одно задание за раз (prefetch=1).
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/gosds/retrieval-module/internal/config"
	"github.com/bigkaa/gosds/retrieval-module/internal/database"
	"github.com/bigkaa/gosds/retrieval-module/internal/hsi"
	"github.com/bigkaa/gosds/retrieval-module/internal/notify"
	"github.com/bigkaa/gosds/retrieval-module/internal/queue"
	"github.com/bigkaa/gosds/retrieval-module/internal/repository"
	"github.com/bigkaa/gosds/retrieval-module/internal/storage/staging"
	"github.com/bigkaa/gosds/retrieval-module/internal/worker"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	// 2. Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Retrieval Worker запускается",
		slog.String("version", config.Version),
		slog.String("queue", cfg.WorkQueue),
		slog.String("staging", cfg.StagingDir),
	)

	// Контекст процесса: отменяется по SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. PostgreSQL
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Ошибка подключения к PostgreSQL: %v", err)
	}
	defer pool.Close()

	jobRepo := repository.NewJobRepository(pool)

	// 4. Staging
	stg, err := staging.New(cfg.StagingDir, cfg.PollInterval, cfg.ZeroSizeLimit, logger)
	if err != nil {
		log.Fatalf("Ошибка инициализации staging: %v", err)
	}

	// 5. Утилита извлечения из архива
	runner := hsi.NewCLIRunner(hsi.Config{
		BinPath:      cfg.HSIBinPath,
		KeytabPath:   cfg.HSIKeytabPath,
		User:         cfg.HSIUser,
		FirewallMode: cfg.FirewallMode,
		Timeout:      cfg.HSITimeout,
	}, logger)

	// 6. Уведомления по почте
	notifier := notify.NewSMTPNotifier(
		cfg.SMTPServer, cfg.EmailSender, cfg.ContactEmail, cfg.HTTPDownloadBase, logger)

	// 7. Обработчик заданий
	w := worker.New(jobRepo, stg, runner, notifier,
		cfg.StagingUsageThresholdGB, cfg.HTTPDownloadBase, logger)

	// 8. Метрики воркера на отдельном порту
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.Info("Сервер метрик запущен", slog.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("Ошибка сервера метрик", slog.String("error", err.Error()))
		}
	}()

	// 9. Потребление очереди (блокирующий вызов)
	consumer := queue.NewConsumer(cfg.BrokerURL(), cfg.WorkQueue, logger)
	if err := consumer.Run(ctx, w.Handle); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Потребитель очереди завершился с ошибкой", slog.String("error", err.Error()))
		log.Fatalf("Воркер завершился с ошибкой: %v", err)
	}

	logger.Info("Retrieval Worker остановлен")
}
