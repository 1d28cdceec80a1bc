// main.go — точка входа HTTP API Retrieval Module: приём заявок
// на извлечение из ленточного архива, выдача токенов, скачивание,
// консоль операторов.
package main

import (
	"context"
	"log"
	"log/slog"

	"github.com/bigkaa/gosds/retrieval-module/internal/api/handlers"
	"github.com/bigkaa/gosds/retrieval-module/internal/config"
	"github.com/bigkaa/gosds/retrieval-module/internal/database"
	"github.com/bigkaa/gosds/retrieval-module/internal/queue"
	"github.com/bigkaa/gosds/retrieval-module/internal/repository"
	"github.com/bigkaa/gosds/retrieval-module/internal/server"
	"github.com/bigkaa/gosds/retrieval-module/internal/service"
	"github.com/bigkaa/gosds/retrieval-module/internal/session"
	"github.com/bigkaa/gosds/retrieval-module/internal/storage/staging"
)

// maxOpsSessions — верхняя граница одновременных сессий операторов.
const maxOpsSessions = 64

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	// 2. Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Retrieval API запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	ctx := context.Background()

	// 3. PostgreSQL: миграции и пул подключений
	if err := database.Migrate(cfg, logger); err != nil {
		log.Fatalf("Ошибка применения миграций: %v", err)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Ошибка подключения к PostgreSQL: %v", err)
	}
	defer pool.Close()

	jobRepo := repository.NewJobRepository(pool)
	tokenRepo := repository.NewTokenRepository(pool)

	// 4. Deny-list
	denyList, err := service.LoadDenyList(cfg.DenyListPath)
	if err != nil {
		log.Fatalf("Ошибка загрузки deny-list: %v", err)
	}
	logger.Info("Deny-list загружен", slog.Int("entries", len(denyList)))

	// 5. Сервисы
	publisher := queue.NewPublisher(cfg.BrokerURL(), cfg.WorkQueue, logger)
	submitSvc := service.NewSubmitService(jobRepo, publisher, denyList, cfg.MinJobInterval, logger)
	tokenSvc := service.NewTokenService(tokenRepo, jobRepo, cfg.TokenMaxDownloads, cfg.TokenExpiry, logger)

	// 6. Staging (только чтение: отдача файлов по токену)
	stg, err := staging.New(cfg.StagingDir, cfg.PollInterval, cfg.ZeroSizeLimit, logger)
	if err != nil {
		log.Fatalf("Ошибка инициализации staging: %v", err)
	}

	// 7. Сессии операторов
	sessions := session.NewStore(cfg.SessionTTL, maxOpsSessions)

	// 8. Фоновая очистка просроченных токенов
	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	go tokenSvc.RunSweeper(sweepCtx, cfg.TokenSweepInterval)

	// 9. HTTP-сервер
	srv := server.New(cfg, logger, server.Handlers{
		Pull:   handlers.NewPullHandler(submitSvc, logger),
		Token:  handlers.NewTokenHandler(tokenSvc, jobRepo, stg, logger),
		Ops:    handlers.NewOpsHandler(sessions, jobRepo, tokenSvc, cfg.OpsSecret, logger),
		Health: handlers.NewHealthHandler(database.NewReadinessChecker(pool), logger),
	})

	// 10. Запуск сервера (блокирующий вызов с graceful shutdown)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		log.Fatalf("Сервер завершился с ошибкой: %v", err)
	}

	logger.Info("Retrieval API остановлен")
}
