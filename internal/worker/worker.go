// Пакет worker — обработчик заданий извлечения из ленточного архива.
// Одно задание за раз (prefetch=1): проверка кэша, admission control
// по занятости staging, извлечение внешней утилитой, фиксация исхода
// и уведомление заказчика.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/gosds/retrieval-module/internal/domain/model"
	"github.com/bigkaa/gosds/retrieval-module/internal/hsi"
	"github.com/bigkaa/gosds/retrieval-module/internal/notify"
	"github.com/bigkaa/gosds/retrieval-module/internal/queue"
	"github.com/bigkaa/gosds/retrieval-module/internal/repository"
	"github.com/bigkaa/gosds/retrieval-module/internal/storage/staging"
)

// Результаты обработки (метка метрики).
const (
	resultCompleted = "completed"
	resultFailed    = "failed"
	resultCancelled = "cancelled"
)

// Метрики воркера.
var (
	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rm_jobs_processed_total",
		Help: "Количество обработанных заданий по результатам.",
	}, []string{"result"})
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rm_cache_hits_total",
		Help: "Количество заданий, обслуженных из staging-кэша.",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rm_cache_misses_total",
		Help: "Количество заданий, потребовавших извлечения из архива.",
	})
	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rm_job_duration_seconds",
		Help:    "Длительность обработки задания.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})
	stagingUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rm_staging_usage_gb",
		Help: "Занятость staging-директории в гигабайтах.",
	})
)

// Worker — обработчик сообщений очереди заданий.
type Worker struct {
	jobs     repository.JobRepository
	staging  *staging.Staging
	runner   hsi.Runner
	notifier notify.Notifier
	// usageThresholdGB — порог занятости staging для admission control
	usageThresholdGB float64
	// downloadBase — база публичных ссылок (без завершающего /)
	downloadBase string
	logger       *slog.Logger
}

// New создаёт обработчик заданий.
func New(
	jobs repository.JobRepository,
	stg *staging.Staging,
	runner hsi.Runner,
	notifier notify.Notifier,
	usageThresholdGB float64,
	downloadBase string,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		jobs:             jobs,
		staging:          stg,
		runner:           runner,
		notifier:         notifier,
		usageThresholdGB: usageThresholdGB,
		downloadBase:     downloadBase,
		logger:           logger.With(slog.String("component", "worker")),
	}
}

// Handle обрабатывает одно сообщение очереди. Сигнатура соответствует
// handler'у queue.Consumer.Run.
//
// Дисциплина подтверждений: единственный путь с Reject (без повторной
// доставки) — отказ admission control до начала обработки. Все остальные
// исходы, включая сбой извлечения, завершаются Ack: решение о повторе
// принимает заказчик, а не очередь.
func (w *Worker) Handle(ctx context.Context, msg queue.JobMessage, ack queue.Acknowledger) {
	started := time.Now()
	basename := filepath.Base(msg.SDAPath)

	logger := w.logger.With(
		slog.String("job_id", msg.JobID),
		slog.String("collection", basename),
	)
	logger.Info("Получено задание", slog.String("sda_path", msg.SDAPath))

	// Проверка кэша блокирует до стабилизации размера файла; ошибки
	// проверки трактуются как cache miss
	inCache, err := w.staging.IsInCache(ctx, basename)
	if err != nil {
		if ctx.Err() != nil {
			// Остановка процесса: сообщение останется неподтверждённым
			// и будет доставлено повторно
			return
		}
		logger.Warn("Ошибка проверки кэша, считается cache miss", slog.String("error", err.Error()))
		inCache = false
	}

	if inCache {
		cacheHits.Inc()
	} else {
		cacheMisses.Inc()

		// Admission control: при переполненном staging задание отменяется
		// до каких-либо изменений состояния
		usage, err := w.staging.UsageGB()
		if err != nil {
			logger.Error("Ошибка подсчёта занятости staging", slog.String("error", err.Error()))
			usage = 0
		}
		stagingUsage.Set(usage)

		if usage >= w.usageThresholdGB {
			logger.Warn("Staging переполнен, задание отменяется",
				slog.Float64("usage_gb", usage),
				slog.Float64("threshold_gb", w.usageThresholdGB),
			)
			w.cancel(ctx, msg, basename, logger)

			if err := ack.Reject(); err != nil {
				logger.Error("Ошибка отклонения сообщения", slog.String("error", err.Error()))
			}
			jobsProcessed.WithLabelValues(resultCancelled).Inc()
			return
		}
	}

	// С этого места сообщение подтверждается при любом исходе
	defer func() {
		if err := ack.Ack(); err != nil {
			logger.Error("Ошибка подтверждения сообщения", slog.String("error", err.Error()))
		}
		jobDuration.Observe(time.Since(started).Seconds())
	}()

	if err := w.process(ctx, msg, basename, inCache, logger); err != nil {
		logger.Error("Задание завершилось с ошибкой", slog.String("error", err.Error()))

		if err := w.jobs.UpdateStatus(ctx, msg.JobID, model.JobStatusFailed); err != nil {
			logger.Error("Ошибка перевода задания в failed", slog.String("error", err.Error()))
		}
		if err := w.notifier.Failure(msg.Email, basename); err != nil {
			logger.Error("Ошибка отправки письма о сбое", slog.String("error", err.Error()))
		}
		jobsProcessed.WithLabelValues(resultFailed).Inc()
		return
	}

	jobsProcessed.WithLabelValues(resultCompleted).Inc()
}

// process выполняет задание: извлечение (при cache miss), фиксация
// размера и ссылки, письмо о готовности. Ошибка отправки письма
// не считается ошибкой задания: файл извлечён и доступен.
func (w *Worker) process(ctx context.Context, msg queue.JobMessage, basename string, inCache bool, logger *slog.Logger) error {
	if err := w.jobs.UpdateStatus(ctx, msg.JobID, model.JobStatusProcessing); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("задание %s отсутствует в БД", msg.JobID)
		}
		return fmt.Errorf("ошибка перевода задания в processing: %w", err)
	}

	localPath := w.staging.Path(basename)

	if !inCache {
		logger.Info("Извлечение из архива", slog.String("remote", msg.SDAPath))
		if err := w.runner.Pull(ctx, localPath, msg.SDAPath); err != nil {
			return fmt.Errorf("ошибка извлечения из архива: %w", err)
		}
	}

	sizeBytes, err := w.staging.FileSize(basename)
	if err != nil {
		return fmt.Errorf("ошибка определения размера файла: %w", err)
	}
	sizeMB := sizeBytes >> 20

	downloadURL := w.downloadBase + "/" + basename

	if err := w.jobs.MarkCompleted(ctx, msg.JobID, sizeMB, downloadURL); err != nil {
		return fmt.Errorf("ошибка завершения задания: %w", err)
	}

	logger.Info("Задание завершено",
		slog.Int64("size_mb", sizeMB),
		slog.String("download_url", downloadURL),
	)

	if err := w.notifier.Completion(msg.Email, basename); err != nil {
		logger.Error("Ошибка отправки письма о готовности", slog.String("error", err.Error()))
	}

	return nil
}

// cancel переводит задание в cancelled и уведомляет заказчика.
// Оба действия best-effort.
func (w *Worker) cancel(ctx context.Context, msg queue.JobMessage, basename string, logger *slog.Logger) {
	if err := w.jobs.UpdateStatus(ctx, msg.JobID, model.JobStatusCancelled); err != nil {
		logger.Error("Ошибка перевода задания в cancelled", slog.String("error", err.Error()))
	}
	if err := w.notifier.Cancellation(msg.Email, basename); err != nil {
		logger.Error("Ошибка отправки письма об отмене", slog.String("error", err.Error()))
	}
}
