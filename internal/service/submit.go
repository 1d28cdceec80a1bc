// Пакет service — прикладная логика Retrieval Module: приём заявок
// с дедупликацией, выдача и проверка токенов скачивания.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/gosds/retrieval-module/internal/domain/model"
	"github.com/bigkaa/gosds/retrieval-module/internal/queue"
	"github.com/bigkaa/gosds/retrieval-module/internal/repository"
)

// Тексты ответов шлюза. Возвращаются заказчику как есть.
const (
	msgAccepted = "Your download request has been submitted. You will receive an email response to your request with a download link. Once your request has been processed, the download link will remain valid for 24 hours"

	msgDenied = "Your request cannot be fulfilled since your email address is in deny list, please contact RDS admin if you think you are wrongly put on this list."

	msgDuplicate = "You submitted duplicate requests in short timeframe, please wait for completion of your prior request. Thank you for your cooperation."
)

// Исход приёма заявки (метка метрики).
const (
	outcomeAccepted  = "accepted"
	outcomeDenied    = "denied"
	outcomeDuplicate = "duplicate"
	outcomeError     = "error"
)

// QueuePublisher — публикация задания в очередь воркеров.
type QueuePublisher interface {
	Publish(ctx context.Context, msg queue.JobMessage) error
}

// submissionsTotal — количество заявок по исходам.
var submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rm_submissions_total",
	Help: "Количество заявок на извлечение по исходам.",
}, []string{"outcome"})

// SubmitResult — исход приёма заявки.
type SubmitResult struct {
	// Accepted — заявка принята в работу.
	Accepted bool
	// Kind — тип ответа: Acknowledgement, Warning или Invalid Request.
	Kind string
	// Message — текст для заказчика.
	Message string
	// JobID — идентификатор созданного задания (только при Accepted).
	JobID string
}

// SubmitService — шлюз приёма заявок: deny-list, дедупликация,
// создание записи задания, публикация в очередь.
type SubmitService struct {
	jobs      repository.JobRepository
	publisher QueuePublisher
	// denyList — заблокированные адреса (нижний регистр)
	denyList map[string]struct{}
	// minInterval — окно дедупликации
	minInterval time.Duration
	logger      *slog.Logger
}

// NewSubmitService создаёт шлюз приёма заявок.
func NewSubmitService(
	jobs repository.JobRepository,
	publisher QueuePublisher,
	denyList map[string]struct{},
	minInterval time.Duration,
	logger *slog.Logger,
) *SubmitService {
	return &SubmitService{
		jobs:        jobs,
		publisher:   publisher,
		denyList:    denyList,
		minInterval: minInterval,
		logger:      logger.With(slog.String("component", "submit_service")),
	}
}

// Submit принимает заявку на извлечение коллекции sdaPath для email.
// Порядок проверок фиксирован: deny-list, затем дедупликация.
// Запись задания вставляется в БД до публикации в очередь, чтобы
// воркер гарантированно нашёл её при обработке сообщения.
func (s *SubmitService) Submit(ctx context.Context, sdaPath, email, sourceIP string) (*SubmitResult, error) {
	email = strings.TrimSpace(email)
	collection := filepath.Base(sdaPath)

	if _, blocked := s.denyList[strings.ToLower(email)]; blocked {
		s.logger.Info("Адрес в deny-list, запрос отклонён", slog.String("email", email))
		submissionsTotal.WithLabelValues(outcomeDenied).Inc()
		return &SubmitResult{Kind: "Warning", Message: msgDenied}, nil
	}

	now := time.Now()

	// Дедупликация: самое свежее не-failed задание той же пары
	// (email, collection) внутри окна блокирует повтор. Неудачные
	// попытки не в счёт — заказчик вправе сразу повторить.
	last, err := s.jobs.LastNonFailed(ctx, email, collection)
	switch {
	case err == nil:
		if age := now.Sub(last.DateCreated); age < s.minInterval {
			s.logger.Info("Дубликат заявки внутри окна дедупликации",
				slog.String("email", email),
				slog.String("collection", collection),
				slog.Duration("age", age),
			)
			submissionsTotal.WithLabelValues(outcomeDuplicate).Inc()
			return &SubmitResult{Kind: "Invalid Request", Message: msgDuplicate}, nil
		}
	case errors.Is(err, repository.ErrNotFound):
		// Первая заявка этой пары
	default:
		submissionsTotal.WithLabelValues(outcomeError).Inc()
		return nil, fmt.Errorf("ошибка проверки дубликата: %w", err)
	}

	// UUID v1 — время в старших битах, идентификаторы сортируются
	// по моменту создания
	jobUUID, err := uuid.NewUUID()
	if err != nil {
		submissionsTotal.WithLabelValues(outcomeError).Inc()
		return nil, fmt.Errorf("ошибка генерации идентификатора задания: %w", err)
	}
	jobID := jobUUID.String()

	job := &model.Job{
		JobID:       jobID,
		Email:       email,
		SourceIP:    sourceIP,
		Collection:  collection,
		Status:      model.JobStatusSubmitted,
		DateCreated: now,
	}

	if err := s.jobs.Insert(ctx, job); err != nil {
		submissionsTotal.WithLabelValues(outcomeError).Inc()
		return nil, fmt.Errorf("ошибка создания задания: %w", err)
	}

	msg := queue.JobMessage{
		SDAPath: sdaPath,
		Email:   email,
		JobID:   jobID,
	}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		// Запись останется в submitted; без сообщения в очереди воркер
		// её не подхватит, поэтому заявка считается непринятой
		submissionsTotal.WithLabelValues(outcomeError).Inc()
		return nil, fmt.Errorf("ошибка публикации задания в очередь: %w", err)
	}

	s.logger.Info("Заявка принята",
		slog.String("job_id", jobID),
		slog.String("email", email),
		slog.String("collection", collection),
		slog.String("source_ip", sourceIP),
	)
	submissionsTotal.WithLabelValues(outcomeAccepted).Inc()

	return &SubmitResult{
		Accepted: true,
		Kind:     "Acknowledgement",
		Message:  msgAccepted,
		JobID:    jobID,
	}, nil
}
