package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/gosds/retrieval-module/internal/domain/model"
	"github.com/bigkaa/gosds/retrieval-module/internal/repository"
)

// Метрики сервиса токенов.
var (
	tokensIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rm_tokens_issued_total",
		Help: "Количество выданных токенов скачивания.",
	})
	tokenDownloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rm_token_downloads_total",
		Help: "Количество скачиваний по токенам.",
	})
	tokensSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rm_tokens_swept_total",
		Help: "Количество токенов, переведённых в expired фоновой очисткой.",
	})
)

// TokenService — выдача и проверка токенов скачивания.
// Токен привязан к завершённому заданию, действует TokenExpiry
// с момента выдачи и не более maxDownloads скачиваний.
type TokenService struct {
	tokens repository.TokenRepository
	jobs   repository.JobRepository
	// maxDownloads — лимит скачиваний нового токена
	maxDownloads int
	// expiry — срок действия нового токена
	expiry time.Duration
	logger *slog.Logger
}

// NewTokenService создаёт сервис токенов.
func NewTokenService(
	tokens repository.TokenRepository,
	jobs repository.JobRepository,
	maxDownloads int,
	expiry time.Duration,
	logger *slog.Logger,
) *TokenService {
	return &TokenService{
		tokens:       tokens,
		jobs:         jobs,
		maxDownloads: maxDownloads,
		expiry:       expiry,
		logger:       logger.With(slog.String("component", "token_service")),
	}
}

// Issue выдаёт новый токен для задания jobID заказчику userEmail.
// Задание должно существовать, принадлежать заказчику и быть completed.
// Повторный Issue выдаёт новый независимый токен, прежние не отзываются.
func (s *TokenService) Issue(ctx context.Context, jobID, userEmail string) (*model.DownloadToken, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("ошибка получения задания: %w", err)
	}

	if job.Email != userEmail {
		return nil, ErrForbidden
	}
	if job.Status != model.JobStatusCompleted {
		return nil, ErrJobNotReady
	}

	now := time.Now()
	tokenStr, err := generateToken(jobID, userEmail, now)
	if err != nil {
		return nil, err
	}

	token := &model.DownloadToken{
		Token:        tokenStr,
		JobID:        jobID,
		Status:       model.TokenStatusActive,
		MaxDownloads: s.maxDownloads,
		CreatedTime:  now,
		ExpiresAt:    now.Add(s.expiry),
	}

	tokenID, err := s.tokens.Insert(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("ошибка сохранения токена: %w", err)
	}
	token.TokenID = tokenID

	s.logger.Info("Выдан токен скачивания",
		slog.String("job_id", jobID),
		slog.String("email", userEmail),
		slog.Time("expires_at", token.ExpiresAt),
	)
	tokensIssuedTotal.Inc()

	return token, nil
}

// Validate возвращает токен по opaque-строке, если он пригоден
// для скачивания. Пересёкшая границу запись лениво переводится
// в expired прямо здесь, не дожидаясь фоновой очистки.
func (s *TokenService) Validate(ctx context.Context, tokenStr string) (*model.DownloadToken, error) {
	token, err := s.tokens.GetByToken(ctx, tokenStr)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("ошибка получения токена: %w", err)
	}

	if token.Status == model.TokenStatusActive && token.ShouldExpire() {
		if err := s.tokens.MarkExpired(ctx, token.TokenID); err != nil {
			s.logger.Error("Ошибка ленивого перевода токена в expired",
				slog.Int64("token_id", token.TokenID),
				slog.String("error", err.Error()),
			)
		}
		token.Status = model.TokenStatusExpired
	}

	if !token.IsValid() {
		return nil, ErrTokenInvalid
	}

	return token, nil
}

// RecordDownload фиксирует выполненное скачивание: атомарный инкремент
// счётчика, время и IP; при достижении лимита токен переводится
// в expired тем же запросом. Возвращает обновлённый снимок.
func (s *TokenService) RecordDownload(ctx context.Context, token *model.DownloadToken, clientIP string) (*model.DownloadToken, error) {
	if !token.IsValid() {
		return nil, ErrTokenInvalid
	}

	updated, err := s.tokens.RecordDownload(ctx, token.TokenID, clientIP)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("ошибка фиксации скачивания: %w", err)
	}

	s.logger.Info("Скачивание по токену",
		slog.String("job_id", updated.JobID),
		slog.Int("download_count", updated.DownloadCount),
		slog.String("client_ip", clientIP),
	)
	tokenDownloadsTotal.Inc()

	return updated, nil
}

// SweepExpired переводит в expired все active-токены с пересечённой
// границей. Возвращает количество затронутых записей.
func (s *TokenService) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.tokens.SweepExpired(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("Фоновая очистка токенов", slog.Int64("expired", n))
		tokensSweptTotal.Add(float64(n))
	}
	return n, nil
}

// RunSweeper периодически вызывает SweepExpired до отмены ctx.
// Блокирующий вызов, запускается в отдельной горутине.
func (s *TokenService) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepExpired(ctx); err != nil {
				s.logger.Error("Ошибка фоновой очистки токенов", slog.String("error", err.Error()))
			}
		}
	}
}

// generateToken формирует opaque-строку токена: SHA-256 от задания,
// адреса, метки времени и 16 случайных байт; берутся первые 32
// hex-символа. Непредсказуемость обеспечивает случайная соль.
func generateToken(jobID, userEmail string, ts time.Time) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("ошибка генерации соли токена: %w", err)
	}

	seed := fmt.Sprintf("%s:%s:%d:%s", jobID, userEmail, ts.UnixNano(), hex.EncodeToString(salt))
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])[:32], nil
}
