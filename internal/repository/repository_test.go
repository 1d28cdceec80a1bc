package repository

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/gosds/retrieval-module/internal/config"
	"github.com/bigkaa/gosds/retrieval-module/internal/database"
	"github.com/bigkaa/gosds/retrieval-module/internal/domain/model"
)

// setupTestDB запускает PostgreSQL в Docker-контейнере через testcontainers,
// применяет миграции и возвращает пул подключений.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("sds_test"),
		postgres.WithUsername("sds"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	t.Setenv("RM_DB_HOST", host)
	t.Setenv("RM_DB_PORT", port.Port())
	t.Setenv("RM_DB_NAME", "sds_test")
	t.Setenv("RM_DB_USER", "sds")
	t.Setenv("RM_DB_PASSWORD", "test-password")
	t.Setenv("RM_DB_SSL_MODE", "disable")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка применения миграций: %v", err)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения к PostgreSQL: %v", err)
	}
	t.Cleanup(pool.Close)

	return pool
}

func testJob(jobID, email, collection string, status model.JobStatus, created time.Time) *model.Job {
	return &model.Job{
		JobID:       jobID,
		Email:       email,
		SourceIP:    "10.0.0.1",
		Collection:  collection,
		Status:      status,
		DateCreated: created,
	}
}

func TestJobRepository(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewJobRepository(pool)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond)

	if err := repo.Insert(ctx, testJob("job-1", "user@example.edu", "data.tar", model.JobStatusSubmitted, now)); err != nil {
		t.Fatalf("Insert() вернул ошибку: %v", err)
	}

	t.Run("GetByID", func(t *testing.T) {
		got, err := repo.GetByID(ctx, "job-1")
		if err != nil {
			t.Fatalf("GetByID() вернул ошибку: %v", err)
		}
		if got.Email != "user@example.edu" {
			t.Errorf("Email = %q, хотели %q", got.Email, "user@example.edu")
		}
		if got.Status != model.JobStatusSubmitted {
			t.Errorf("Status = %q, хотели submitted", got.Status)
		}
		if got.JobSize != nil || got.DownloadURL != nil {
			t.Error("JobSize/DownloadURL должны быть NULL для нового задания")
		}
	})

	t.Run("GetByID not found", func(t *testing.T) {
		if _, err := repo.GetByID(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetByID() = %v, хотели ErrNotFound", err)
		}
	})

	t.Run("UpdateStatus", func(t *testing.T) {
		if err := repo.UpdateStatus(ctx, "job-1", model.JobStatusProcessing); err != nil {
			t.Fatalf("UpdateStatus() вернул ошибку: %v", err)
		}
		got, _ := repo.GetByID(ctx, "job-1")
		if got.Status != model.JobStatusProcessing {
			t.Errorf("Status = %q, хотели processing", got.Status)
		}

		if err := repo.UpdateStatus(ctx, "nope", model.JobStatusFailed); !errors.Is(err, ErrNotFound) {
			t.Errorf("UpdateStatus() несуществующего задания = %v, хотели ErrNotFound", err)
		}
	})

	t.Run("MarkCompleted", func(t *testing.T) {
		if err := repo.MarkCompleted(ctx, "job-1", 42, "http://dl.example.edu/files/data.tar"); err != nil {
			t.Fatalf("MarkCompleted() вернул ошибку: %v", err)
		}
		got, _ := repo.GetByID(ctx, "job-1")
		if got.Status != model.JobStatusCompleted {
			t.Errorf("Status = %q, хотели completed", got.Status)
		}
		if got.JobSize == nil || *got.JobSize != 42 {
			t.Errorf("JobSize = %v, хотели 42", got.JobSize)
		}
		if got.DownloadURL == nil || *got.DownloadURL != "http://dl.example.edu/files/data.tar" {
			t.Errorf("DownloadURL = %v", got.DownloadURL)
		}
	})

	t.Run("LastNonFailed", func(t *testing.T) {
		// Более свежая failed-запись не должна затенять завершённую
		if err := repo.Insert(ctx, testJob("job-2", "user@example.edu", "data.tar", model.JobStatusFailed, now.Add(time.Minute))); err != nil {
			t.Fatalf("Insert() вернул ошибку: %v", err)
		}

		got, err := repo.LastNonFailed(ctx, "user@example.edu", "data.tar")
		if err != nil {
			t.Fatalf("LastNonFailed() вернул ошибку: %v", err)
		}
		if got.JobID != "job-1" {
			t.Errorf("JobID = %q, хотели job-1 (failed не учитывается)", got.JobID)
		}

		if _, err := repo.LastNonFailed(ctx, "other@example.edu", "data.tar"); !errors.Is(err, ErrNotFound) {
			t.Errorf("LastNonFailed() чужой пары = %v, хотели ErrNotFound", err)
		}
	})

	t.Run("ListRecent", func(t *testing.T) {
		jobs, err := repo.ListRecent(ctx, 10)
		if err != nil {
			t.Fatalf("ListRecent() вернул ошибку: %v", err)
		}
		if len(jobs) != 2 {
			t.Fatalf("ListRecent() вернул %d записей, хотели 2", len(jobs))
		}
		// Сортировка по дате создания, новые первыми
		if jobs[0].JobID != "job-2" {
			t.Errorf("первая запись = %q, хотели job-2", jobs[0].JobID)
		}
	})
}

func TestTokenRepository(t *testing.T) {
	pool := setupTestDB(t)
	jobs := NewJobRepository(pool)
	repo := NewTokenRepository(pool)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond)
	if err := jobs.Insert(ctx, testJob("job-1", "user@example.edu", "data.tar", model.JobStatusCompleted, now)); err != nil {
		t.Fatalf("Insert() задания вернул ошибку: %v", err)
	}

	token := &model.DownloadToken{
		Token:        "0123456789abcdef0123456789abcdef",
		JobID:        "job-1",
		Status:       model.TokenStatusActive,
		MaxDownloads: 3,
		CreatedTime:  now,
		ExpiresAt:    now.Add(24 * time.Hour),
	}

	tokenID, err := repo.Insert(ctx, token)
	if err != nil {
		t.Fatalf("Insert() вернул ошибку: %v", err)
	}
	if tokenID == 0 {
		t.Fatal("Insert() вернул нулевой token_id")
	}

	t.Run("GetByToken", func(t *testing.T) {
		got, err := repo.GetByToken(ctx, token.Token)
		if err != nil {
			t.Fatalf("GetByToken() вернул ошибку: %v", err)
		}
		if got.TokenID != tokenID {
			t.Errorf("TokenID = %d, хотели %d", got.TokenID, tokenID)
		}
		if got.LastDownloadTime != nil || got.LastDownloadIP != nil {
			t.Error("поля последнего скачивания должны быть NULL")
		}

		if _, err := repo.GetByToken(ctx, "ffffffffffffffffffffffffffffffff"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetByToken() неизвестного токена = %v, хотели ErrNotFound", err)
		}
	})

	t.Run("RecordDownload", func(t *testing.T) {
		got, err := repo.RecordDownload(ctx, tokenID, "10.0.0.2")
		if err != nil {
			t.Fatalf("RecordDownload() вернул ошибку: %v", err)
		}
		if got.DownloadCount != 1 {
			t.Errorf("DownloadCount = %d, хотели 1", got.DownloadCount)
		}
		if got.Status != model.TokenStatusActive {
			t.Errorf("Status = %q, хотели active (лимит не достигнут)", got.Status)
		}
		if got.LastDownloadIP == nil || *got.LastDownloadIP != "10.0.0.2" {
			t.Errorf("LastDownloadIP = %v, хотели 10.0.0.2", got.LastDownloadIP)
		}

		// Достижение лимита переводит токен в expired тем же UPDATE
		repo.RecordDownload(ctx, tokenID, "10.0.0.2")
		got, err = repo.RecordDownload(ctx, tokenID, "10.0.0.2")
		if err != nil {
			t.Fatalf("RecordDownload() вернул ошибку: %v", err)
		}
		if got.DownloadCount != 3 {
			t.Errorf("DownloadCount = %d, хотели 3", got.DownloadCount)
		}
		if got.Status != model.TokenStatusExpired {
			t.Errorf("Status = %q, хотели expired при достижении лимита", got.Status)
		}
	})

	t.Run("SweepExpired", func(t *testing.T) {
		stale := &model.DownloadToken{
			Token:        "fedcba9876543210fedcba9876543210",
			JobID:        "job-1",
			Status:       model.TokenStatusActive,
			MaxDownloads: 3,
			CreatedTime:  now.Add(-48 * time.Hour),
			ExpiresAt:    now.Add(-24 * time.Hour),
		}
		if _, err := repo.Insert(ctx, stale); err != nil {
			t.Fatalf("Insert() вернул ошибку: %v", err)
		}

		n, err := repo.SweepExpired(ctx)
		if err != nil {
			t.Fatalf("SweepExpired() вернул ошибку: %v", err)
		}
		if n != 1 {
			t.Errorf("SweepExpired() = %d, хотели 1", n)
		}

		got, _ := repo.GetByToken(ctx, stale.Token)
		if got.Status != model.TokenStatusExpired {
			t.Errorf("Status = %q, хотели expired", got.Status)
		}

		// Идемпотентность
		n, _ = repo.SweepExpired(ctx)
		if n != 0 {
			t.Errorf("повторный SweepExpired() = %d, хотели 0", n)
		}
	})

	t.Run("MarkExpired", func(t *testing.T) {
		if err := repo.MarkExpired(ctx, tokenID); err != nil {
			t.Fatalf("MarkExpired() вернул ошибку: %v", err)
		}
		if err := repo.MarkExpired(ctx, 999999); !errors.Is(err, ErrNotFound) {
			t.Errorf("MarkExpired() несуществующего токена = %v, хотели ErrNotFound", err)
		}
	})
}
