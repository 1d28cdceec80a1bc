package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/gosds/retrieval-module/internal/domain/model"
)

// jobColumns — список столбцов таблицы jobs для SELECT-запросов.
// DRY: одно место для всех SELECT'ов.
const jobColumns = `job_id, email, source_ip, collection, job_status,
	job_size, download_url, date_created`

// JobRepository — доступ к таблице jobs.
// Gateway создаёт записи, worker — единственный, кто меняет статус.
type JobRepository interface {
	// Insert добавляет новое задание (status=submitted).
	Insert(ctx context.Context, job *model.Job) error
	// GetByID возвращает задание по job_id.
	GetByID(ctx context.Context, jobID string) (*model.Job, error)
	// LastNonFailed возвращает самое свежее не-failed задание пары
	// (email, collection) или ErrNotFound. Используется дедупликацией:
	// неудачные попытки не блокируют повторный запрос.
	LastNonFailed(ctx context.Context, email, collection string) (*model.Job, error)
	// UpdateStatus обновляет статус задания.
	UpdateStatus(ctx context.Context, jobID string, status model.JobStatus) error
	// MarkCompleted переводит задание в completed с размером (МБ) и ссылкой.
	MarkCompleted(ctx context.Context, jobID string, sizeMB int64, downloadURL string) error
	// ListRecent возвращает последние задания для ops-консоли.
	ListRecent(ctx context.Context, limit int) ([]*model.Job, error)
}

// jobRepo — реализация JobRepository через pgx.
type jobRepo struct {
	db DBTX
}

// NewJobRepository создаёт репозиторий заданий.
func NewJobRepository(db DBTX) JobRepository {
	return &jobRepo{db: db}
}

// Insert добавляет новое задание.
func (r *jobRepo) Insert(ctx context.Context, job *model.Job) error {
	query := `
		INSERT INTO jobs (job_id, email, source_ip, collection, job_status, job_size, download_url, date_created)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		job.JobID, job.Email, job.SourceIP, job.Collection,
		job.Status, job.JobSize, job.DownloadURL, job.DateCreated,
	)
	if err != nil {
		return fmt.Errorf("ошибка вставки задания: %w", err)
	}
	return nil
}

// GetByID возвращает задание по job_id или ErrNotFound.
func (r *jobRepo) GetByID(ctx context.Context, jobID string) (*model.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE job_id = $1`, jobColumns)

	job, err := scanJob(r.db.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения задания: %w", err)
	}
	return job, nil
}

// LastNonFailed возвращает самое свежее не-failed задание пары (email, collection).
// Tie-break: важна только самая свежая запись (LIMIT 1).
func (r *jobRepo) LastNonFailed(ctx context.Context, email, collection string) (*model.Job, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM jobs
		WHERE email = $1 AND collection = $2 AND job_status != $3
		ORDER BY date_created DESC
		LIMIT 1`, jobColumns)

	job, err := scanJob(r.db.QueryRow(ctx, query, email, collection, model.JobStatusFailed))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка поиска последнего задания: %w", err)
	}
	return job, nil
}

// UpdateStatus обновляет статус задания.
func (r *jobRepo) UpdateStatus(ctx context.Context, jobID string, status model.JobStatus) error {
	query := `UPDATE jobs SET job_status = $1 WHERE job_id = $2`

	tag, err := r.db.Exec(ctx, query, status, jobID)
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса задания: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkCompleted переводит задание в completed с размером и ссылкой.
func (r *jobRepo) MarkCompleted(ctx context.Context, jobID string, sizeMB int64, downloadURL string) error {
	query := `
		UPDATE jobs
		SET job_status = $1, job_size = $2, download_url = $3
		WHERE job_id = $4`

	tag, err := r.db.Exec(ctx, query, model.JobStatusCompleted, sizeMB, downloadURL, jobID)
	if err != nil {
		return fmt.Errorf("ошибка завершения задания: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRecent возвращает последние задания (ops-консоль).
func (r *jobRepo) ListRecent(ctx context.Context, limit int) ([]*model.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs ORDER BY date_created DESC LIMIT $1`, jobColumns)

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки заданий: %w", err)
	}
	defer rows.Close()

	var result []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования задания: %w", err)
		}
		result = append(result, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}

	return result, nil
}

// scanJob читает одну строку jobs в модель.
func scanJob(row pgx.Row) (*model.Job, error) {
	j := &model.Job{}
	err := row.Scan(
		&j.JobID, &j.Email, &j.SourceIP, &j.Collection, &j.Status,
		&j.JobSize, &j.DownloadURL, &j.DateCreated,
	)
	if err != nil {
		return nil, err
	}
	return j, nil
}
