package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/gosds/retrieval-module/internal/domain/model"
)

// tokenColumns — список столбцов таблицы download_tokens для SELECT-запросов.
const tokenColumns = `token_id, token, job_id, status, download_count, max_downloads,
	created_time, expires_at, last_download_time, last_download_ip`

// TokenRepository — доступ к таблице download_tokens.
// Единственный писатель полей токена — Download Token Service.
type TokenRepository interface {
	// Insert сохраняет новый токен и возвращает присвоенный token_id.
	Insert(ctx context.Context, token *model.DownloadToken) (int64, error)
	// GetByToken возвращает токен по opaque-строке или ErrNotFound.
	GetByToken(ctx context.Context, token string) (*model.DownloadToken, error)
	// MarkExpired переводит токен в expired (ленивая фиксация границы).
	MarkExpired(ctx context.Context, tokenID int64) error
	// RecordDownload атомарно инкрементирует счётчик, записывает время и IP
	// последнего скачивания; при достижении лимита переводит токен в expired
	// тем же UPDATE. Возвращает обновлённый снимок.
	RecordDownload(ctx context.Context, tokenID int64, clientIP string) (*model.DownloadToken, error)
	// SweepExpired переводит в expired все active-токены, пересёкшие
	// временную или счётную границу. Возвращает количество затронутых.
	SweepExpired(ctx context.Context) (int64, error)
}

// tokenRepo — реализация TokenRepository через pgx.
type tokenRepo struct {
	db DBTX
}

// NewTokenRepository создаёт репозиторий токенов.
func NewTokenRepository(db DBTX) TokenRepository {
	return &tokenRepo{db: db}
}

// Insert сохраняет новый токен.
func (r *tokenRepo) Insert(ctx context.Context, t *model.DownloadToken) (int64, error) {
	query := `
		INSERT INTO download_tokens (token, job_id, status, download_count, max_downloads, created_time, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING token_id`

	var tokenID int64
	err := r.db.QueryRow(ctx, query,
		t.Token, t.JobID, t.Status, t.DownloadCount, t.MaxDownloads, t.CreatedTime, t.ExpiresAt,
	).Scan(&tokenID)
	if err != nil {
		return 0, fmt.Errorf("ошибка вставки токена: %w", err)
	}
	return tokenID, nil
}

// GetByToken возвращает токен по opaque-строке или ErrNotFound.
func (r *tokenRepo) GetByToken(ctx context.Context, token string) (*model.DownloadToken, error) {
	query := fmt.Sprintf(`SELECT %s FROM download_tokens WHERE token = $1`, tokenColumns)

	t, err := scanToken(r.db.QueryRow(ctx, query, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения токена: %w", err)
	}
	return t, nil
}

// MarkExpired переводит токен в expired.
func (r *tokenRepo) MarkExpired(ctx context.Context, tokenID int64) error {
	query := `UPDATE download_tokens SET status = $1 WHERE token_id = $2`

	tag, err := r.db.Exec(ctx, query, model.TokenStatusExpired, tokenID)
	if err != nil {
		return fmt.Errorf("ошибка перевода токена в expired: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordDownload атомарно фиксирует скачивание. Инкремент счётчика,
// время/IP и, при достижении лимита, перевод в expired — одним UPDATE.
func (r *tokenRepo) RecordDownload(ctx context.Context, tokenID int64, clientIP string) (*model.DownloadToken, error) {
	query := fmt.Sprintf(`
		UPDATE download_tokens
		SET download_count = download_count + 1,
			last_download_time = $1,
			last_download_ip = $2,
			status = CASE
				WHEN download_count + 1 >= max_downloads THEN 'expired'
				ELSE status
			END
		WHERE token_id = $3
		RETURNING %s`, tokenColumns)

	t, err := scanToken(r.db.QueryRow(ctx, query, time.Now(), clientIP, tokenID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка фиксации скачивания: %w", err)
	}
	return t, nil
}

// SweepExpired переводит в expired все active-токены с пересечённой границей.
// Идемпотентна: повторный запуск не находит новых токенов.
func (r *tokenRepo) SweepExpired(ctx context.Context) (int64, error) {
	query := `
		UPDATE download_tokens
		SET status = 'expired'
		WHERE status = 'active'
		  AND (expires_at <= now() OR download_count >= max_downloads)`

	tag, err := r.db.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("ошибка sweep токенов: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanToken читает одну строку download_tokens в модель.
func scanToken(row pgx.Row) (*model.DownloadToken, error) {
	t := &model.DownloadToken{}
	err := row.Scan(
		&t.TokenID, &t.Token, &t.JobID, &t.Status, &t.DownloadCount, &t.MaxDownloads,
		&t.CreatedTime, &t.ExpiresAt, &t.LastDownloadTime, &t.LastDownloadIP,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}
