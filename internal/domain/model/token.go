package model

import "time"

// TokenStatus — статус токена скачивания.
type TokenStatus string

// Статусы токена. Токен никогда не удаляется физически,
// только переводится в disabled или expired.
const (
	TokenStatusActive   TokenStatus = "active"
	TokenStatusDisabled TokenStatus = "disabled"
	TokenStatusExpired  TokenStatus = "expired"
)

// DownloadToken — токен доступа к завершённому заданию.
// Действителен 24 часа с момента создания и не более max_downloads скачиваний.
type DownloadToken struct {
	// TokenID — идентификатор, присваиваемый хранилищем.
	TokenID int64
	// Token — непредсказуемая opaque-строка (32 hex-символа).
	Token string
	// JobID — ссылка на завершённое задание.
	JobID string
	// Status — текущий статус токена.
	Status TokenStatus
	// DownloadCount — количество выполненных скачиваний.
	DownloadCount int
	// MaxDownloads — лимит скачиваний (по умолчанию 3).
	MaxDownloads int
	// CreatedTime — время создания токена.
	CreatedTime time.Time
	// ExpiresAt — время истечения (created_time + 24h по умолчанию).
	ExpiresAt time.Time
	// LastDownloadTime — время последнего скачивания, nil если не было.
	LastDownloadTime *time.Time
	// LastDownloadIP — IP последнего скачивания, nil если не было.
	LastDownloadIP *string
}

// IsValid проверяет, пригоден ли токен для скачивания:
// status=active, срок не истёк, лимит скачиваний не исчерпан.
func (t *DownloadToken) IsValid() bool {
	if t.Status != TokenStatusActive {
		return false
	}
	if !time.Now().Before(t.ExpiresAt) {
		return false
	}
	if t.DownloadCount >= t.MaxDownloads {
		return false
	}
	return true
}

// ShouldExpire сообщает, пересёк ли токен временную или счётную границу
// и должен быть переведён в expired.
func (t *DownloadToken) ShouldExpire() bool {
	return !time.Now().Before(t.ExpiresAt) || t.DownloadCount >= t.MaxDownloads
}

// RemainingDownloads возвращает оставшееся количество скачиваний.
func (t *DownloadToken) RemainingDownloads() int {
	remaining := t.MaxDownloads - t.DownloadCount
	if remaining < 0 {
		return 0
	}
	return remaining
}
