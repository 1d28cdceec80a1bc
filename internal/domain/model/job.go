// Пакет model — доменные модели Retrieval Module:
// задания на извлечение из ленточного архива и токены скачивания.
package model

import "time"

// JobStatus — статус задания на извлечение.
type JobStatus string

// Статусы задания. Переходы однонаправленные:
// submitted → processing → {completed, failed} и submitted → cancelled
// (отказ при admission control). Возврат в submitted невозможен.
const (
	JobStatusSubmitted  JobStatus = "submitted"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal сообщает, является ли статус конечным.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Job — задание на извлечение файла из архива.
// Создаётся Submission Gateway, мутируется только Retrieval Worker,
// никогда не удаляется (audit trail).
type Job struct {
	// JobID — глобально уникальный идентификатор (time-ordered UUID v1).
	JobID string
	// Email — адрес заказчика.
	Email string
	// SourceIP — IP-адрес источника запроса.
	SourceIP string
	// Collection — basename пути коллекции в архиве.
	Collection string
	// Status — текущий статус задания.
	Status JobStatus
	// JobSize — размер файла в целых мегабайтах, nil до завершения.
	JobSize *int64
	// DownloadURL — публичная ссылка на скачивание, nil до завершения.
	DownloadURL *string
	// DateCreated — время создания задания.
	DateCreated time.Time
}
