package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/gosds/retrieval-module/internal/api/errors"
	"github.com/bigkaa/gosds/retrieval-module/internal/repository"
	"github.com/bigkaa/gosds/retrieval-module/internal/service"
	"github.com/bigkaa/gosds/retrieval-module/internal/storage/staging"
)

// TokenHandler — выдача токенов и скачивание по токену.
type TokenHandler struct {
	tokens  *service.TokenService
	jobs    repository.JobRepository
	staging *staging.Staging
	logger  *slog.Logger
}

// NewTokenHandler создаёт обработчик токенов.
func NewTokenHandler(
	tokens *service.TokenService,
	jobs repository.JobRepository,
	stg *staging.Staging,
	logger *slog.Logger,
) *TokenHandler {
	return &TokenHandler{
		tokens:  tokens,
		jobs:    jobs,
		staging: stg,
		logger:  logger,
	}
}

// issueRequest — тело запроса на выдачу токена.
type issueRequest struct {
	JobID string `json:"job_id"`
	Email string `json:"email"`
}

// issueResponse — тело ответа с выданным токеном.
type issueResponse struct {
	Token              string    `json:"token"`
	JobID              string    `json:"job_id"`
	ExpiresAt          time.Time `json:"expires_at"`
	RemainingDownloads int       `json:"remaining_downloads"`
	DownloadURL        string    `json:"download_url"`
}

// IssueToken обрабатывает POST /sds/token: выдаёт новый токен
// для завершённого задания заказчика.
func (h *TokenHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "некорректное тело запроса")
		return
	}
	if req.JobID == "" || req.Email == "" {
		apierrors.ValidationError(w, "поля job_id и email обязательны")
		return
	}

	token, err := h.tokens.Issue(r.Context(), req.JobID, req.Email)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrJobNotFound):
			apierrors.NotFound(w, "задание не найдено")
		case errors.Is(err, service.ErrForbidden):
			apierrors.Forbidden(w, "задание принадлежит другому заказчику")
		case errors.Is(err, service.ErrJobNotReady):
			apierrors.JobNotReady(w, "задание ещё не завершено")
		default:
			h.logger.Error("Ошибка выдачи токена", slog.String("error", err.Error()))
			apierrors.InternalError(w, "не удалось выдать токен")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(issueResponse{
		Token:              token.Token,
		JobID:              token.JobID,
		ExpiresAt:          token.ExpiresAt,
		RemainingDownloads: token.RemainingDownloads(),
		DownloadURL:        "/sds/download/" + token.Token,
	})
}

// Download обрабатывает GET /sds/download/{token}: проверяет токен,
// отдаёт файл коллекции из staging и фиксирует скачивание.
// Скачивание засчитывается и при обрыве передачи: клиент начал
// получать данные, значит попытка израсходована.
func (h *TokenHandler) Download(w http.ResponseWriter, r *http.Request) {
	tokenStr := chi.URLParam(r, "token")

	token, err := h.tokens.Validate(r.Context(), tokenStr)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTokenNotFound):
			apierrors.NotFound(w, "токен не найден")
		case errors.Is(err, service.ErrTokenInvalid):
			apierrors.TokenInvalid(w, "токен просрочен или исчерпан")
		default:
			h.logger.Error("Ошибка проверки токена", slog.String("error", err.Error()))
			apierrors.InternalError(w, "не удалось проверить токен")
		}
		return
	}

	job, err := h.jobs.GetByID(r.Context(), token.JobID)
	if err != nil {
		h.logger.Error("Ошибка получения задания по токену",
			slog.String("job_id", token.JobID),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "не удалось получить задание")
		return
	}

	localPath := h.staging.Path(job.Collection)
	f, err := os.Open(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Файл вычищен housekeeper'ом раньше истечения токена
			h.logger.Warn("Файл коллекции отсутствует в staging",
				slog.String("collection", job.Collection),
			)
			apierrors.NotFound(w, "файл больше не доступен, отправьте заявку повторно")
			return
		}
		h.logger.Error("Ошибка открытия файла", slog.String("error", err.Error()))
		apierrors.InternalError(w, "не удалось открыть файл")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.logger.Error("Ошибка stat файла", slog.String("error", err.Error()))
		apierrors.InternalError(w, "не удалось получить информацию о файле")
		return
	}

	// Скачивание фиксируется до передачи тела: начатая отдача — потраченная попытка
	if _, err := h.tokens.RecordDownload(r.Context(), token, ClientIP(r)); err != nil {
		h.logger.Error("Ошибка фиксации скачивания", slog.String("error", err.Error()))
		apierrors.InternalError(w, "не удалось зафиксировать скачивание")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", job.Collection))
	http.ServeContent(w, r, job.Collection, info.ModTime(), f)
}
