package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/gosds/retrieval-module/internal/api/errors"
	"github.com/bigkaa/gosds/retrieval-module/internal/domain/model"
	"github.com/bigkaa/gosds/retrieval-module/internal/repository"
	"github.com/bigkaa/gosds/retrieval-module/internal/service"
	"github.com/bigkaa/gosds/retrieval-module/internal/session"
)

// headerSessionToken — заголовок с токеном сессии оператора.
const headerSessionToken = "X-Session-Token"

// opsJobsLimit — сколько последних заданий показывает консоль.
const opsJobsLimit = 100

// OpsHandler — консоль операторов: вход по секретному коду,
// просмотр заданий, ручной запуск очистки токенов.
type OpsHandler struct {
	sessions *session.Store
	jobs     repository.JobRepository
	tokens   *service.TokenService
	// secret — секретный код операторов (RM_OPS_SECRET);
	// пустой код отключает консоль
	secret string
	logger *slog.Logger
}

// NewOpsHandler создаёт обработчик ops-консоли.
func NewOpsHandler(
	sessions *session.Store,
	jobs repository.JobRepository,
	tokens *service.TokenService,
	secret string,
	logger *slog.Logger,
) *OpsHandler {
	return &OpsHandler{
		sessions: sessions,
		jobs:     jobs,
		tokens:   tokens,
		secret:   secret,
		logger:   logger,
	}
}

// loginRequest — тело запроса входа.
type loginRequest struct {
	Secret string `json:"secret"`
}

// loginResponse — тело ответа с токеном сессии.
type loginResponse struct {
	SessionToken string `json:"session_token"`
}

// Login обрабатывает POST /ops/login: сверяет секретный код
// и выдаёт токен сессии со скользящим TTL.
func (h *OpsHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h.secret == "" {
		apierrors.Forbidden(w, "консоль операторов отключена")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "некорректное тело запроса")
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(h.secret)) != 1 {
		h.logger.Warn("Неверный код оператора", slog.String("remote_addr", r.RemoteAddr))
		apierrors.Unauthorized(w, "неверный код")
		return
	}

	token, err := h.sessions.Create()
	if err != nil {
		h.logger.Error("Ошибка создания сессии", slog.String("error", err.Error()))
		apierrors.InternalError(w, "не удалось создать сессию")
		return
	}

	h.logger.Info("Оператор вошёл в консоль",
		slog.String("remote_addr", r.RemoteAddr),
		slog.Int("active_sessions", h.sessions.Count()),
	)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(loginResponse{SessionToken: token})
}

// Logout обрабатывает POST /ops/logout: немедленно удаляет сессию.
func (h *OpsHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(headerSessionToken)
	if token != "" {
		h.sessions.Invalidate(token)
	}
	w.WriteHeader(http.StatusNoContent)
}

// RequireSession — middleware проверки сессии оператора.
// Успешная проверка продлевает сессию на TTL.
func (h *OpsHandler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(headerSessionToken)
		if token == "" || !h.sessions.Verify(token) {
			apierrors.Unauthorized(w, "требуется вход в консоль операторов")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// jobView — представление задания в ответе консоли.
type jobView struct {
	JobID       string    `json:"job_id"`
	Email       string    `json:"email"`
	SourceIP    string    `json:"source_ip"`
	Collection  string    `json:"collection"`
	Status      string    `json:"status"`
	JobSizeMB   *int64    `json:"job_size_mb"`
	DownloadURL *string   `json:"download_url"`
	DateCreated time.Time `json:"date_created"`
}

// ListJobs обрабатывает GET /ops/jobs: последние задания.
func (h *OpsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.ListRecent(r.Context(), opsJobsLimit)
	if err != nil {
		h.logger.Error("Ошибка выборки заданий", slog.String("error", err.Error()))
		apierrors.InternalError(w, "не удалось получить задания")
		return
	}

	views := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, toJobView(j))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"jobs": views})
}

// SweepTokens обрабатывает POST /ops/tokens/sweep: ручной запуск
// очистки просроченных токенов.
func (h *OpsHandler) SweepTokens(w http.ResponseWriter, r *http.Request) {
	n, err := h.tokens.SweepExpired(r.Context())
	if err != nil {
		h.logger.Error("Ошибка очистки токенов", slog.String("error", err.Error()))
		apierrors.InternalError(w, "не удалось выполнить очистку")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int64{"expired": n})
}

func toJobView(j *model.Job) jobView {
	return jobView{
		JobID:       j.JobID,
		Email:       j.Email,
		SourceIP:    j.SourceIP,
		Collection:  j.Collection,
		Status:      string(j.Status),
		JobSizeMB:   j.JobSize,
		DownloadURL: j.DownloadURL,
		DateCreated: j.DateCreated,
	}
}
