// Пакет handlers — HTTP-обработчики Retrieval Module: приём заявок,
// выдача токенов, скачивание, ops-консоль, health.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/gosds/retrieval-module/internal/api/errors"
	"github.com/bigkaa/gosds/retrieval-module/internal/service"
)

// PullHandler — приём заявок на извлечение из архива.
type PullHandler struct {
	submit *service.SubmitService
	logger *slog.Logger
}

// NewPullHandler создаёт обработчик заявок.
func NewPullHandler(submit *service.SubmitService, logger *slog.Logger) *PullHandler {
	return &PullHandler{
		submit: submit,
		logger: logger,
	}
}

// Pull обрабатывает GET /sds/pull?p=<путь в архиве>&uid=<email>.
// Ответ всегда 200 с одним из трёх тел:
//
//	{"Acknowledgement": "..."}  — заявка принята
//	{"Warning": "..."}          — адрес в deny-list
//	{"Invalid Request": "..."}  — дубликат внутри окна дедупликации
//
// Контракт исторический, клиенты различают исход по ключу JSON.
func (h *PullHandler) Pull(w http.ResponseWriter, r *http.Request) {
	sdaPath := r.URL.Query().Get("p")
	email := r.URL.Query().Get("uid")

	if sdaPath == "" {
		apierrors.ValidationError(w, "отсутствует обязательный параметр p")
		return
	}
	if email == "" {
		apierrors.ValidationError(w, "отсутствует обязательный параметр uid")
		return
	}

	result, err := h.submit.Submit(r.Context(), sdaPath, email, ClientIP(r))
	if err != nil {
		h.logger.Error("Ошибка приёма заявки", slog.String("error", err.Error()))
		apierrors.InternalError(w, "не удалось принять заявку")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		result.Kind: result.Message,
	})
}

// ClientIP определяет исходный IP клиента. Сервис работает за
// reverse proxy, порядок источников фиксирован: X-Real-IP,
// X-Forwarded-For (первый адрес), затем RemoteAddr.
func ClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if ff := r.Header.Get("X-Forwarded-For"); ff != "" {
		if idx := strings.IndexByte(ff, ','); idx != -1 {
			return strings.TrimSpace(ff[:idx])
		}
		return strings.TrimSpace(ff)
	}
	// RemoteAddr имеет вид host:port
	addr := r.RemoteAddr
	if idx := strings.LastIndexByte(addr, ':'); idx != -1 {
		return addr[:idx]
	}
	return addr
}
