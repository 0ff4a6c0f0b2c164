// files.go — HTTP handlers файловых операций: upload и download.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/filedrop/internal/api/errors"
	"github.com/bigkaa/filedrop/internal/config"
	"github.com/bigkaa/filedrop/internal/idgen"
	"github.com/bigkaa/filedrop/internal/service"
)

// multipartFormOverhead — запас на заголовки multipart поверх
// максимального размера файла при ограничении тела запроса.
const multipartFormOverhead = 1 << 20

// UploadResponse — ответ на успешную загрузку файла.
type UploadResponse struct {
	// FileID — идентификатор для последующего скачивания
	FileID string `json:"file_id"`
	// ExpiresAt — момент истечения, unix-секунды UTC
	ExpiresAt int64 `json:"expires_at"`
}

// FilesHandler — обработчик файловых endpoints.
type FilesHandler struct {
	cfg         *config.Config
	uploadSvc   *service.UploadService
	downloadSvc *service.DownloadService
}

// NewFilesHandler создаёт обработчик файловых endpoints.
func NewFilesHandler(
	cfg *config.Config,
	uploadSvc *service.UploadService,
	downloadSvc *service.DownloadService,
) *FilesHandler {
	return &FilesHandler{
		cfg:         cfg,
		uploadSvc:   uploadSvc,
		downloadSvc: downloadSvc,
	}
}

// UploadFile обрабатывает POST /upload.
// Multipart form: file (обязательно), expire (обязательно, одно из
// 5m/15m/1h/12h/24h), password (опционально).
func (h *FilesHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	// Жёсткое ограничение тела запроса: максимум файла + запас на
	// заголовки multipart. MaxBytesReader рвёт соединение раньше,
	// чем клиент дольёт лишние гигабайты.
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxFileSize+multipartFormOverhead)

	// 32 MB в памяти, остальное multipart буферизует на диск
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		if _, ok := err.(*http.MaxBytesError); ok {
			errors.PayloadTooLarge(w, fmt.Sprintf("Размер файла превышает максимум %d байт", h.cfg.MaxFileSize))
			return
		}
		errors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		errors.ValidationError(w, "Поле 'file' обязательно")
		return
	}
	defer file.Close()

	expire := r.FormValue("expire")
	if expire == "" {
		errors.InvalidExpiry(w, "Поле 'expire' обязательно, допустимые значения: 5m, 15m, 1h, 12h, 24h")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	result, uploadErr := h.uploadSvc.Upload(service.UploadParams{
		Reader:           file,
		OriginalFilename: header.Filename,
		ContentType:      contentType,
		DeclaredSize:     header.Size,
		Password:         r.FormValue("password"),
		Expire:           expire,
	})
	if uploadErr != nil {
		errors.WriteError(w, uploadErr.StatusCode, uploadErr.Code, uploadErr.Message)
		return
	}

	writeJSON(w, http.StatusOK, UploadResponse{
		FileID:    result.Record.FileID,
		ExpiresAt: result.Record.ExpiresAt.Unix(),
	})
}

// DownloadFile обрабатывает GET /download/{file_id}.
// Пароль принимается в заголовке X-File-Password или в query-параметре
// password; заголовок имеет приоритет. Поддерживает Range (206) и
// ETag (If-None-Match → 304).
func (h *FilesHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "file_id")
	if !idgen.Valid(fileID) {
		// Синтаксически невозможный идентификатор — тот же 404,
		// что и для несуществующего
		errors.NotFound(w, "Файл не найден")
		return
	}

	password := r.Header.Get("X-File-Password")
	if password == "" {
		password = r.URL.Query().Get("password")
	}

	if downloadErr := h.downloadSvc.Serve(w, r, fileID, password); downloadErr != nil {
		errors.WriteError(w, downloadErr.StatusCode, downloadErr.Code, downloadErr.Message)
	}
}

// writeJSON — запись JSON-ответа с указанным статусом.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
