// download.go — сервис скачивания файлов.
package service

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/filedrop/internal/api/errors"
	"github.com/bigkaa/filedrop/internal/api/middleware"
	"github.com/bigkaa/filedrop/internal/cryptox"
	"github.com/bigkaa/filedrop/internal/domain/model"
	"github.com/bigkaa/filedrop/internal/storage/attr"
	"github.com/bigkaa/filedrop/internal/storage/filestore"
	"github.com/bigkaa/filedrop/internal/storage/index"
)

// DownloadError — ошибка скачивания с HTTP-кодом.
type DownloadError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// DownloadService — сервис скачивания файлов.
type DownloadService struct {
	store  *filestore.FileStore
	idx    *index.Index
	logger *slog.Logger
}

// NewDownloadService создаёт сервис скачивания файлов.
func NewDownloadService(store *filestore.FileStore, idx *index.Index, logger *slog.Logger) *DownloadService {
	return &DownloadService{
		store:  store,
		idx:    idx,
		logger: logger.With(slog.String("component", "download_service")),
	}
}

// notFound возвращает один и тот же ответ для несуществующего,
// просроченного и удаляемого файла: по ответу нельзя определить,
// существовал ли идентификатор когда-либо.
func notFound() *DownloadError {
	return &DownloadError{
		StatusCode: http.StatusNotFound,
		Code:       apierrors.CodeNotFound,
		Message:    "Файл не найден",
	}
}

// Serve отдаёт файл клиенту через http.ServeContent.
//
// Просроченный файл помечается expired на месте (ленивая проверка,
// не дожидаясь reaper) и отдаётся тот же 404, что и для
// несуществующего идентификатора.
func (s *DownloadService) Serve(w http.ResponseWriter, r *http.Request, fileID, password string) *DownloadError {
	record := s.idx.Get(fileID)
	if record == nil {
		middleware.OperationsTotal.WithLabelValues("download", "not_found").Inc()
		return notFound()
	}

	if !record.IsActive() {
		middleware.OperationsTotal.WithLabelValues("download", "not_found").Inc()
		return notFound()
	}

	// Ленивая проверка срока: дедлайн наступил, а reaper ещё не дошёл
	if record.IsExpired(time.Now().UTC()) {
		s.markExpired(record)
		middleware.OperationsTotal.WithLabelValues("download", "expired").Inc()
		return notFound()
	}

	// Проверка пароля. Сообщение одно и для отсутствующего, и для
	// неверного пароля.
	if record.HasPassword() {
		if !cryptox.VerifyPassword(password, record.PasswordSalt, record.PasswordHash) {
			middleware.OperationsTotal.WithLabelValues("download", "unauthorized").Inc()
			return &DownloadError{
				StatusCode: http.StatusUnauthorized,
				Code:       apierrors.CodeUnauthorized,
				Message:    "Неверный пароль",
			}
		}
	}

	file, err := s.store.ReadFile(record.StoragePath)
	if err != nil {
		// Блоб исчез (гонка с reaper до открытия файла) — для клиента
		// это неотличимо от несуществующего файла
		s.logger.Warn("Блоб недоступен при скачивании",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		middleware.OperationsTotal.WithLabelValues("download", "not_found").Inc()
		return notFound()
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		s.logger.Error("Ошибка stat при скачивании",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		middleware.OperationsTotal.WithLabelValues("download", "error").Inc()
		return &DownloadError{
			StatusCode: http.StatusInternalServerError,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка чтения файла",
		}
	}

	contentType := record.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", record.OriginalFilename))
	w.Header().Set("ETag", fmt.Sprintf("%q", record.Checksum))
	w.Header().Set("X-Checksum-SHA256", record.Checksum)

	// ServeContent берёт на себя Range, If-Range и If-None-Match.
	// Открытый дескриптор остаётся валидным даже если reaper удалит
	// файл во время отдачи.
	http.ServeContent(w, r, record.OriginalFilename, stat.ModTime(), file)

	middleware.OperationsTotal.WithLabelValues("download", "success").Inc()
	s.logger.Debug("Файл отдан",
		slog.String("file_id", fileID),
		slog.Int64("size", record.Size),
	)
	return nil
}

// markExpired помечает запись как просроченную: attr.json, затем
// индекс. Удалением блоба займётся reaper.
func (s *DownloadService) markExpired(record *model.FileRecord) {
	record.Status = model.StatusExpired
	attrPath := attr.FilePath(s.store.FullPath(record.StoragePath))
	if err := attr.Write(attrPath, record); err != nil {
		s.logger.Error("Ошибка записи attr.json при пометке expired",
			slog.String("file_id", record.FileID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.idx.Update(record); err != nil {
		s.logger.Error("Ошибка обновления индекса при пометке expired",
			slog.String("file_id", record.FileID),
			slog.String("error", err.Error()),
		)
	}
	middleware.FilesTotal.WithLabelValues(string(model.StatusActive)).Dec()
	middleware.FilesTotal.WithLabelValues(string(model.StatusExpired)).Inc()
	middleware.StorageBytes.Sub(float64(record.Size))
	s.logger.Info("Файл помечен как просроченный при скачивании",
		slog.String("file_id", record.FileID),
		slog.Time("expires_at", record.ExpiresAt),
	)
}
