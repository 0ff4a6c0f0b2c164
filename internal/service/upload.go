// Пакет service — бизнес-логика filedrop.
// upload.go — сервис загрузки файлов с WAL-транзакциями.
package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/filedrop/internal/api/errors"
	"github.com/bigkaa/filedrop/internal/api/middleware"
	"github.com/bigkaa/filedrop/internal/config"
	"github.com/bigkaa/filedrop/internal/cryptox"
	"github.com/bigkaa/filedrop/internal/domain/model"
	"github.com/bigkaa/filedrop/internal/idgen"
	"github.com/bigkaa/filedrop/internal/storage/attr"
	"github.com/bigkaa/filedrop/internal/storage/filestore"
	"github.com/bigkaa/filedrop/internal/storage/index"
	"github.com/bigkaa/filedrop/internal/storage/wal"
)

// maxIDAttempts — предел повторных генераций идентификатора при
// коллизии. Коллизия UUID v4 на практике не случается, но молчаливая
// перезапись чужого файла недопустима ни при каких условиях.
const maxIDAttempts = 5

// UploadParams — параметры загрузки файла.
type UploadParams struct {
	// Reader — поток данных файла
	Reader io.Reader
	// OriginalFilename — оригинальное имя файла
	OriginalFilename string
	// ContentType — MIME-тип файла
	ContentType string
	// DeclaredSize — размер, заявленный клиентом (из multipart part).
	// Проверяется до записи; фактический объём дополнительно
	// контролируется в потоке, заявленному значению доверия нет.
	DeclaredSize int64
	// Password — пароль файла (опционально, пустая строка = без пароля)
	Password string
	// Expire — срок хранения, одно из значений model.Expire
	Expire string
}

// UploadResult — результат загрузки файла.
type UploadResult struct {
	Record *model.FileRecord
}

// UploadError — ошибка загрузки с HTTP-кодом.
type UploadError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// UploadService — сервис загрузки файлов.
type UploadService struct {
	cfg       *config.Config
	walEngine *wal.WAL
	store     *filestore.FileStore
	idx       *index.Index
	logger    *slog.Logger
}

// NewUploadService создаёт сервис загрузки файлов.
func NewUploadService(
	cfg *config.Config,
	walEngine *wal.WAL,
	store *filestore.FileStore,
	idx *index.Index,
	logger *slog.Logger,
) *UploadService {
	return &UploadService{
		cfg:       cfg,
		walEngine: walEngine,
		store:     store,
		idx:       idx,
		logger:    logger.With(slog.String("component", "upload_service")),
	}
}

// Upload загружает файл в хранилище с WAL-транзакцией.
//
// Поток:
//  1. Валидация размера и срока хранения (до любых записей на диск)
//  2. Хэширование пароля (argon2id), если задан
//  3. Генерация идентификатора с проверкой уникальности по индексу
//  4. WAL StartTransaction
//  5. SaveFile (streaming + SHA-256 + лимит размера в потоке)
//  6. Запись attr.json
//  7. index.Add
//  8. WAL Commit
//
// При ошибке — cleanup (удаление блоба, attr.json) + WAL Rollback:
// частичная загрузка не видна ни одному другому запросу.
func (s *UploadService) Upload(params UploadParams) (*UploadResult, *UploadError) {
	// 1. Проверяем заявленный размер файла
	if params.DeclaredSize > s.cfg.MaxFileSize {
		return nil, &UploadError{
			StatusCode: http.StatusRequestEntityTooLarge,
			Code:       apierrors.CodePayloadTooLarge,
			Message:    fmt.Sprintf("Размер файла %d байт превышает максимум %d байт", params.DeclaredSize, s.cfg.MaxFileSize),
		}
	}

	// 2. Проверяем срок хранения
	expire, ok := model.ParseExpire(params.Expire)
	if !ok {
		return nil, &UploadError{
			StatusCode: http.StatusBadRequest,
			Code:       apierrors.CodeInvalidExpiry,
			Message:    fmt.Sprintf("Недопустимый срок хранения %q, допустимые: 5m, 15m, 1h, 12h, 24h", params.Expire),
		}
	}

	// 3. Хэшируем пароль до записи на диск: ошибок после частичной
	// записи тем меньше, чем позже она начинается
	var passwordSalt, passwordHash []byte
	if params.Password != "" {
		var err error
		passwordSalt, passwordHash, err = cryptox.HashPassword(params.Password)
		if err != nil {
			s.logger.Error("Ошибка хэширования пароля", slog.String("error", err.Error()))
			return nil, &UploadError{
				StatusCode: http.StatusInternalServerError,
				Code:       apierrors.CodeInternalError,
				Message:    "Внутренняя ошибка при обработке пароля",
			}
		}
	}

	// 4. Генерируем file_id с проверкой уникальности.
	// Коллизия — жёсткая ошибка с регенерацией, не перезапись.
	fileID, err := s.newFileID()
	if err != nil {
		s.logger.Error("Не удалось сгенерировать уникальный идентификатор",
			slog.String("error", err.Error()))
		return nil, &UploadError{
			StatusCode: http.StatusInternalServerError,
			Code:       apierrors.CodeInternalError,
			Message:    "Внутренняя ошибка при генерации идентификатора",
		}
	}

	// 5. WAL StartTransaction
	walEntry, err := s.walEngine.StartTransaction(wal.OpFileCreate, fileID)
	if err != nil {
		s.logger.Error("Ошибка создания WAL-транзакции", slog.String("error", err.Error()))
		return nil, &UploadError{
			StatusCode: http.StatusInternalServerError,
			Code:       apierrors.CodeInternalError,
			Message:    "Внутренняя ошибка при создании транзакции",
		}
	}

	// Cleanup при ошибке
	var savedResult *filestore.SaveResult
	rollback := func() {
		if savedResult != nil {
			_ = s.store.DeleteFile(savedResult.StoragePath)
			_ = attr.Delete(attr.FilePath(savedResult.FullPath))
		}
		if rbErr := s.walEngine.Rollback(walEntry.TransactionID); rbErr != nil {
			s.logger.Error("Ошибка отката WAL",
				slog.String("tx_id", walEntry.TransactionID),
				slog.String("error", rbErr.Error()),
			)
		}
	}

	// 6. SaveFile (streaming + SHA-256 + контроль размера в потоке)
	savedResult, err = s.store.SaveFile(params.Reader, fileID, s.cfg.MaxFileSize)
	if err != nil {
		rollback()
		if errors.Is(err, filestore.ErrTooLarge) {
			middleware.OperationsTotal.WithLabelValues("upload", "too_large").Inc()
			return nil, &UploadError{
				StatusCode: http.StatusRequestEntityTooLarge,
				Code:       apierrors.CodePayloadTooLarge,
				Message:    fmt.Sprintf("Размер файла превышает максимум %d байт", s.cfg.MaxFileSize),
			}
		}
		s.logger.Error("Ошибка сохранения файла",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		middleware.OperationsTotal.WithLabelValues("upload", "error").Inc()
		return nil, &UploadError{
			StatusCode: http.StatusInternalServerError,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка сохранения файла на диск",
		}
	}

	// 7. Формируем метаданные.
	// expires_at фиксируется при создании и никогда не продлевается.
	now := time.Now().UTC()
	record := &model.FileRecord{
		FileID:           fileID,
		OriginalFilename: params.OriginalFilename,
		StoragePath:      savedResult.StoragePath,
		ContentType:      params.ContentType,
		Size:             savedResult.Size,
		Checksum:         savedResult.Checksum,
		PasswordSalt:     passwordSalt,
		PasswordHash:     passwordHash,
		CreatedAt:        now,
		ExpiresAt:        now.Add(expire.Duration()),
		Expire:           expire,
		Status:           model.StatusActive,
	}

	// 8. Записываем attr.json
	if err := attr.Write(attr.FilePath(savedResult.FullPath), record); err != nil {
		rollback()
		s.logger.Error("Ошибка записи attr.json",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		return nil, &UploadError{
			StatusCode: http.StatusInternalServerError,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка записи метаданных",
		}
	}

	// 9. Добавляем в индекс
	s.idx.Add(record)

	// 10. WAL Commit
	if err := s.walEngine.Commit(walEntry.TransactionID); err != nil {
		s.logger.Error("Ошибка коммита WAL (данные сохранены)",
			slog.String("tx_id", walEntry.TransactionID),
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		// Данные уже записаны, коммит WAL — best effort
	}

	// 11. Обновляем метрики
	middleware.OperationsTotal.WithLabelValues("upload", "success").Inc()
	middleware.FilesTotal.WithLabelValues(string(model.StatusActive)).Inc()
	middleware.StorageBytes.Add(float64(savedResult.Size))

	s.logger.Info("Файл загружен",
		slog.String("file_id", fileID),
		slog.String("filename", params.OriginalFilename),
		slog.Int64("size", savedResult.Size),
		slog.String("checksum", savedResult.Checksum),
		slog.String("expire", string(expire)),
		slog.Time("expires_at", record.ExpiresAt),
		slog.Bool("password_protected", record.HasPassword()),
	)

	return &UploadResult{Record: record}, nil
}

// newFileID генерирует идентификатор, отсутствующий в индексе
// и на диске. После maxIDAttempts попыток возвращает ошибку.
func (s *UploadService) newFileID() (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := idgen.New()
		if s.idx.Get(id) == nil && !s.store.FileExists(id) {
			return id, nil
		}
		s.logger.Warn("Коллизия идентификатора, повторная генерация",
			slog.String("file_id", id),
			slog.String("code", apierrors.CodeAlreadyExists),
			slog.Int("attempt", attempt+1),
		)
	}
	return "", fmt.Errorf("исчерпаны попытки генерации уникального идентификатора (%d)", maxIDAttempts)
}
