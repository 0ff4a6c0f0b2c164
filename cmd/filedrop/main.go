// Точка входа filedrop — сервиса эфемерного обмена файлами.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/bigkaa/filedrop/internal/api/handlers"
	"github.com/bigkaa/filedrop/internal/config"
	"github.com/bigkaa/filedrop/internal/server"
	"github.com/bigkaa/filedrop/internal/service"
	"github.com/bigkaa/filedrop/internal/storage/attr"
	"github.com/bigkaa/filedrop/internal/storage/filestore"
	"github.com/bigkaa/filedrop/internal/storage/index"
	"github.com/bigkaa/filedrop/internal/storage/wal"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("filedrop запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.Int64("max_file_size", cfg.MaxFileSize),
		slog.String("reaper_interval", cfg.ReaperInterval.String()),
	)

	// --- Инициализация компонентов ---

	// 1. Файловое хранилище
	store, err := filestore.New(cfg.DataDir)
	if err != nil {
		logger.Error("Ошибка инициализации FileStore", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logDiskUsage(logger, cfg)

	// 2. WAL-движок с восстановлением после падения
	walEngine, err := wal.New(cfg.WALDir, logger)
	if err != nil {
		logger.Error("Ошибка инициализации WAL", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := recoverWAL(walEngine, store, logger); err != nil {
		logger.Error("Ошибка восстановления WAL", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 3. In-memory индекс метаданных
	idx := index.New(logger)
	if err := idx.BuildFromDir(cfg.DataDir); err != nil {
		logger.Error("Ошибка построения индекса", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Сервисы
	uploadSvc := service.NewUploadService(cfg, walEngine, store, idx, logger)
	downloadSvc := service.NewDownloadService(store, idx, logger)

	// 5. Reaper — фоновая очистка просроченных файлов.
	// Первый проход выполняется сразу: файлы, просроченные за время
	// простоя, недоступны с первого же запроса.
	reaper := service.NewReaper(store, idx, cfg.ReaperInterval, logger)
	reaper.Start(context.Background())

	// 6. Handlers и HTTP-сервер
	filesHandler := handlers.NewFilesHandler(cfg, uploadSvc, downloadSvc)
	healthHandler := handlers.NewHealthHandler(cfg.DataDir, cfg.WALDir, idx)

	srv := server.New(cfg, logger, filesHandler, healthHandler)

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")
	reaper.Stop()

	logger.Info("filedrop остановлен")
}

// recoverWAL откатывает pending транзакции, оставшиеся после падения,
// вместе с их частичными артефактами (блоб, attr.json), и чистит
// завершённые записи WAL.
func recoverWAL(walEngine *wal.WAL, store *filestore.FileStore, logger *slog.Logger) error {
	pending, err := walEngine.RecoverPending()
	if err != nil {
		return err
	}

	for _, entry := range pending {
		logger.Warn("Незавершённая WAL-транзакция, откатываем",
			slog.String("tx_id", entry.TransactionID),
			slog.String("file_id", entry.FileID),
			slog.String("operation", string(entry.Operation)),
		)

		// Частичная загрузка: блоб и attr.json могли быть записаны
		// до падения, убираем их
		if entry.Operation == wal.OpFileCreate && entry.FileID != "" {
			if delErr := store.DeleteFile(entry.FileID); delErr != nil {
				logger.Error("Ошибка удаления частичного блоба",
					slog.String("file_id", entry.FileID),
					slog.String("error", delErr.Error()),
				)
			}
			if delErr := attr.Delete(attr.FilePath(store.FullPath(entry.FileID))); delErr != nil {
				logger.Error("Ошибка удаления частичного attr.json",
					slog.String("file_id", entry.FileID),
					slog.String("error", delErr.Error()),
				)
			}
		}

		if rbErr := walEngine.Rollback(entry.TransactionID); rbErr != nil {
			logger.Error("Ошибка отката WAL-транзакции",
				slog.String("tx_id", entry.TransactionID),
				slog.String("error", rbErr.Error()),
			)
		}
	}

	cleaned, err := walEngine.CleanCommitted()
	if err != nil {
		logger.Warn("Ошибка очистки завершённых WAL-записей",
			slog.String("error", err.Error()),
		)
	} else if cleaned > 0 {
		logger.Info("Завершённые WAL-записи очищены", slog.Int("count", cleaned))
	}

	return nil
}

// logDiskUsage пишет в лог ёмкость диска с данными и предупреждает,
// если свободного места меньше максимального размера одного файла.
func logDiskUsage(logger *slog.Logger, cfg *config.Config) {
	total, used, available, err := getDiskUsage(cfg.DataDir)
	if err != nil {
		logger.Warn("Не удалось получить информацию о диске",
			slog.String("data_dir", cfg.DataDir),
			slog.String("error", err.Error()),
		)
		return
	}

	logger.Info("Диск с данными",
		slog.Int64("total_bytes", total),
		slog.Int64("used_bytes", used),
		slog.Int64("available_bytes", available),
	)

	if available < cfg.MaxFileSize {
		logger.Warn("Свободного места меньше максимального размера файла",
			slog.Int64("available_bytes", available),
			slog.Int64("max_file_size", cfg.MaxFileSize),
		)
	}
}
