// reaper.go — фоновая очистка просроченных файлов.
//
// Reaper выполняет две фазы:
//  1. Помечает active файлы с наступившим дедлайном как expired
//     (attr.json + индекс)
//  2. Физически удаляет expired/deleted файлы: переводит attr.json в
//     deleted, удаляет блоб, attr.json и запись в индексе
//
// Переход через промежуточный статус deleted делает удаление
// устойчивым к падению: после рестарта запись со статусом deleted
// будет дочищена первым же запуском.
//
// Запускается как горутина с периодическим тикером (FD_REAPER_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/filedrop/internal/api/middleware"
	"github.com/bigkaa/filedrop/internal/domain/model"
	"github.com/bigkaa/filedrop/internal/storage/attr"
	"github.com/bigkaa/filedrop/internal/storage/filestore"
	"github.com/bigkaa/filedrop/internal/storage/index"
)

// Prometheus метрики reaper
var (
	// reaperRunsTotal — количество запусков reaper.
	reaperRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fd_reaper_runs_total",
		Help: "Общее количество запусков reaper",
	})

	// reaperFilesExpiredTotal — количество файлов, помеченных как expired.
	reaperFilesExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fd_reaper_files_expired_total",
		Help: "Общее количество файлов, помеченных reaper как expired",
	})

	// reaperFilesDeletedTotal — количество физически удалённых файлов.
	reaperFilesDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fd_reaper_files_deleted_total",
		Help: "Общее количество файлов, удалённых reaper",
	})

	// reaperDurationSeconds — длительность выполнения reaper.
	reaperDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fd_reaper_duration_seconds",
		Help:    "Длительность выполнения reaper в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// ReapResult — результат одного запуска reaper.
type ReapResult struct {
	// ExpiredCount — количество файлов, помеченных как expired
	ExpiredCount int
	// DeletedCount — количество физически удалённых файлов
	DeletedCount int
	// Errors — количество ошибок при обработке файлов
	Errors int
	// Duration — длительность выполнения
	Duration time.Duration
}

// Reaper — сервис фоновой очистки просроченных файлов.
type Reaper struct {
	store    *filestore.FileStore
	idx      *index.Index
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
}

// NewReaper создаёт сервис очистки.
func NewReaper(
	store *filestore.FileStore,
	idx *index.Index,
	interval time.Duration,
	logger *slog.Logger,
) *Reaper {
	return &Reaper{
		store:    store,
		idx:      idx,
		interval: interval,
		logger:   logger.With(slog.String("component", "reaper")),
	}
}

// Start запускает фоновую горутину с периодическим тикером.
// Вызывается один раз при старте приложения.
func (rp *Reaper) Start(ctx context.Context) {
	reapCtx, cancel := context.WithCancel(ctx)
	rp.cancel = cancel

	go rp.run(reapCtx)

	rp.logger.Info("Reaper запущен",
		slog.String("interval", rp.interval.String()),
	)
}

// Stop останавливает фоновый процесс.
func (rp *Reaper) Stop() {
	if rp.cancel != nil {
		rp.cancel()
	}
	rp.logger.Info("Reaper остановлен")
}

// run — основной цикл фоновой горутины.
func (rp *Reaper) run(ctx context.Context) {
	// Первый запуск — сразу после старта
	rp.RunOnce()

	ticker := time.NewTicker(rp.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rp.RunOnce()
		}
	}
}

// RunOnce выполняет один цикл очистки.
// Потокобезопасен: mutex защищает от параллельного запуска.
func (rp *Reaper) RunOnce() *ReapResult {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	start := time.Now()
	result := &ReapResult{}

	now := time.Now().UTC()

	// Фаза 1: пометка expired файлов
	result.ExpiredCount = rp.markExpired(now)

	// Фаза 2: удаление expired и недочищенных deleted файлов
	deleted, errCount := rp.deleteFiles()
	result.DeletedCount = deleted
	result.Errors = errCount

	result.Duration = time.Since(start)

	reaperRunsTotal.Inc()
	reaperFilesExpiredTotal.Add(float64(result.ExpiredCount))
	reaperFilesDeletedTotal.Add(float64(deleted))
	reaperDurationSeconds.Observe(result.Duration.Seconds())

	rp.refreshGauges()

	if result.ExpiredCount > 0 || result.DeletedCount > 0 || result.Errors > 0 {
		rp.logger.Info("Reaper завершён",
			slog.Int("expired", result.ExpiredCount),
			slog.Int("deleted", result.DeletedCount),
			slog.Int("errors", result.Errors),
			slog.Duration("duration", result.Duration),
		)
	} else {
		rp.logger.Debug("Reaper завершён, нечего чистить",
			slog.Duration("duration", result.Duration),
		)
	}

	return result
}

// markExpired находит active файлы с наступившим дедлайном и помечает
// их как expired. Обновляет и attr.json, и индекс.
func (rp *Reaper) markExpired(now time.Time) int {
	files := rp.idx.List(model.StatusActive)

	count := 0
	for _, rec := range files {
		if !rec.IsExpired(now) {
			continue
		}

		rec.Status = model.StatusExpired

		attrPath := attr.FilePath(rp.store.FullPath(rec.StoragePath))
		if err := attr.Write(attrPath, rec); err != nil {
			rp.logger.Error("Reaper: ошибка обновления attr.json",
				slog.String("file_id", rec.FileID),
				slog.String("error", err.Error()),
			)
			continue
		}

		if err := rp.idx.Update(rec); err != nil {
			rp.logger.Error("Reaper: ошибка обновления индекса",
				slog.String("file_id", rec.FileID),
				slog.String("error", err.Error()),
			)
			continue
		}

		rp.logger.Debug("Reaper: файл помечен как expired",
			slog.String("file_id", rec.FileID),
			slog.String("filename", rec.OriginalFilename),
		)
		count++
	}

	return count
}

// deleteFiles физически удаляет expired файлы и дочищает deleted,
// оставшиеся после падения. Порядок для каждого файла:
// attr.json → deleted, удаление блоба, удаление attr.json, индекс.
func (rp *Reaper) deleteFiles() (deleted, errCount int) {
	files := rp.idx.List(model.StatusExpired)
	files = append(files, rp.idx.List(model.StatusDeleted)...)

	for _, rec := range files {
		attrPath := attr.FilePath(rp.store.FullPath(rec.StoragePath))

		// Фиксируем намерение удалить: после падения запись deleted
		// будет дочищена следующим запуском
		if rec.Status != model.StatusDeleted {
			rec.Status = model.StatusDeleted
			if err := attr.Write(attrPath, rec); err != nil {
				rp.logger.Error("Reaper: ошибка перевода attr.json в deleted",
					slog.String("file_id", rec.FileID),
					slog.String("error", err.Error()),
				)
				errCount++
				continue
			}
			if err := rp.idx.Update(rec); err != nil {
				rp.logger.Error("Reaper: ошибка обновления индекса",
					slog.String("file_id", rec.FileID),
					slog.String("error", err.Error()),
				)
			}
		}

		// Удаляем блоб. Отсутствие файла — не ошибка: открытые
		// дескрипторы активных скачиваний остаются валидными после
		// unlink, докачка завершится штатно.
		if err := rp.store.DeleteFile(rec.StoragePath); err != nil {
			rp.logger.Error("Reaper: ошибка удаления файла",
				slog.String("file_id", rec.FileID),
				slog.String("storage_path", rec.StoragePath),
				slog.String("error", err.Error()),
			)
			errCount++
			continue
		}

		// Удаляем attr.json
		if err := attr.Delete(attrPath); err != nil {
			rp.logger.Error("Reaper: ошибка удаления attr.json",
				slog.String("file_id", rec.FileID),
				slog.String("error", err.Error()),
			)
			// Блоб уже удалён, attr.json дочистится следующим запуском
		}

		rp.idx.Remove(rec.FileID)

		rp.logger.Debug("Reaper: файл удалён",
			slog.String("file_id", rec.FileID),
			slog.String("filename", rec.OriginalFilename),
		)
		deleted++
	}

	return deleted, errCount
}

// refreshGauges синхронизирует gauge-метрики с текущим состоянием
// индекса. Абсолютные значения надёжнее Inc/Dec из разных точек.
func (rp *Reaper) refreshGauges() {
	middleware.FilesTotal.WithLabelValues(string(model.StatusActive)).
		Set(float64(rp.idx.CountByStatus(model.StatusActive)))
	middleware.FilesTotal.WithLabelValues(string(model.StatusExpired)).
		Set(float64(rp.idx.CountByStatus(model.StatusExpired)))
	middleware.FilesTotal.WithLabelValues(string(model.StatusDeleted)).
		Set(float64(rp.idx.CountByStatus(model.StatusDeleted)))
	middleware.StorageBytes.Set(float64(rp.idx.ActiveBytes()))
}
