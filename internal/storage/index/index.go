// Пакет index — потокобезопасный in-memory индекс метаданных файлов.
//
// Индекс строится при старте из attr.json файлов (BuildFromDir)
// и обновляется синхронно при операциях записи (Add, Update, Remove).
// Единственная точка синхронизации мутаций: все переходы статусов
// проходят через методы индекса под write-lock, поэтому гонка
// "reaper помечает запись X" против "download читает X как active"
// исключена — каждый читатель получает согласованную копию.
//
// Не персистентный: при рестарте пересобирается из attr.json.
package index

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/bigkaa/filedrop/internal/domain/model"
	"github.com/bigkaa/filedrop/internal/storage/attr"
)

// Index — потокобезопасный in-memory индекс метаданных.
// Использует sync.RWMutex для конкурентного чтения и
// эксклюзивной записи.
type Index struct {
	mu     sync.RWMutex
	files  map[string]*model.FileRecord // file_id → record
	ready  bool                         // индекс построен и готов
	logger *slog.Logger
}

// New создаёт пустой индекс. Для заполнения вызовите BuildFromDir.
func New(logger *slog.Logger) *Index {
	return &Index{
		files:  make(map[string]*model.FileRecord),
		logger: logger.With(slog.String("component", "index")),
	}
}

// BuildFromDir строит индекс из attr.json файлов в указанной директории.
// Вызывается при старте сервера. Заменяет текущее содержимое индекса.
// После успешного построения индекс помечается как ready.
func (idx *Index) BuildFromDir(dataDir string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	records, err := attr.ScanDir(dataDir)
	if err != nil {
		return fmt.Errorf("ошибка сканирования директории %s: %w", dataDir, err)
	}

	idx.files = make(map[string]*model.FileRecord, len(records))
	for _, rec := range records {
		idx.files[rec.FileID] = rec
	}

	idx.ready = true

	idx.logger.Info("Индекс метаданных построен",
		slog.Int("files", len(idx.files)),
		slog.String("data_dir", dataDir),
	)

	return nil
}

// IsReady возвращает true, если индекс построен и готов к использованию.
func (idx *Index) IsReady() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.ready
}

// Add добавляет запись в индекс.
// Если запись с таким ID уже существует, она будет перезаписана.
func (idx *Index) Add(rec *model.FileRecord) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	// Создаём копию, чтобы избежать data race при внешних изменениях
	copied := *rec
	idx.files[rec.FileID] = &copied
}

// Update обновляет запись в индексе.
// Возвращает ошибку, если запись не найдена.
func (idx *Index) Update(rec *model.FileRecord) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.files[rec.FileID]; !ok {
		return fmt.Errorf("файл %s не найден в индексе", rec.FileID)
	}

	copied := *rec
	idx.files[rec.FileID] = &copied
	return nil
}

// Remove удаляет запись из индекса по file_id.
// Возвращает true, если запись была найдена и удалена.
func (idx *Index) Remove(fileID string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.files[fileID]; !ok {
		return false
	}
	delete(idx.files, fileID)
	return true
}

// Get возвращает запись по file_id.
// Возвращает nil, если запись не найдена.
func (idx *Index) Get(fileID string) *model.FileRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	rec, ok := idx.files[fileID]
	if !ok {
		return nil
	}

	// Возвращаем копию для потокобезопасности
	copied := *rec
	return &copied
}

// List возвращает записи с опциональной фильтрацией по статусу
// ("" — без фильтра), отсортированные по дате создания (новые первые).
func (idx *Index) List(statusFilter model.FileStatus) []*model.FileRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var filtered []*model.FileRecord
	for _, rec := range idx.files {
		if statusFilter != "" && rec.Status != statusFilter {
			continue
		}
		copied := *rec
		filtered = append(filtered, &copied)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	return filtered
}

// Count возвращает общее количество записей в индексе.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.files)
}

// CountByStatus возвращает количество записей с указанным статусом.
func (idx *Index) CountByStatus(status model.FileStatus) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	count := 0
	for _, rec := range idx.files {
		if rec.Status == status {
			count++
		}
	}
	return count
}

// ActiveBytes возвращает суммарный размер активных блобов в байтах.
// Используется для метрики занятого места.
func (idx *Index) ActiveBytes() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var total int64
	for _, rec := range idx.files {
		if rec.Status == model.StatusActive {
			total += rec.Size
		}
	}
	return total
}
