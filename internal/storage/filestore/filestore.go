// Пакет filestore — операции с физическими файлами на диске.
// Обеспечивает streaming-запись с подсчётом SHA-256 на лету,
// чтение, удаление и контроль максимального размера.
//
// Блобы адресуются идентификатором файла. Запись write-once:
// повторная запись под существующим идентификатором — ошибка
// ErrBlobExists (идентификаторы никогда не переиспользуются).
package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrBlobExists — блоб с таким идентификатором уже записан.
var ErrBlobExists = errors.New("блоб с таким идентификатором уже существует")

// ErrTooLarge — объём данных в потоке превысил допустимый максимум.
var ErrTooLarge = errors.New("размер данных превышает допустимый максимум")

// FileStore — управление физическими файлами на диске.
type FileStore struct {
	// dataDir — корневая директория хранения файлов (FD_DATA_DIR)
	dataDir string
}

// SaveResult — результат сохранения файла на диск.
type SaveResult struct {
	// StoragePath — относительный путь файла в dataDir
	StoragePath string
	// FullPath — абсолютный путь файла на диске
	FullPath string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 хэш содержимого файла
	Checksum string
}

// New создаёт новый FileStore. Проверяет и создаёт директорию
// если она не существует.
func New(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}

	return &FileStore{dataDir: dataDir}, nil
}

// SaveFile записывает данные из reader на диск под именем fileID
// с подсчётом SHA-256 на лету. maxSize > 0 ограничивает объём:
// при превышении запись прерывается с ErrTooLarge (заявленному
// клиентом размеру доверять нельзя, лимит контролируется в потоке).
//
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
// При любой ошибке temp файл удаляется, частичный блоб не публикуется.
func (fs *FileStore) SaveFile(reader io.Reader, fileID string, maxSize int64) (*SaveResult, error) {
	fullPath := filepath.Join(fs.dataDir, fileID)

	// Write-once: идентификаторы не переиспользуются
	if _, err := os.Stat(fullPath); err == nil {
		return nil, ErrBlobExists
	}

	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	// Streaming запись с одновременным подсчётом SHA-256
	hasher := sha256.New()
	tee := io.TeeReader(reader, hasher)

	src := tee
	if maxSize > 0 {
		// +1 байт, чтобы отличить "ровно maxSize" от превышения
		src = io.LimitReader(tee, maxSize+1)
	}

	size, err := io.Copy(f, src)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if maxSize > 0 && size > maxSize {
		f.Close()
		os.Remove(tmpPath)
		return nil, ErrTooLarge
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	// Атомарный rename — публикация блоба
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &SaveResult{
		StoragePath: fileID,
		FullPath:    fullPath,
		Size:        size,
		Checksum:    hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// ReadFile открывает файл для чтения и возвращает *os.File.
// Открытый дескриптор остаётся валидным после unlink (POSIX):
// удаление блоба reaper'ом не обрывает начатые скачивания.
// Вызывающий код обязан закрыть файл.
func (fs *FileStore) ReadFile(storagePath string) (*os.File, error) {
	fullPath := filepath.Join(fs.dataDir, storagePath)

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("файл не найден: %s", storagePath)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", storagePath, err)
	}

	return f, nil
}

// FullPath возвращает абсолютный путь к файлу на диске.
func (fs *FileStore) FullPath(storagePath string) string {
	return filepath.Join(fs.dataDir, storagePath)
}

// DeleteFile удаляет файл с диска.
// Возвращает nil если файл уже не существует (идемпотентная очистка).
func (fs *FileStore) DeleteFile(storagePath string) error {
	fullPath := filepath.Join(fs.dataDir, storagePath)

	err := os.Remove(fullPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", storagePath, err)
	}
	return nil
}

// FileExists проверяет существование файла на диске.
func (fs *FileStore) FileExists(storagePath string) bool {
	fullPath := filepath.Join(fs.dataDir, storagePath)
	_, err := os.Stat(fullPath)
	return err == nil
}

// FileSize возвращает размер файла на диске.
func (fs *FileStore) FileSize(storagePath string) (int64, error) {
	fullPath := filepath.Join(fs.dataDir, storagePath)
	info, err := os.Stat(fullPath)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения информации о файле %s: %w", storagePath, err)
	}
	return info.Size(), nil
}

// DataDir возвращает путь к директории данных.
func (fs *FileStore) DataDir() string {
	return fs.dataDir
}
