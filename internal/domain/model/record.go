// Пакет model — доменные модели filedrop.
// FileRecord — единая структура метаданных передачи, используется
// как in-memory представление и как формат attr.json на диске.
package model

import (
	"time"
)

// FileStatus — статус записи в хранилище.
type FileStatus string

const (
	// StatusActive — файл доступен для скачивания
	StatusActive FileStatus = "active"
	// StatusExpired — срок хранения истёк, скачивание запрещено,
	// блоб может ещё существовать (ожидает очистки reaper)
	StatusExpired FileStatus = "expired"
	// StatusDeleted — блоб удалён, запись ожидает окончательной очистки.
	// Промежуточный статус второй фазы reaper: после рестарта
	// такая запись дочищается, но никогда не воскресает как active.
	StatusDeleted FileStatus = "deleted"
)

// Expire — выбранный при загрузке срок хранения.
// Закрытый набор значений, совпадает с вариантами клиента.
type Expire string

const (
	Expire5m  Expire = "5m"
	Expire15m Expire = "15m"
	Expire1h  Expire = "1h"
	Expire12h Expire = "12h"
	Expire24h Expire = "24h"
)

// expireDurations — допустимые сроки хранения и их длительности.
var expireDurations = map[Expire]time.Duration{
	Expire5m:  5 * time.Minute,
	Expire15m: 15 * time.Minute,
	Expire1h:  time.Hour,
	Expire12h: 12 * time.Hour,
	Expire24h: 24 * time.Hour,
}

// ParseExpire проверяет строку срока хранения.
// Возвращает Expire и true, если значение входит в допустимый набор.
func ParseExpire(s string) (Expire, bool) {
	e := Expire(s)
	_, ok := expireDurations[e]
	return e, ok
}

// Duration возвращает длительность срока хранения.
// Для недопустимого значения возвращает 0.
func (e Expire) Duration() time.Duration {
	return expireDurations[e]
}

// FileRecord — метаданные передачи. Соответствует содержимому attr.json.
// Поле StoragePath не входит в API-ответ, сохраняется в attr.json
// для привязки метаданных к физическому файлу на диске.
type FileRecord struct {
	// FileID — уникальный идентификатор файла.
	// Непоследовательный, неугадываемый, никогда не переиспользуется.
	FileID string `json:"file_id"`

	// OriginalFilename — оригинальное имя файла при загрузке
	OriginalFilename string `json:"original_filename"`

	// StoragePath — имя файла на диске (относительно FD_DATA_DIR).
	// Не возвращается в API, используется только внутри сервиса.
	StoragePath string `json:"storage_path"`

	// ContentType — MIME-тип файла
	ContentType string `json:"content_type"`

	// Size — размер файла в байтах
	Size int64 `json:"size"`

	// Checksum — SHA-256 хэш содержимого файла
	Checksum string `json:"checksum"`

	// PasswordSalt — случайная соль KDF. Присутствует только
	// если при загрузке был задан пароль.
	PasswordSalt []byte `json:"password_salt,omitempty"`

	// PasswordHash — argon2id-хэш пароля. Открытый пароль
	// никогда не сохраняется.
	PasswordHash []byte `json:"password_hash,omitempty"`

	// CreatedAt — дата и время загрузки (UTC)
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt — момент истечения срока хранения (UTC).
	// Фиксируется при создании: CreatedAt + Expire.Duration().
	// Никогда не продлевается.
	ExpiresAt time.Time `json:"expires_at"`

	// Expire — выбранный при загрузке срок хранения
	Expire Expire `json:"expire"`

	// Status — текущий статус записи
	Status FileStatus `json:"status"`
}

// IsExpired проверяет, истёк ли срок хранения файла.
func (r *FileRecord) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// IsActive проверяет, что запись в активном состоянии.
func (r *FileRecord) IsActive() bool {
	return r.Status == StatusActive
}

// HasPassword сообщает, защищён ли файл паролем.
func (r *FileRecord) HasPassword() bool {
	return len(r.PasswordHash) > 0
}
