// Пакет idgen — генерация идентификаторов файлов.
//
// Идентификатор — UUID v4 (122 бита энтропии из crypto/rand)
// в компактной записи без дефисов: 32 hex-символа.
// Непоследовательный и неугадываемый; последовательный перебор
// пространства идентификаторов практически невозможен.
//
// Уникальность дополнительно проверяется вызывающим кодом по индексу
// метаданных: коллизия — жёсткая ошибка с повторной генерацией,
// никогда не молчаливая перезапись.
package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// Length — длина идентификатора в символах.
const Length = 32

// New возвращает новый идентификатор файла.
func New() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// Valid проверяет, что строка имеет форму идентификатора:
// ровно Length символов [0-9a-f].
func Valid(id string) bool {
	if len(id) != Length {
		return false
	}
	for _, c := range id {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
