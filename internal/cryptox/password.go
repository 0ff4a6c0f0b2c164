// Пакет cryptox — хэширование и проверка паролей файлов.
//
// Используется argon2id — memory-hard KDF: подбор пароля по
// украденному attr.json требует значительных ресурсов памяти.
// Открытый пароль нигде не сохраняется, хранятся только соль и хэш.
package cryptox

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Параметры argon2id.
const (
	saltSize     = 16
	argonTime    = 1
	argonMemory  = 64 * 1024 // КиБ
	argonThreads = 4
	argonKeyLen  = 32
)

// HashPassword возвращает случайную соль и argon2id-хэш пароля.
func HashPassword(password string) (salt, hash []byte, err error) {
	salt = make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, fmt.Errorf("ошибка генерации соли: %w", err)
	}

	hash = argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return salt, hash, nil
}

// VerifyPassword проверяет пароль против сохранённых соли и хэша.
// Сравнение выполняется за константное время относительно хэша,
// чтобы исключить timing side-channel.
func VerifyPassword(password string, salt, hash []byte) bool {
	if len(salt) == 0 || len(hash) == 0 {
		return false
	}

	candidate := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(candidate, hash) == 1
}
