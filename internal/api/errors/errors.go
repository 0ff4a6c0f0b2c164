// Пакет errors — конструкторы стандартных ошибок HTTP API.
// Единый формат: {"detail": "...", "code": "..."} — поле detail
// клиент показывает пользователю как есть, code — машиночитаемый.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // конфликт имени со stdlib осознанный, пакет внутренний

import (
	"encoding/json"
	"net/http"
)

// Коды ошибок публичного контракта.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	CodeInvalidExpiry   = "INVALID_EXPIRY"
	// CodeAlreadyExists — коллизия идентификатора. Внутренний код:
	// наружу не отдаётся, загрузка повторяет генерацию идентификатора.
	CodeAlreadyExists = "ALREADY_EXISTS"
	CodeInternalError = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код,
// detail — человекочитаемое описание для пользователя.
func WriteError(w http.ResponseWriter, statusCode int, code, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Detail: detail,
		Code:   code,
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, detail)
}

// NotFound — 404 файл не найден.
// Используется одинаково для несуществующих и истёкших файлов:
// по ответу нельзя отличить одно от другого.
func NotFound(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, detail)
}

// Unauthorized — 401 пароль не указан или неверен.
func Unauthorized(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, detail)
}

// PayloadTooLarge — 413 файл превышает лимит.
func PayloadTooLarge(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, detail)
}

// InvalidExpiry — 400 недопустимый срок хранения.
func InvalidExpiry(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, CodeInvalidExpiry, detail)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, detail)
}
