package service

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	apierrors "github.com/bigkaa/filedrop/internal/api/errors"
	"github.com/bigkaa/filedrop/internal/config"
	"github.com/bigkaa/filedrop/internal/domain/model"
	"github.com/bigkaa/filedrop/internal/storage/filestore"
	"github.com/bigkaa/filedrop/internal/storage/index"
	"github.com/bigkaa/filedrop/internal/storage/wal"
)

// setupDownloadEnv создаёт окружение с загруженным файлом.
func setupDownloadEnv(t *testing.T) (*UploadService, *DownloadService, *filestore.FileStore, *index.Index) {
	t.Helper()

	dataDir := t.TempDir()
	walDir := t.TempDir()

	store, err := filestore.New(dataDir)
	if err != nil {
		t.Fatalf("Ошибка создания FileStore: %v", err)
	}
	walEngine, err := wal.New(walDir, testLogger())
	if err != nil {
		t.Fatalf("Ошибка создания WAL: %v", err)
	}
	idx := index.New(testLogger())

	cfg := &config.Config{DataDir: dataDir, WALDir: walDir, MaxFileSize: 1 << 20}

	uploadSvc := NewUploadService(cfg, walEngine, store, idx, testLogger())
	downloadSvc := NewDownloadService(store, idx, testLogger())
	return uploadSvc, downloadSvc, store, idx
}

// mustUpload загружает файл и возвращает запись.
func mustUpload(t *testing.T, svc *UploadService, content []byte, password, expire string) *model.FileRecord {
	t.Helper()

	result, uploadErr := svc.Upload(UploadParams{
		Reader:           bytes.NewReader(content),
		OriginalFilename: "file.bin",
		ContentType:      "application/octet-stream",
		DeclaredSize:     int64(len(content)),
		Password:         password,
		Expire:           expire,
	})
	if uploadErr != nil {
		t.Fatalf("Ошибка загрузки: %v", uploadErr)
	}
	return result.Record
}

// serve выполняет скачивание и возвращает recorder и ошибку сервиса.
func serve(downloadSvc *DownloadService, fileID, password string) (*httptest.ResponseRecorder, *DownloadError) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/download/"+fileID, nil)
	err := downloadSvc.Serve(w, r, fileID, password)
	return w, err
}

func TestDownload_Roundtrip(t *testing.T) {
	uploadSvc, downloadSvc, _, _ := setupDownloadEnv(t)

	content := []byte("байт-в-байт те же данные, что загружали")
	rec := mustUpload(t, uploadSvc, content, "", "1h")

	w, dlErr := serve(downloadSvc, rec.FileID, "")
	if dlErr != nil {
		t.Fatalf("Ошибка скачивания: %v", dlErr)
	}

	if w.Code != http.StatusOK {
		t.Errorf("StatusCode: хотели 200, получили %d", w.Code)
	}
	if !bytes.Equal(w.Body.Bytes(), content) {
		t.Error("Скачанные данные должны совпадать с загруженными байт в байт")
	}
	if got := w.Header().Get("Content-Type"); got != "application/octet-stream" {
		t.Errorf("Content-Type: хотели application/octet-stream, получили %s", got)
	}
	if got := w.Header().Get("Content-Disposition"); got == "" {
		t.Error("Content-Disposition должен быть установлен")
	}
	if got := w.Header().Get("ETag"); got != fmt.Sprintf("%q", rec.Checksum) {
		t.Errorf("ETag: хотели %q, получили %s", rec.Checksum, got)
	}
}

func TestDownload_NotFound(t *testing.T) {
	_, downloadSvc, _, _ := setupDownloadEnv(t)

	_, dlErr := serve(downloadSvc, "0123456789abcdef0123456789abcdef", "")
	if dlErr == nil {
		t.Fatal("Скачивание несуществующего файла должно быть отклонено")
	}
	if dlErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode: хотели 404, получили %d", dlErr.StatusCode)
	}
	if dlErr.Code != apierrors.CodeNotFound {
		t.Errorf("Code: хотели %s, получили %s", apierrors.CodeNotFound, dlErr.Code)
	}
}

func TestDownload_Expired_SameAsNotFound(t *testing.T) {
	uploadSvc, downloadSvc, _, idx := setupDownloadEnv(t)

	rec := mustUpload(t, uploadSvc, []byte("скоро истечёт"), "", "5m")

	// Ответ для несуществующего файла — эталон
	_, missingErr := serve(downloadSvc, "ffffffffffffffffffffffffffffffff", "")
	if missingErr == nil {
		t.Fatal("Ожидалась ошибка для несуществующего файла")
	}

	// Сдвигаем дедлайн в прошлое
	expired := idx.Get(rec.FileID)
	expired.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	if err := idx.Update(expired); err != nil {
		t.Fatalf("Ошибка обновления индекса: %v", err)
	}

	_, expiredErr := serve(downloadSvc, rec.FileID, "")
	if expiredErr == nil {
		t.Fatal("Скачивание просроченного файла должно быть отклонено")
	}

	// Ответы неразличимы: статус, код и сообщение совпадают
	if expiredErr.StatusCode != missingErr.StatusCode {
		t.Errorf("StatusCode: хотели %d, получили %d", missingErr.StatusCode, expiredErr.StatusCode)
	}
	if expiredErr.Code != missingErr.Code {
		t.Errorf("Code: хотели %s, получили %s", missingErr.Code, expiredErr.Code)
	}
	if expiredErr.Message != missingErr.Message {
		t.Errorf("Message: хотели %q, получили %q", missingErr.Message, expiredErr.Message)
	}

	// Ленивая пометка: запись перешла в expired, не дожидаясь reaper
	marked := idx.Get(rec.FileID)
	if marked == nil {
		t.Fatal("Запись должна остаться в индексе до прохода reaper")
	}
	if marked.Status != model.StatusExpired {
		t.Errorf("Status: хотели expired, получили %s", marked.Status)
	}
}

func TestDownload_PasswordRequired(t *testing.T) {
	uploadSvc, downloadSvc, _, _ := setupDownloadEnv(t)

	rec := mustUpload(t, uploadSvc, []byte("под паролем"), "правильный", "1h")

	// Без пароля — 401
	_, noPassErr := serve(downloadSvc, rec.FileID, "")
	if noPassErr == nil {
		t.Fatal("Скачивание без пароля должно быть отклонено")
	}
	if noPassErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode: хотели 401, получили %d", noPassErr.StatusCode)
	}

	// С неверным паролем — 401, то же сообщение
	_, wrongErr := serve(downloadSvc, rec.FileID, "неверный")
	if wrongErr == nil {
		t.Fatal("Скачивание с неверным паролем должно быть отклонено")
	}
	if wrongErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode: хотели 401, получили %d", wrongErr.StatusCode)
	}
	if wrongErr.Message != noPassErr.Message {
		t.Error("Сообщения для отсутствующего и неверного пароля должны совпадать")
	}

	// С правильным паролем — 200
	w, okErr := serve(downloadSvc, rec.FileID, "правильный")
	if okErr != nil {
		t.Fatalf("Скачивание с правильным паролем: %v", okErr)
	}
	if w.Code != http.StatusOK {
		t.Errorf("StatusCode: хотели 200, получили %d", w.Code)
	}
}

func TestDownload_MultiUse(t *testing.T) {
	uploadSvc, downloadSvc, _, _ := setupDownloadEnv(t)

	content := []byte("многоразовое скачивание")
	rec := mustUpload(t, uploadSvc, content, "", "1h")

	// Файл доступен многократно до истечения срока
	for i := 0; i < 3; i++ {
		w, dlErr := serve(downloadSvc, rec.FileID, "")
		if dlErr != nil {
			t.Fatalf("Скачивание #%d: %v", i+1, dlErr)
		}
		if !bytes.Equal(w.Body.Bytes(), content) {
			t.Errorf("Скачивание #%d: данные не совпадают", i+1)
		}
	}
}

func TestDownload_RangeRequest(t *testing.T) {
	uploadSvc, downloadSvc, _, _ := setupDownloadEnv(t)

	content := []byte("0123456789")
	rec := mustUpload(t, uploadSvc, content, "", "1h")

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/download/"+rec.FileID, nil)
	r.Header.Set("Range", "bytes=2-5")

	if dlErr := downloadSvc.Serve(w, r, rec.FileID, ""); dlErr != nil {
		t.Fatalf("Ошибка скачивания: %v", dlErr)
	}

	if w.Code != http.StatusPartialContent {
		t.Errorf("StatusCode: хотели 206, получили %d", w.Code)
	}
	if got := w.Body.String(); got != "2345" {
		t.Errorf("Body: хотели 2345, получили %q", got)
	}
}

func TestDownload_ConcurrentReaders(t *testing.T) {
	uploadSvc, downloadSvc, _, _ := setupDownloadEnv(t)

	content := bytes.Repeat([]byte("конкурентные данные "), 1000)
	rec := mustUpload(t, uploadSvc, content, "", "1h")

	const readers = 10
	var wg sync.WaitGroup
	errCh := make(chan error, readers)

	wg.Add(readers)
	for i := 0; i < readers; i++ {
		go func() {
			defer wg.Done()
			w, dlErr := serve(downloadSvc, rec.FileID, "")
			if dlErr != nil {
				errCh <- fmt.Errorf("ошибка скачивания: %v", dlErr)
				return
			}
			if !bytes.Equal(w.Body.Bytes(), content) {
				errCh <- fmt.Errorf("данные не совпадают")
			}
		}()
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Error(err)
	}
}

func TestDownload_AfterReaperDelete(t *testing.T) {
	uploadSvc, downloadSvc, store, idx := setupDownloadEnv(t)

	rec := mustUpload(t, uploadSvc, []byte("исчезающие данные"), "", "5m")

	// Сдвигаем дедлайн и прогоняем reaper: файл полностью удалён
	expired := idx.Get(rec.FileID)
	expired.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	if err := idx.Update(expired); err != nil {
		t.Fatalf("Ошибка обновления индекса: %v", err)
	}

	rp := NewReaper(store, idx, time.Hour, testLogger())
	rp.RunOnce()

	_, dlErr := serve(downloadSvc, rec.FileID, "")
	if dlErr == nil {
		t.Fatal("Скачивание удалённого файла должно быть отклонено")
	}
	if dlErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode: хотели 404, получили %d", dlErr.StatusCode)
	}
}
