package wal

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// testLogger возвращает логгер для тестов (вывод подавляется).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // подавляем debug/info/warn в тестах
	}))
}

// TestNew_CreatesDirectory проверяет, что New создаёт директорию WAL.
func TestNew_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	walDir := filepath.Join(dir, "wal")

	w, err := New(walDir, testLogger())
	if err != nil {
		t.Fatalf("ожидалось успешное создание WAL, получена ошибка: %v", err)
	}

	if w.Dir() != walDir {
		t.Errorf("ожидался путь %s, получен %s", walDir, w.Dir())
	}

	info, err := os.Stat(walDir)
	if err != nil {
		t.Fatalf("директория WAL не создана: %v", err)
	}
	if !info.IsDir() {
		t.Fatalf("WAL path не является директорией")
	}
}

// TestNew_ReadOnlyDir проверяет ошибку при недоступной для записи директории.
func TestNew_ReadOnlyDir(t *testing.T) {
	dir := t.TempDir()
	walDir := filepath.Join(dir, "wal")

	if err := os.MkdirAll(walDir, 0o550); err != nil {
		t.Fatalf("не удалось создать директорию: %v", err)
	}

	_, err := New(walDir, testLogger())
	if err == nil {
		t.Fatal("ожидалась ошибка при недоступной для записи директории")
	}
}

// TestStartTransaction проверяет создание новой транзакции.
func TestStartTransaction(t *testing.T) {
	w, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}

	entry, err := w.StartTransaction(OpFileCreate, "file-123")
	if err != nil {
		t.Fatalf("ошибка создания транзакции: %v", err)
	}

	if entry.TransactionID == "" {
		t.Error("TransactionID не должен быть пустым")
	}
	if entry.Operation != OpFileCreate {
		t.Errorf("ожидалась операция %s, получена %s", OpFileCreate, entry.Operation)
	}
	if entry.Status != StatusPending {
		t.Errorf("ожидался статус %s, получен %s", StatusPending, entry.Status)
	}
	if entry.FileID != "file-123" {
		t.Errorf("ожидался FileID 'file-123', получен %q", entry.FileID)
	}
	if entry.StartedAt.IsZero() {
		t.Error("StartedAt не должен быть нулевым")
	}
	if entry.CompletedAt != nil {
		t.Error("CompletedAt должен быть nil для pending")
	}

	walFile := filepath.Join(w.Dir(), walFileName(entry.TransactionID))
	if _, err := os.Stat(walFile); os.IsNotExist(err) {
		t.Errorf("WAL-файл не найден: %s", walFile)
	}
}

// TestCommit проверяет успешное завершение транзакции.
func TestCommit(t *testing.T) {
	w, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}

	entry, err := w.StartTransaction(OpFileCreate, "file-123")
	if err != nil {
		t.Fatalf("ошибка создания транзакции: %v", err)
	}

	if err := w.Commit(entry.TransactionID); err != nil {
		t.Fatalf("ошибка коммита: %v", err)
	}

	committed, err := w.readEntry(entry.TransactionID)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}

	if committed.Status != StatusCommitted {
		t.Errorf("ожидался статус %s, получен %s", StatusCommitted, committed.Status)
	}
	if committed.CompletedAt == nil {
		t.Error("CompletedAt не должен быть nil после коммита")
	}
}

// TestRollback проверяет откат транзакции.
func TestRollback(t *testing.T) {
	w, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}

	entry, err := w.StartTransaction(OpFileDelete, "file-456")
	if err != nil {
		t.Fatalf("ошибка создания транзакции: %v", err)
	}

	if err := w.Rollback(entry.TransactionID); err != nil {
		t.Fatalf("ошибка rollback: %v", err)
	}

	rolledBack, err := w.readEntry(entry.TransactionID)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}

	if rolledBack.Status != StatusRolledBack {
		t.Errorf("ожидался статус %s, получен %s", StatusRolledBack, rolledBack.Status)
	}
	if rolledBack.CompletedAt == nil {
		t.Error("CompletedAt не должен быть nil после rollback")
	}
}

// TestCommit_NonPending проверяет ошибку коммита не-pending транзакции.
func TestCommit_NonPending(t *testing.T) {
	w, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}

	entry, err := w.StartTransaction(OpFileCreate, "file-123")
	if err != nil {
		t.Fatalf("ошибка создания транзакции: %v", err)
	}

	if err := w.Commit(entry.TransactionID); err != nil {
		t.Fatalf("ошибка первого коммита: %v", err)
	}

	if err := w.Commit(entry.TransactionID); err == nil {
		t.Error("ожидалась ошибка при повторном коммите")
	}
}

// TestRollback_NonPending проверяет ошибку rollback не-pending транзакции.
func TestRollback_NonPending(t *testing.T) {
	w, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}

	entry, err := w.StartTransaction(OpFileCreate, "file-123")
	if err != nil {
		t.Fatalf("ошибка создания транзакции: %v", err)
	}

	if err := w.Commit(entry.TransactionID); err != nil {
		t.Fatalf("ошибка коммита: %v", err)
	}

	if err := w.Rollback(entry.TransactionID); err == nil {
		t.Error("ожидалась ошибка при rollback закоммиченной транзакции")
	}
}

// TestRecoverPending проверяет восстановление pending транзакций.
func TestRecoverPending(t *testing.T) {
	w, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}

	// Создаём 3 транзакции: 1 pending, 1 committed, 1 rolled_back
	pending, err := w.StartTransaction(OpFileCreate, "file-1")
	if err != nil {
		t.Fatalf("ошибка создания транзакции: %v", err)
	}

	committed, err := w.StartTransaction(OpFileCreate, "file-2")
	if err != nil {
		t.Fatalf("ошибка создания транзакции: %v", err)
	}
	if err := w.Commit(committed.TransactionID); err != nil {
		t.Fatalf("ошибка коммита: %v", err)
	}

	rolledBack, err := w.StartTransaction(OpFileDelete, "file-3")
	if err != nil {
		t.Fatalf("ошибка создания транзакции: %v", err)
	}
	if err := w.Rollback(rolledBack.TransactionID); err != nil {
		t.Fatalf("ошибка rollback: %v", err)
	}

	recovered, err := w.RecoverPending()
	if err != nil {
		t.Fatalf("ошибка восстановления: %v", err)
	}

	if len(recovered) != 1 {
		t.Fatalf("ожидалась 1 pending транзакция, получено %d", len(recovered))
	}
	if recovered[0].TransactionID != pending.TransactionID {
		t.Errorf("ожидался tx_id %s, получен %s", pending.TransactionID, recovered[0].TransactionID)
	}
}

// TestRecoverPending_Empty проверяет восстановление при пустом WAL.
func TestRecoverPending_Empty(t *testing.T) {
	w, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}

	recovered, err := w.RecoverPending()
	if err != nil {
		t.Fatalf("ошибка восстановления: %v", err)
	}

	if len(recovered) != 0 {
		t.Errorf("ожидалось 0 pending транзакций, получено %d", len(recovered))
	}
}

// TestCleanCommitted проверяет очистку завершённых WAL-записей.
func TestCleanCommitted(t *testing.T) {
	w, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}

	// 1 pending, 1 committed, 1 rolled_back
	_, err = w.StartTransaction(OpFileCreate, "file-1")
	if err != nil {
		t.Fatalf("ошибка: %v", err)
	}

	tx2, err := w.StartTransaction(OpFileCreate, "file-2")
	if err != nil {
		t.Fatalf("ошибка: %v", err)
	}
	w.Commit(tx2.TransactionID)

	tx3, err := w.StartTransaction(OpFileDelete, "file-3")
	if err != nil {
		t.Fatalf("ошибка: %v", err)
	}
	w.Rollback(tx3.TransactionID)

	cleaned, err := w.CleanCommitted()
	if err != nil {
		t.Fatalf("ошибка очистки: %v", err)
	}

	if cleaned != 2 {
		t.Errorf("ожидалось 2 очищенных записи, получено %d", cleaned)
	}

	// Pending должна остаться
	recovered, _ := w.RecoverPending()
	if len(recovered) != 1 {
		t.Errorf("ожидалась 1 pending запись, получено %d", len(recovered))
	}
}

// TestAtomicWrite проверяет, что WAL-файлы записываются атомарно.
func TestAtomicWrite(t *testing.T) {
	w, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}

	entry, err := w.StartTransaction(OpFileCreate, "file-atomic")
	if err != nil {
		t.Fatalf("ошибка создания транзакции: %v", err)
	}

	tmpPath := filepath.Join(w.Dir(), walFileName(entry.TransactionID)+".tmp")
	if _, err := os.Stat(tmpPath); !os.IsNotExist(err) {
		t.Errorf("временный файл не должен существовать после записи: %s", tmpPath)
	}

	data, err := os.ReadFile(filepath.Join(w.Dir(), walFileName(entry.TransactionID)))
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}

	var readBack Entry
	if err := json.Unmarshal(data, &readBack); err != nil {
		t.Fatalf("невалидный JSON: %v", err)
	}
}

// TestConcurrentAccess проверяет потокобезопасность WAL.
func TestConcurrentAccess(t *testing.T) {
	w, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}

	const goroutines = 20
	var wg sync.WaitGroup
	errCh := make(chan error, goroutines)

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()

			entry, err := w.StartTransaction(OpFileCreate, "file-concurrent")
			if err != nil {
				errCh <- err
				return
			}

			if err := w.Commit(entry.TransactionID); err != nil {
				errCh <- err
				return
			}
		}()
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("ошибка в горутине: %v", err)
	}
}
