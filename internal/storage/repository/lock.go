package repository

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
)

// SessionLock — распределенный мьютекс на advisory-блокировках PostgreSQL.
// Гарантирует, что немасштабируемый потребитель (long-poll цикл) запущен
// не более чем в одном процессе, разделяющем базу. Блокировка привязана
// к сессии выделенного соединения: при падении процесса база снимает её
// сама. Повторный захват в рамках процесса без освобождения не
// предусмотрен контрактом.
type SessionLock struct {
	conn *sql.Conn
}

// NewSessionLock закрепляет за блокировкой отдельное соединение из пула.
func (s *Storage) NewSessionLock(ctx context.Context) (*SessionLock, error) {
	const op = "storage.NewSessionLock"
	conn, err := s.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &SessionLock{conn: conn}, nil
}

// lockID сводит строковый ключ к 64-битному идентификатору advisory-блокировки.
func lockID(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}

// TryAcquire пытается захватить блокировку без ожидания. Возвращает false,
// если она удерживается другой сессией; никогда не встает в очередь.
func (l *SessionLock) TryAcquire(ctx context.Context, key string) (bool, error) {
	const op = "storage.SessionLock.TryAcquire"
	var acquired bool
	err := l.conn.QueryRowContext(ctx,
		`SELECT pg_try_advisory_lock($1)`, lockID(key)).Scan(&acquired)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return acquired, nil
}

// Release освобождает блокировку. Освобождение незахваченной блокировки —
// no-op: pg_advisory_unlock вернет false, это не ошибка.
func (l *SessionLock) Release(ctx context.Context, key string) error {
	const op = "storage.SessionLock.Release"
	var released bool
	err := l.conn.QueryRowContext(ctx,
		`SELECT pg_advisory_unlock($1)`, lockID(key)).Scan(&released)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Close возвращает соединение в пул, завершая сессию блокировки.
func (l *SessionLock) Close() error {
	return l.conn.Close()
}
