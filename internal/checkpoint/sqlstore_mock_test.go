package checkpoint

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func setupMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &SQLStore{db: db}, mock
}

func TestSQLStore_Put_InsertErrorPropagates(t *testing.T) {
	s, mock := setupMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT MAX\(sequence\) FROM checkpoints WHERE thread_id = \?`).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	mock.ExpectExec(`INSERT INTO checkpoints`).
		WithArgs("t1", int64(1), nil, []byte("payload"), sqlmock.AnyArg()).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := s.Put(ctx, "t1", nil, []byte("payload"))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if errors.Is(err, ErrStaleParent) {
		t.Fatalf("expected a plain insert error, got ErrStaleParent")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLStore_Put_UniqueConstraintReportsStaleParent(t *testing.T) {
	s, mock := setupMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT MAX\(sequence\) FROM checkpoints WHERE thread_id = \?`).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	mock.ExpectExec(`INSERT INTO checkpoints`).
		WithArgs("t1", int64(1), nil, []byte("payload"), sqlmock.AnyArg()).
		WillReturnError(errors.New("UNIQUE constraint failed: checkpoints.thread_id, checkpoints.sequence"))
	mock.ExpectRollback()

	_, err := s.Put(ctx, "t1", nil, []byte("payload"))
	if !errors.Is(err, ErrStaleParent) {
		t.Fatalf("expected ErrStaleParent, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLStore_Put_CommitErrorPropagates(t *testing.T) {
	s, mock := setupMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT MAX\(sequence\) FROM checkpoints WHERE thread_id = \?`).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	mock.ExpectExec(`INSERT INTO checkpoints`).
		WithArgs("t1", int64(1), nil, []byte("payload"), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit().WillReturnError(errors.New("connection reset"))

	_, err := s.Put(ctx, "t1", nil, []byte("payload"))
	if err == nil {
		t.Fatal("expected commit error, got nil")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
