package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/longregen/chattree/internal/domain/models"
	"github.com/pashagolub/pgxmock/v4"
)

func TestTransactionManager_Commit(t *testing.T) {
	mock := newMock(t)
	txMgr := NewTransactionManager(mock)
	convRepo := NewConversationRepository(nil)

	conv := models.NewConversation("conv_tx", "ws_1", "tx", "")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO chattree_conversations").
		WithArgs(conv.ID, conv.WorkspaceID, conv.Title, conv.ModelID, conv.Status,
			conv.TipMessageID, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := txMgr.WithTransaction(context.Background(), func(txCtx context.Context) error {
		return convRepo.Create(txCtx, conv)
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestTransactionManager_Rollback(t *testing.T) {
	mock := newMock(t)
	txMgr := NewTransactionManager(mock)
	testErr := errors.New("test error")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := txMgr.WithTransaction(context.Background(), func(txCtx context.Context) error {
		return testErr
	})
	if !errors.Is(err, testErr) {
		t.Errorf("expected test error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestTransactionManager_PanicRollsBack(t *testing.T) {
	mock := newMock(t)
	txMgr := NewTransactionManager(mock)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := txMgr.WithTransaction(context.Background(), func(txCtx context.Context) error {
		panic("boom")
	})
	if err == nil {
		t.Fatal("expected error from recovered panic")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestTransactionManager_NestedJoinsOuter(t *testing.T) {
	mock := newMock(t)
	txMgr := NewTransactionManager(mock)

	mock.ExpectBegin()
	mock.ExpectCommit()

	err := txMgr.WithTransaction(context.Background(), func(outer context.Context) error {
		return txMgr.WithTransaction(outer, func(inner context.Context) error {
			if GetTx(inner) != GetTx(outer) {
				t.Error("nested call should reuse the outer transaction")
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestMigrate(t *testing.T) {
	mock := newMock(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS chattree_conversations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	if err := Migrate(context.Background(), mock); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
