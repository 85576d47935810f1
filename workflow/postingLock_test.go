package workflow

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	mysqldriver "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NOTE: these tests run against a mocked driver, no database needed. The mock
// enforces statement order, which is the whole point: GET_LOCK survives commit
// and rollback, so RELEASE_LOCK must reach the server while the posting
// transaction is still live.

func newMockGorm(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(mysqldriver.New(mysqldriver.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	return db, mock
}

func lockResult(value int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"lock_result"}).AddRow(value)
}

func TestPostingLock_ReleasedInsideLiveTransaction(t *testing.T) {
	db, mock := newMockGorm(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT GET_LOCK").WillReturnRows(lockResult(1))
	mock.ExpectQuery("SELECT RELEASE_LOCK").WillReturnRows(lockResult(1))
	mock.ExpectCommit()

	tx := db.Begin()
	if err := AcquireBusinessPostingLock(tx, "biz-1"); err != nil {
		t.Fatalf("AcquireBusinessPostingLock: %v", err)
	}
	ReleaseBusinessPostingLock(tx, "biz-1")
	if err := tx.Commit().Error; err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("release did not reach the server before commit: %v", err)
	}
}

func TestPostingLock_TimeoutIsConcurrencyConflict(t *testing.T) {
	db, mock := newMockGorm(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT GET_LOCK").WillReturnRows(lockResult(0))
	mock.ExpectRollback()

	tx := db.Begin()
	err := AcquireBusinessPostingLock(tx, "biz-1")
	if err == nil {
		t.Fatal("expected an error when GET_LOCK times out")
	}
	tx.Rollback()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected statements: %v", err)
	}
}

func TestVerifyStockConsistency_LockScanAndReleaseShareOneSession(t *testing.T) {
	db, mock := newMockGorm(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT GET_LOCK").WillReturnRows(lockResult(1))
	mock.ExpectQuery("SELECT \\* FROM `stock_summaries`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "business_id", "product_id"}))
	mock.ExpectQuery("SELECT RELEASE_LOCK").WillReturnRows(lockResult(1))
	mock.ExpectCommit()

	logger := logrus.New()
	inconsistencies, err := VerifyStockConsistency(context.Background(), db, logger, "biz-1")
	if err != nil {
		t.Fatalf("VerifyStockConsistency: %v", err)
	}
	if len(inconsistencies) != 0 {
		t.Fatalf("expected no inconsistencies, got %d", len(inconsistencies))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("verification did not run lock, scan and release on one transaction: %v", err)
	}
}
