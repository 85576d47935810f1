package workflow

import (
	"fmt"

	"bitbucket.org/mmdatafocus/retail_backend/utils"
	"gorm.io/gorm"
)

// AcquireBusinessPostingLock serializes posting per business at the database
// level using MySQL advisory locks. GET_LOCK is connection-scoped, so this
// must run on the same *gorm.DB connection as the posting transaction.
// Offline tools (consistency verification) take the same lock, which is why
// it exists alongside the distributed redis lock.
//
// The lock is not transactional: commit and rollback leave it held on the
// pooled session. Callers must call ReleaseBusinessPostingLock on the live
// transaction before ending it; a statement issued on a finished transaction
// never reaches the server and the lock leaks until the connection dies.
func AcquireBusinessPostingLock(tx *gorm.DB, businessId string) error {
	lockName := fmt.Sprintf("posting:%s", businessId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return utils.NewAppError(utils.ErrorKindConcurrencyConflict,
			"could not acquire posting lock for business_id=%s", businessId)
	}
	return nil
}

func ReleaseBusinessPostingLock(tx *gorm.DB, businessId string) {
	lockName := fmt.Sprintf("posting:%s", businessId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
