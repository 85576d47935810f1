package workflow

import (
	"bitbucket.org/mmdatafocus/retail_backend/config"
	"bitbucket.org/mmdatafocus/retail_backend/utils"
)

// withConflictRetry runs a posting operation and retries it exactly once when
// it fails with a ConcurrencyConflict. The retry sees a fresh snapshot; any
// other failure, and a second conflict, surface to the caller unchanged.
func withConflictRetry(fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	if !config.AllocationConflictRetry() {
		return err
	}
	if !utils.IsErrorKind(err, utils.ErrorKindConcurrencyConflict) {
		return err
	}
	return fn()
}
