package utils

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/retail_backend/config"
)

var mutex sync.Mutex

func GetCacheLifespan() time.Duration {
	lifespan, err := strconv.Atoi(os.Getenv("CACHE_LIFESPAN"))
	if err != nil {
		lifespan = 1
	}
	return time.Duration(lifespan) * time.Hour
}

/* generic functions */

func GetTypeName[T any]() string {
	var v T
	typeOfT := reflect.TypeOf(v)
	return typeOfT.Name()
}

/* Redis */

// check if model has expiration date
func typeHasExpiration(typeName string) bool {
	expirableTypes := map[string]bool{
		"Product": true,
	}
	return expirableTypes[typeName]
}

// store instance, obj should be a pointer
func StoreRedis[T any](obj any, id int) error {
	typeName := GetTypeName[T]()
	key := typeName + ":" + fmt.Sprint(id)

	var duration time.Duration
	if typeHasExpiration(typeName) {
		duration = GetCacheLifespan()
	}
	return config.SetRedisObject(key, &obj, duration)
}

// get from redis
// returns nil if does not exist
func RetrieveRedis[T any](id int) (*T, error) {
	var result *T
	key := GetTypeName[T]() + ":" + fmt.Sprint(id)
	exists, err := config.GetRedisObject(key, &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return result, nil
}

// remove an instance, Type:$id
func RemoveRedisItem[T any](id int) error {
	key := GetTypeName[T]() + ":" + fmt.Sprint(id)
	return config.RemoveRedisKey(key)
}

// GetSequence returns the next document sequence number for the business,
// scoped per model type. The counter is seeded from the db's MAX(sequence_no)
// with SETNX, so concurrent processes cannot stomp each other; from then on
// the atomic INCR is the only writer and every caller gets a distinct value.
// Rollbacks may leave gaps but never duplicates; the unique
// (business_id, sequence_no) index on each document table backstops the rest.
func GetSequence[T any](ctx context.Context, businessId string) (int64, error) {
	var model T
	mutex.Lock()
	defer mutex.Unlock()
	cacheKey := businessId + "-" + strings.ToLower(GetTypeName[T]()) + "_seq"
	db := config.GetDB()

	var dbSeq *int64
	if err := db.WithContext(ctx).Model(&model).Select("max(sequence_no)").
		Where("business_id = ?", businessId).
		Scan(&dbSeq).Error; err != nil {
		return 0, err
	}
	var dbMax int64
	if dbSeq != nil {
		dbMax = *dbSeq
	}
	if err := config.SeedRedisCounter(ctx, cacheKey, dbMax); err != nil {
		return 0, err
	}

	var seqNo int64
	for {
		var err error
		seqNo, err = config.GetRedisCounter(ctx, cacheKey)
		if err != nil {
			return 0, err
		}
		if seqNo == 0 {
			// redis unavailable, the committed max is the only source left
			seqNo = dbMax + 1
		}
		// a counter older than the table (restored snapshot) climbs here
		// until it clears the committed rows
		err = ValidateUnique[T](ctx, businessId, "sequence_no", seqNo, 0)
		if err == nil {
			break
		}
		dbMax = seqNo
	}
	return seqNo, nil
}
