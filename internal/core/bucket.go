package core

import (
	"crypto/sha256"
	"encoding/binary"
)

// RolloutKey is the bucketing key for a user and flag.
func RolloutKey(userID string, flagName string) string {
	return userID + ":" + flagName
}

// InBucket reports whether key falls inside the first percentage buckets of
// 100. The assignment is stable for a key and monotone in percentage.
func InBucket(key string, percentage int) bool {
	if percentage <= 0 {
		return false
	}
	if percentage >= 100 {
		return true
	}
	return Bucket(key) < percentage
}

// Bucket maps key to [0, 100) using the first four digest bytes read as a
// little-endian int32.
func Bucket(key string) int {
	sum := sha256.Sum256([]byte(key))
	hash := int64(int32(binary.LittleEndian.Uint32(sum[:4])))
	if hash < 0 {
		hash = -hash
	}
	return int(hash % 100)
}
