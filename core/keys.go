package core

import (
	"fmt"
	"time"
)

// 存储 key 布局。写入方（impression、feedback）与读取方（filter、profile）共用，避免拼写不一致。
const (
	KeyPrefixExposure    = "exposure"
	KeyPrefixHidden      = "hidden"
	KeyPrefixDiversity   = "diversity"
	KeyPrefixTrait       = "trait"
	KeyPrefixEvents      = "events"
	KeyPrefixCompletions = "completions"
	KeyPrefixItemEmb     = "item:emb"
	KeyPrefixImpressions = "impressions"
	KeyPrefixBandit      = "bandit"
	KeyPrefixExperiment  = "experiment"
	KeyPrefixRateLimit   = "ratelimit"
	KeyPrefixRecs        = "recs"
	KeyPrefixSeen        = "seen"
)

// UserKey 返回 {prefix}:{userID}。
func UserKey(prefix, userID string) string {
	return prefix + ":" + userID
}

// ItemEmbeddingKey 返回物品向量的 key。
func ItemEmbeddingKey(itemID string) string {
	return KeyPrefixItemEmb + ":" + itemID
}

// ExperimentKey 返回 experiment:{name}:{userID}。
func ExperimentKey(name, userID string) string {
	return fmt.Sprintf("%s:%s:%s", KeyPrefixExperiment, name, userID)
}

// ExposureBucket 是曝光计数的分桶粒度，按 UTC 自然日切分。
const ExposureBucket = 24 * time.Hour

// ExposureKey 返回 at 所在日的曝光计数 key：exposure:{user}:{yyyymmdd}。
func ExposureKey(userID string, at time.Time) string {
	return UserKey(KeyPrefixExposure, userID) + ":" + at.UTC().Format("20060102")
}

// ExposureKeys 返回截至 now、覆盖 window 的所有日桶 key，最新的在前。
func ExposureKeys(userID string, now time.Time, window time.Duration) []string {
	days := int((window + ExposureBucket - 1) / ExposureBucket)
	if days < 1 {
		days = 1
	}
	keys := make([]string, days)
	for i := range keys {
		keys[i] = ExposureKey(userID, now.Add(-time.Duration(i)*ExposureBucket))
	}
	return keys
}
