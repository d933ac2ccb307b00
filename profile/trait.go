// Package profile 提供用户向量：长期 trait 向量读取与短期 state 向量计算。
package profile

import (
	"context"

	"github.com/rushteam/nearrec/core"
	"github.com/rushteam/nearrec/store"
)

// StoreTraitSource 从 Store 读取 trait 向量，key 为 trait:{user}，值为 JSON 数组。
type StoreTraitSource struct {
	Store core.Store
}

var _ core.TraitSource = (*StoreTraitSource)(nil)

func (s *StoreTraitSource) TraitVector(ctx context.Context, userID string) ([]float64, error) {
	var vec []float64
	found, err := store.GetJSON(ctx, s.Store, core.UserKey(core.KeyPrefixTrait, userID), &vec)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleProfile, core.ErrorCodeUnavailable, "fetch trait vector", err)
	}
	if !found || len(vec) == 0 {
		return nil, nil
	}
	return vec, nil
}

// SetTraitVector 写入 trait 向量（离线任务/测试使用）。
func SetTraitVector(ctx context.Context, s core.Store, userID string, vec []float64) error {
	return store.SetJSON(ctx, s, core.UserKey(core.KeyPrefixTrait, userID), vec, 0)
}
