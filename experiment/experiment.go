// Package experiment 读取用户的实验分桶，并把实验覆盖项合并为强类型参数。
//
// 分桶本身由外部实验平台写入存储，这里只负责读取：
//
//	experiment:{name}:{user} -> {"id":"exp-7","variant":"treatment","overrides":{"social_weight":0.3}}
//
// 没有分桶记录的用户落到对照组，使用 core.DefaultExperimentParams。
package experiment

import (
	"context"

	"github.com/rushteam/nearrec/core"
	"github.com/rushteam/nearrec/store"
)

// DefaultName 是线上唯一的实验名。
const DefaultName = "social_weight_test"

// Assignment 是存储中的分桶记录。
type Assignment struct {
	ID        string                    `json:"id"`
	Variant   string                    `json:"variant"`
	Overrides *core.ExperimentOverrides `json:"overrides,omitempty"`
}

// StoreService 从 core.Store 读取分桶，实现 core.ExperimentService。
type StoreService struct {
	Store    core.Store
	Defaults core.ExperimentParams
}

// NewStoreService 使用默认参数创建 StoreService。
func NewStoreService(s core.Store) *StoreService {
	return &StoreService{Store: s, Defaults: core.DefaultExperimentParams()}
}

func (s *StoreService) GetExperiment(ctx context.Context, userID, name string) (*core.Experiment, error) {
	if name == "" {
		name = DefaultName
	}
	var a Assignment
	found, err := store.GetJSON(ctx, s.Store, core.ExperimentKey(name, userID), &a)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleExperiment, core.ErrorCodeUnavailable, "experiment: load assignment failed", err)
	}
	if !found {
		return &core.Experiment{Variant: core.ControlVariant, Params: s.Defaults}, nil
	}
	return Resolve(a, s.Defaults), nil
}

// Assign 写入分桶记录（测试与运维工具使用）。
func (s *StoreService) Assign(ctx context.Context, userID, name string, a Assignment) error {
	if name == "" {
		name = DefaultName
	}
	return store.SetJSON(ctx, s.Store, core.ExperimentKey(name, userID), a, 0)
}

// Resolve 把分桶记录转换为实验参数，空变体视为对照组。
func Resolve(a Assignment, defaults core.ExperimentParams) *core.Experiment {
	variant := a.Variant
	if variant == "" {
		variant = core.ControlVariant
	}
	return &core.Experiment{
		ID:      a.ID,
		Variant: variant,
		Params:  defaults.Merge(a.Overrides),
	}
}

// Static 对所有用户返回同一个实验，用于本地开发和测试。
type Static struct {
	Experiment *core.Experiment
}

func (s Static) GetExperiment(context.Context, string, string) (*core.Experiment, error) {
	if s.Experiment == nil {
		return core.ControlExperiment(), nil
	}
	return s.Experiment, nil
}

var _ core.ExperimentService = (*StoreService)(nil)
var _ core.ExperimentService = Static{}
