package feast

import (
	"context"

	feastsdk "github.com/feast-dev/feast/sdk/go"
	"github.com/feast-dev/feast/sdk/go/protos/feast/types"

	"github.com/rushteam/nearrec/core"
)

// 默认特征引用与实体列
const (
	DefaultTraitFeature = "user_traits:emb"
	DefaultEntityKey    = "user_id"
)

// TraitSource 通过 Feast 在线特征读取用户 trait 向量。
type TraitSource struct {
	Client    OnlineClient
	Project   string
	Feature   string
	EntityKey string
}

// NewTraitSource 用配置创建 TraitSource，未填写的字段使用默认值。
func NewTraitSource(client OnlineClient, cfg Config) *TraitSource {
	ts := &TraitSource{
		Client:    client,
		Project:   cfg.Project,
		Feature:   cfg.Feature,
		EntityKey: cfg.EntityKey,
	}
	if ts.Feature == "" {
		ts.Feature = DefaultTraitFeature
	}
	if ts.EntityKey == "" {
		ts.EntityKey = DefaultEntityKey
	}
	return ts
}

func (s *TraitSource) TraitVector(ctx context.Context, userID string) ([]float64, error) {
	req := &feastsdk.OnlineFeaturesRequest{
		Features: []string{s.Feature},
		Entities: []feastsdk.Row{{s.EntityKey: feastsdk.StrVal(userID)}},
		Project:  s.Project,
	}
	resp, err := s.Client.GetOnlineFeatures(ctx, req)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleProfile, core.ErrorCodeUnavailable, "feast: get online features failed", err)
	}
	if resp == nil {
		return nil, nil
	}
	rows := resp.Rows()
	if len(rows) == 0 {
		return nil, nil
	}
	return vectorValue(rows[0][s.Feature]), nil
}

// vectorValue 提取 double/float 列表；其它类型或空值视为没有向量。
func vectorValue(v *types.Value) []float64 {
	if v == nil {
		return nil
	}
	if dl := v.GetDoubleListVal(); dl != nil && len(dl.GetVal()) > 0 {
		out := make([]float64, len(dl.GetVal()))
		copy(out, dl.GetVal())
		return out
	}
	if fl := v.GetFloatListVal(); fl != nil && len(fl.GetVal()) > 0 {
		out := make([]float64, len(fl.GetVal()))
		for i, f := range fl.GetVal() {
			out[i] = float64(f)
		}
		return out
	}
	return nil
}

var _ core.TraitSource = (*TraitSource)(nil)
var _ OnlineClient = (*feastsdk.GrpcClient)(nil)
