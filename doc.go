// Package nearrec 是附近地点推荐服务。
//
// 一次推荐的流程：
//   - 限流检查、实验分桶、结果缓存
//   - 并发拉取候选、trait 向量、state 向量
//   - rank.Scorer 打分（appeal/trait/state/social/poprec/cost 线性组合）
//   - Pipeline 选择：隐藏过滤 -> 多样性 -> 曝光降权 -> MMR
//   - 探索位注入，旁路写入曝光与性能日志
//
// Pipeline 由 YAML/JSON 配置（见 pipeline/default.yaml），节点类型注册在 config 包。
package nearrec

import "github.com/rushteam/nearrec/pipeline"

// 常用抽象的别名，便于自定义节点直接 import "nearrec"。
type Pipeline = pipeline.Pipeline
type Node = pipeline.Node
type Kind = pipeline.Kind

const (
	KindRecall = pipeline.KindRecall
	KindFilter = pipeline.KindFilter
	KindRank   = pipeline.KindRank
	KindReRank = pipeline.KindReRank
)
