package core

import (
	"time"

	"github.com/rushteam/nearrec/pkg/utils"
)

// Candidate 是召回阶段产出的原始候选，字段只读，打分过程不得修改。
type Candidate struct {
	ID         string    `json:"id"`
	DistanceKm float64   `json:"distance_km"`
	PriceMin   *float64  `json:"price_min,omitempty"`
	PriceMax   *float64  `json:"price_max,omitempty"`
	Difficulty *int      `json:"difficulty,omitempty"`
	CreatedAt  time.Time `json:"created_at"`

	// 社交信号：来自请求用户好友的计数
	FriendCompletes int  `json:"friend_completes"`
	FriendSaves     int  `json:"friend_saves"`
	FriendLikes     int  `json:"friend_likes"`
	CollabHint      bool `json:"collab_hint"`

	// Completes 是全站完成次数（流行度）
	Completes int `json:"completes"`

	// Embedding 为空表示缺失，相似度项记为 0
	Embedding []float64 `json:"embedding,omitempty"`

	// AppealScore 是离线预计算的吸引度 [0,1]，缺失时回退到 trait 相似度
	AppealScore *float64 `json:"appeal_score,omitempty"`

	// BucketID / Theme 用于多样性规则，可为空
	BucketID string `json:"bucket_id,omitempty"`
	Theme    string `json:"theme,omitempty"`
}

// Reasons 是打分明细，每一项对应一个打分因子。
type Reasons struct {
	Appeal float64 `json:"appeal"`
	Trait  float64 `json:"trait"`
	State  float64 `json:"state"`
	Social float64 `json:"social"`
	Cost   float64 `json:"cost"`
	PopRec float64 `json:"poprec"`
}

// Vector 按固定顺序导出打分因子，供 bandit 特征使用。
func (r Reasons) Vector() []float64 {
	return []float64{r.Appeal, r.Trait, r.State, r.Social, r.Cost, r.PopRec}
}

// Item 是推荐链路中的统一承载结构：分数、打分明细、向量、元信息、标签。
// Labels 用于解释与策略驱动；Score 用于排序决策。
// Embedding 只在链路内部用于相似度计算，对外输出前会被剥离。
type Item struct {
	ID        string
	Score     float64
	Reasons   Reasons
	Embedding []float64

	// Candidate 指向原始候选（只读）
	Candidate *Candidate

	Meta   map[string]any
	Labels map[string]utils.Label
}

func NewItem(id string) *Item {
	return &Item{
		ID:     id,
		Meta:   make(map[string]any),
		Labels: make(map[string]utils.Label),
	}
}

// PutLabel 写入 Label；若已存在同名 key，则按默认 Merge 规则累积。
func (it *Item) PutLabel(key string, lbl utils.Label) {
	if it.Labels == nil {
		it.Labels = make(map[string]utils.Label)
	}
	if old, ok := it.Labels[key]; ok {
		it.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	it.Labels[key] = lbl
}

// Clone 浅拷贝 Item，Meta/Labels 复制一层，Embedding 与 Candidate 共享（只读）。
func (it *Item) Clone() *Item {
	out := *it
	out.Meta = make(map[string]any, len(it.Meta))
	for k, v := range it.Meta {
		out.Meta[k] = v
	}
	out.Labels = make(map[string]utils.Label, len(it.Labels))
	for k, v := range it.Labels {
		out.Labels[k] = v
	}
	return &out
}

// BucketID 返回候选的来源 bucket，没有则为空。
func (it *Item) BucketID() string {
	if it.Candidate != nil && it.Candidate.BucketID != "" {
		return it.Candidate.BucketID
	}
	if v, ok := it.Meta["bucket_id"].(string); ok {
		return v
	}
	return ""
}

// ItemView 是对外输出的结构，不含 embedding。
type ItemView struct {
	ID      string  `json:"id"`
	Score   float64 `json:"score"`
	Reasons Reasons `json:"reasons"`
}

func (it *Item) View() ItemView {
	return ItemView{ID: it.ID, Score: it.Score, Reasons: it.Reasons}
}

// Views 批量转换，nil 项被跳过。
func Views(items []*Item) []ItemView {
	out := make([]ItemView, 0, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}
		out = append(out, it.View())
	}
	return out
}
