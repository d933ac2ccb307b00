// Package feedback 处理用户行为反馈：写入事件日志、更新 bandit 臂统计、记录隐藏物品。
package feedback

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/rushteam/nearrec/core"
	"github.com/rushteam/nearrec/metrics"
)

// Rewards 是各事件类型对应的奖励值。
var Rewards = map[string]float64{
	core.EventImpression: 0,
	core.EventView:       0.1,
	core.EventLike:       0.5,
	core.EventSave:       0.7,
	core.EventStart:      0.8,
	core.EventComplete:   1.0,
	core.EventHide:       -0.3,
	core.EventSkip:       -0.1,
}

// rewardScale 奖励以千分之一为单位累加，保证 HIncrBy 原子性
const rewardScale = 1000

// Event 是一次反馈。
type Event struct {
	UserID    string    `json:"user_id" validate:"required"`
	ItemID    string    `json:"item_id" validate:"required"`
	EventType string    `json:"event_type" validate:"required,event_type"`
	CreatedAt time.Time `json:"created_at"`
}

var validate = newValidator()

// newValidator 注册 event_type 规则，字段名按 json tag 输出。
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	_ = v.RegisterValidation("event_type", func(fl validator.FieldLevel) bool {
		_, ok := Rewards[fl.Field().String()]
		return ok
	})
	return v
}

func invalidMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "feedback: invalid event"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field()+" ("+fe.Tag()+")")
	}
	return "feedback: invalid event: " + strings.Join(fields, ", ")
}

// Reward 返回事件类型的奖励；未知类型返回 false。
func Reward(eventType string) (float64, bool) {
	r, ok := Rewards[eventType]
	return r, ok
}

// ArmStats 是 (user, item) 臂的累计统计。
type ArmStats struct {
	Pulls     int64
	RewardSum float64
}

// Mean 返回平均奖励，没有拉动时为 0。
func (a ArmStats) Mean() float64 {
	if a.Pulls == 0 {
		return 0
	}
	return a.RewardSum / float64(a.Pulls)
}

// Recorder 写入反馈。
//
// key 布局：
//   - bandit:{user}  hash，字段 {item}:pulls 与 {item}:reward（千分之一）
//   - hidden:{user}  hash，字段为物品 ID，值为隐藏时间
type Recorder struct {
	Events core.EventWriter
	Store  core.KeyValueStore
	logger zerolog.Logger
}

func NewRecorder(events core.EventWriter, s core.KeyValueStore, logger zerolog.Logger) *Recorder {
	return &Recorder{
		Events: events,
		Store:  s,
		logger: logger.With().Str("component", "feedback").Logger(),
	}
}

// Record 写入一条反馈，返回该事件的奖励值。
func (r *Recorder) Record(ctx context.Context, ev Event) (float64, error) {
	if err := validate.Struct(ev); err != nil {
		return 0, core.WrapDomainError(core.ModuleFeedback, core.ErrorCodeInvalidInput, invalidMessage(err), err)
	}
	reward, _ := Reward(ev.EventType)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	if err := r.Events.AppendEvent(ctx, core.Event{
		UserID:    ev.UserID,
		ItemID:    ev.ItemID,
		Type:      ev.EventType,
		CreatedAt: ev.CreatedAt,
	}); err != nil {
		return 0, core.WrapDomainError(core.ModuleFeedback, core.ErrorCodeUnavailable, "feedback: append event failed", err)
	}

	banditKey := core.UserKey(core.KeyPrefixBandit, ev.UserID)
	if _, err := r.Store.HIncrBy(ctx, banditKey, ev.ItemID+":pulls", 1); err != nil {
		return 0, core.WrapDomainError(core.ModuleFeedback, core.ErrorCodeUnavailable, "feedback: update arm failed", err)
	}
	if delta := int64(math.Round(reward * rewardScale)); delta != 0 {
		if _, err := r.Store.HIncrBy(ctx, banditKey, ev.ItemID+":reward", delta); err != nil {
			return 0, core.WrapDomainError(core.ModuleFeedback, core.ErrorCodeUnavailable, "feedback: update arm failed", err)
		}
	}

	if ev.EventType == core.EventHide {
		ts := []byte(strconv.FormatInt(ev.CreatedAt.Unix(), 10))
		if err := r.Store.HSet(ctx, core.UserKey(core.KeyPrefixHidden, ev.UserID), ev.ItemID, ts); err != nil {
			return 0, core.WrapDomainError(core.ModuleFeedback, core.ErrorCodeUnavailable, "feedback: record hide failed", err)
		}
	}

	metrics.FeedbackEvents.WithLabelValues(ev.EventType).Inc()
	r.logger.Debug().
		Str("user_id", ev.UserID).
		Str("item_id", ev.ItemID).
		Str("event_type", ev.EventType).
		Float64("reward", reward).
		Msg("feedback recorded")
	return reward, nil
}

// Arm 读取 (user, item) 臂的统计。
func (r *Recorder) Arm(ctx context.Context, userID, itemID string) (ArmStats, error) {
	key := core.UserKey(core.KeyPrefixBandit, userID)
	pulls, err := r.hashInt(ctx, key, itemID+":pulls")
	if err != nil {
		return ArmStats{}, err
	}
	reward, err := r.hashInt(ctx, key, itemID+":reward")
	if err != nil {
		return ArmStats{}, err
	}
	return ArmStats{Pulls: pulls, RewardSum: float64(reward) / rewardScale}, nil
}

func (r *Recorder) hashInt(ctx context.Context, key, field string) (int64, error) {
	raw, err := r.Store.HGet(ctx, key, field)
	if core.IsStoreNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, core.WrapDomainError(core.ModuleFeedback, core.ErrorCodeUnavailable, "feedback: read arm failed", err)
	}
	return strconv.ParseInt(string(raw), 10, 64)
}
