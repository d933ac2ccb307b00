package service

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/rushteam/nearrec/cache"
	"github.com/rushteam/nearrec/core"
)

// Request 是一次推荐请求。坐标用指针区分“未传”与 0。
type Request struct {
	UserID    string   `json:"user_id" validate:"required"`
	Latitude  *float64 `json:"lat" validate:"required,latitude"`
	Longitude *float64 `json:"lon" validate:"required,longitude"`
	RadiusKm  float64  `json:"radius_km,omitempty" validate:"gte=0,lte=500"`
	K         int      `json:"k,omitempty" validate:"gte=0"`

	// ClientIP 由 HTTP 层填写，参与限流 key
	ClientIP string `json:"-"`
}

// Response 是推荐结果，items 中不含 embedding。
type Response struct {
	Items      []core.ItemView     `json:"items"`
	Cached     bool                `json:"cached"`
	Remaining  int                 `json:"remaining"`
	Experiment cache.ExperimentRef `json:"experiment"`
}

var validate = validator.New()

// normalize 校验请求并填充默认值，失败返回 INVALID_INPUT。
func normalize(req *Request, serving core.ServingConfig) error {
	req.UserID = strings.TrimSpace(req.UserID)
	if err := validate.Struct(req); err != nil {
		return core.WrapDomainError(core.ModuleService, core.ErrorCodeInvalidInput, invalidMessage(err), err)
	}
	if req.RadiusKm == 0 {
		req.RadiusKm = serving.DefaultRadiusKm()
	}
	if req.K == 0 {
		req.K = serving.DefaultK()
	}
	if m := serving.MaxK(); m > 0 && req.K > m {
		req.K = m
	}
	return nil
}

func invalidMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fieldName(fe.Field())+" ("+fe.Tag()+")")
	}
	return "invalid request: " + strings.Join(fields, ", ")
}

func fieldName(f string) string {
	switch f {
	case "UserID":
		return "user_id"
	case "Latitude":
		return "lat"
	case "Longitude":
		return "lon"
	case "RadiusKm":
		return "radius_km"
	case "K":
		return "k"
	default:
		return f
	}
}
