package recall

import (
	"context"
	"math"
	"sort"

	"github.com/rushteam/nearrec/core"
	"github.com/rushteam/nearrec/store"
)

const earthRadiusKm = 6371.0

// Place 是带坐标的候选，StaticSource 据此计算距离。
type Place struct {
	core.Candidate
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// StaticSource 是内存/Store 中的候选目录，按半径过滤并按距离升序返回。
// - Store 与 Key 非空时，每次调用从 Store 读取 JSON 编码的 []Place
// - 否则使用 Places
//
// 用于开发环境与测试，生产环境使用 HTTPSource。
type StaticSource struct {
	Store  core.Store
	Key    string
	Places []Place
}

func (s *StaticSource) Name() string { return "recall.static" }

var _ core.CandidateSource = (*StaticSource)(nil)

func (s *StaticSource) FetchCandidates(ctx context.Context, q core.CandidateQuery) ([]core.Candidate, error) {
	places := s.Places
	if s.Store != nil && s.Key != "" {
		var loaded []Place
		found, err := store.GetJSON(ctx, s.Store, s.Key, &loaded)
		if err != nil {
			return nil, wrapFetchError(s.Name(), err)
		}
		if found {
			places = loaded
		}
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultFetchLimit
	}

	out := make([]core.Candidate, 0, len(places))
	for _, p := range places {
		d := HaversineKm(q.Latitude, q.Longitude, p.Latitude, p.Longitude)
		if q.RadiusKm > 0 && d > q.RadiusKm {
			continue
		}
		c := p.Candidate
		c.DistanceKm = d
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// HaversineKm 返回两点间的球面距离（公里）。
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}
