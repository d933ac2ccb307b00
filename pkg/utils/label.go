// Package utils 定义 item 与请求上的解释标签。
package utils

import "strconv"

// Label 附着在 item 或请求上，用于 explain 输出与表达式过滤（label.xxx）。
// Source 记录写入方的节点名，例如 rank.utility、rerank.explore。
type Label struct {
	Value  string `json:"value"`
	Source string `json:"source"`
}

// MergeLabel 合并同名标签：值以 '|' 追加，来源以 ',' 追加，空值不参与合并。
func MergeLabel(existing, incoming Label) Label {
	switch {
	case existing.Value == "":
		return incoming
	case incoming.Value == "":
		return existing
	}
	return Label{
		Value:  existing.Value + "|" + incoming.Value,
		Source: joinSource(existing.Source, incoming.Source),
	}
}

func joinSource(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + "," + b
}

// FloatLabel 保留 4 位小数，用于打分明细。
func FloatLabel(v float64, source string) Label {
	return Label{Value: strconv.FormatFloat(v, 'f', 4, 64), Source: source}
}

func BoolLabel(v bool, source string) Label {
	return Label{Value: strconv.FormatBool(v), Source: source}
}
