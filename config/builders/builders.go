// Package builders 把内置 Node 注册到 config 注册表。
//
//	import _ "github.com/rushteam/nearrec/config/builders"
//
// 注册的 builder 不绑定运行时依赖（曝光/规则/隐藏存储为空时对应节点直接放行），
// 主要用于配置校验与离线调试；线上请使用 config.NewFactory(deps)。
package builders

import (
	"github.com/rushteam/nearrec/config"
)

func init() {
	for typeName, builder := range config.Builders(config.Deps{}) {
		config.Register(typeName, builder)
	}
}
