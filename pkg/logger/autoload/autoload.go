// Package autoload configures the global logger from LOG_* environment variables on import.
package autoload

import (
	configx "github.com/tanpawarit/Grace-Conversational-Commerce/pkg/config"
	logx "github.com/tanpawarit/Grace-Conversational-Commerce/pkg/logger"
)

func init() {
	logx.Init(*configx.MustNew[logx.Config]("LOG"))
}
