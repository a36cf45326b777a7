//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"metering-service/internal/biz"
	"metering-service/internal/conf"
	"metering-service/internal/data"
	"metering-service/internal/server"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*conf.Bootstrap, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(server.EngineProviderSet, data.ProviderSet, biz.ProviderSet, newApp))
}
