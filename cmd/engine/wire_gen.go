// Code generated by Wire. DO NOT EDIT.

//go:generate go run -mod=mod github.com/google/wire/cmd/wire
//go:build !wireinject
// +build !wireinject

package main

import (
	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"metering-service/internal/biz"
	"metering-service/internal/conf"
	"metering-service/internal/data"
	"metering-service/internal/server"
)

import (
	_ "go.uber.org/automaxprocs"
)

// Injectors from wire.go:

// wireApp init kratos application.
func wireApp(bootstrap *conf.Bootstrap, logger log.Logger) (*kratos.App, func(), error) {
	db, err := data.NewDB(bootstrap)
	if err != nil {
		return nil, nil, err
	}
	client, err := data.NewRedis(bootstrap)
	if err != nil {
		return nil, nil, err
	}
	dataData, cleanup, err := data.NewData(bootstrap, logger, db, client)
	if err != nil {
		return nil, nil, err
	}
	actionRepo := data.NewActionRepo(dataData, logger)
	lockRepo := data.NewLockRepo(dataData, logger)
	engineRepo := data.NewEngineRepo(dataData, logger)
	meteringConfig := biz.NewMeteringConfig(bootstrap)
	lockUseCase := biz.NewLockUseCase(lockRepo, engineRepo, actionRepo, meteringConfig, logger)
	userRepo := data.NewUserRepo(dataData, logger)
	resourceRepo := data.NewResourceRepo(dataData, logger)
	consumptionRepo := data.NewConsumptionRepo(dataData, logger)
	rechargeRepo := data.NewRechargeRepo(dataData, logger)
	eventRepo := data.NewEventRepo(dataData, logger)
	identityRepo := data.NewIdentityRepo(bootstrap)
	notifier, cleanup2, err := data.NewNotifier(bootstrap, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	userUseCase := biz.NewUserUseCase(userRepo, resourceRepo, consumptionRepo, rechargeRepo, eventRepo, identityRepo, notifier, meteringConfig, logger)
	jobRepo := data.NewJobRepo(dataData, logger)
	jobUseCase := biz.NewJobUseCase(jobRepo, meteringConfig, logger)
	ruleRegistry, err := biz.NewRuleRegistry(bootstrap)
	if err != nil {
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	actionUseCase := biz.NewActionUseCase(actionRepo, lockUseCase, userUseCase, jobUseCase, resourceRepo, consumptionRepo, ruleRegistry, meteringConfig, logger)
	engineServer := server.NewEngineServer(bootstrap, actionUseCase, engineRepo, logger)
	httpServer := server.NewMetricsServer(bootstrap)
	app := newApp(logger, engineServer, httpServer)
	return app, func() {
		cleanup2()
		cleanup()
	}, nil
}
