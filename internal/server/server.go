package server

import "github.com/google/wire"

// EngineProviderSet is engine server providers.
var EngineProviderSet = wire.NewSet(NewEngineServer, NewMetricsServer)

// SchedulerProviderSet is scheduler server providers.
var SchedulerProviderSet = wire.NewSet(NewSchedulerServer, NewMetricsServer)
