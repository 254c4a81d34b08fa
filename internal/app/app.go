package app

import (
	"go.uber.org/fx"

	"github.com/orderdeck/orderdeck/internal/cache"
	"github.com/orderdeck/orderdeck/internal/channel"
	"github.com/orderdeck/orderdeck/internal/config"
	"github.com/orderdeck/orderdeck/internal/database"
	"github.com/orderdeck/orderdeck/internal/logger"
	"github.com/orderdeck/orderdeck/internal/messaging"
	"github.com/orderdeck/orderdeck/internal/observability"
	repositoryorder "github.com/orderdeck/orderdeck/internal/repository/order"
	grpcserver "github.com/orderdeck/orderdeck/internal/server/grpc"
	httpserver "github.com/orderdeck/orderdeck/internal/server/http"
	serviceorder "github.com/orderdeck/orderdeck/internal/service/order"
	transporthttp "github.com/orderdeck/orderdeck/internal/transport/http"
	"github.com/orderdeck/orderdeck/internal/worker"
	workerorder "github.com/orderdeck/orderdeck/internal/worker/order"
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	config.Module,
	cache.Module,
	channel.Module,
	database.Module,
	logger.Module,
	messaging.Module,
	observability.Module,
	repositoryorder.Module,
	serviceorder.Module,
)

// HTTP wires the HTTP and gRPC transports on top of the core modules.
var HTTP = fx.Options(
	Core,
	httpserver.Module,
	grpcserver.Module,
	transporthttp.Module,
)

// Worker exposes background channel reconciliation.
var Worker = fx.Options(
	Core,
	worker.Module,
	workerorder.Module,
)

// Module is the default application wiring (HTTP only).
var Module = HTTP
