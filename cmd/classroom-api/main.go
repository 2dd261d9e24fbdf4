package main

import (
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/pbit-labs/pbit-classroom-api/api/swagger"
	"github.com/pbit-labs/pbit-classroom-api/internal/handler"
	"github.com/pbit-labs/pbit-classroom-api/internal/middleware"
	"github.com/pbit-labs/pbit-classroom-api/internal/models"
	"github.com/pbit-labs/pbit-classroom-api/internal/repository"
	"github.com/pbit-labs/pbit-classroom-api/internal/service"
	"github.com/pbit-labs/pbit-classroom-api/pkg/cache"
	"github.com/pbit-labs/pbit-classroom-api/pkg/config"
	"github.com/pbit-labs/pbit-classroom-api/pkg/database"
	"github.com/pbit-labs/pbit-classroom-api/pkg/export"
	"github.com/pbit-labs/pbit-classroom-api/pkg/logger"
	corsmiddleware "github.com/pbit-labs/pbit-classroom-api/pkg/middleware/cors"
	reqidmiddleware "github.com/pbit-labs/pbit-classroom-api/pkg/middleware/requestid"
)

// @title P-BIT Classroom API
// @version 0.1.0
// @description Classroom backend for P-BIT BLE sensor devices
// @BasePath /
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, aggregate caching disabled", "error", err)
			redisClient = nil
		}
	}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	classRepo := repository.NewClassRepository(db)
	deviceRepo := repository.NewDeviceRepository(db)
	sensorRepo := repository.NewSensorRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(userRepo, classRepo, validate, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
		Issuer:     cfg.JWT.Issuer,
	})
	classSvc := service.NewClassService(classRepo, validate, logr, service.ClassConfig{
		ReentryAllowed:     cfg.Classes.ReentryAllowed,
		PassphraseAttempts: cfg.Classes.PassphraseAttempts,
	})
	deviceSvc := service.NewDeviceService(deviceRepo, classSvc, classRepo, groupRepo, validate, logr)
	sensorSvc := service.NewSensorService(sensorRepo, deviceRepo, classSvc, cacheRepo, metricsSvc, validate, logr, service.SensorConfig{
		MaxBatchSize:      cfg.Ingest.MaxBatchSize,
		AggregateCacheTTL: cfg.Ingest.AggregateCacheTTL,
	})
	groupSvc := service.NewGroupService(groupRepo, classSvc, classRepo, validate, logr)
	exportSvc := service.NewExportService(classSvc, sensorSvc, export.NewCSVExporter(), export.NewPDFExporter(), logr)

	authHandler := handler.NewAuthHandler(authSvc)
	classHandler := handler.NewClassHandler(classSvc, exportSvc)
	deviceHandler := handler.NewDeviceHandler(deviceSvc, sensorSvc)
	sensorHandler := handler.NewSensorHandler(sensorSvc, authSvc, exportSvc)
	groupHandler := handler.NewGroupHandler(groupSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	if cfg.Metrics.Enabled {
		r.Use(middleware.Metrics(metricsSvc))
	}

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	if cfg.Metrics.Enabled {
		r.GET("/metrics", metricsHandler.Prometheus)
	}
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	r.POST("/user/register", authHandler.Register)
	r.POST("/user/login", authHandler.Login)
	r.POST("/class/join-anonymous", classHandler.JoinAnonymous)
	r.GET("/device/metrics", deviceHandler.Metrics)
	r.POST("/classroom-device/record-ble-batch", middleware.OptionalJWT(authSvc), sensorHandler.RecordBLEBatch)
	r.GET("/classroom-device/:device_id/data/anonymous", sensorHandler.DataAnonymous)
	r.GET("/classroom-device/:device_id/data/latest/anonymous", sensorHandler.LatestAnonymous)

	authorized := r.Group("", middleware.JWT(authSvc))
	{
		authorized.GET("/auth/me", authHandler.Me)

		teacher := authorized.Group("", middleware.RequireRoles(models.RoleTeacher))
		{
			teacher.POST("/class/create", classHandler.Create)
			teacher.GET("/class/owned", classHandler.Owned)
		}

		authorized.POST("/class/join", classHandler.Join)
		authorized.GET("/class/enrolled", classHandler.Enrolled)
		authorized.GET("/class/:id/members", classHandler.Members)
		authorized.GET("/class/:id/members/export", classHandler.ExportMembers)
		authorized.POST("/class/:id/reset-student-pin/:student_id", classHandler.ResetStudentPIN)
		authorized.DELETE("/class/:id/remove-student/:student_id", classHandler.RemoveStudent)
		authorized.DELETE("/class/:id/leave", classHandler.Leave)
		authorized.DELETE("/class/:id", classHandler.Delete)

		authorized.POST("/device/register", deviceHandler.Register)
		authorized.GET("/device/bookmarks", deviceHandler.Bookmarks)
		authorized.DELETE("/device/bookmarks/:id", deviceHandler.RemoveBookmark)
		authorized.DELETE("/device/:id", deviceHandler.Delete)

		authorized.POST("/classroom-device/classroom/:id/assign", deviceHandler.Assign)
		authorized.GET("/classroom-device/classroom/:id/devices", deviceHandler.ClassroomDevices)
		authorized.PUT("/classroom-device/:device_id/assignment", deviceHandler.UpdateAssignment)
		authorized.DELETE("/classroom-device/:device_id/assignment", deviceHandler.Unassign)
		authorized.GET("/classroom-device/:device_id/data", sensorHandler.Data)
		authorized.GET("/classroom-device/:device_id/data/latest", sensorHandler.Latest)
		authorized.GET("/classroom-device/:device_id/data/export", sensorHandler.ExportData)

		authorized.POST("/classroom/:id/groups", groupHandler.Create)
		authorized.GET("/classroom/:id/groups", groupHandler.List)
		authorized.POST("/classroom/:id/groups/random-distribute", groupHandler.RandomDistribute)
		authorized.GET("/classroom/:id/groups/:group_id", groupHandler.Members)
		authorized.PUT("/classroom/:id/groups/:group_id", groupHandler.Update)
		authorized.DELETE("/classroom/:id/groups/:group_id", groupHandler.Delete)
		authorized.POST("/classroom/:id/groups/:group_id/students", groupHandler.AddStudent)
		authorized.DELETE("/classroom/:id/groups/:group_id/students/:student_id", groupHandler.RemoveStudent)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
