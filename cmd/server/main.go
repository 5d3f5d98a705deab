package main

import (
	"log"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "integration-service/docs"
	"integration-service/internal/config"
	"integration-service/internal/database"
	"integration-service/internal/handlers"
	"integration-service/internal/scheduler"
	"integration-service/internal/store"
	"integration-service/internal/syncengine"
)

// @title Integration Service API
// @version 1.0
// @description External data integration and field-mapping engine: registers third-party HTTP data sources, syncs their records, maps arbitrary JSON into typed target fields, and serves mapped records to dashboard widgets.
// @BasePath /api/v1
func main() {
	cfg := config.Load()
	database.ConnectDatabase(cfg)

	records := store.NewRecordStore(database.GetDB())
	orchestrator := syncengine.NewOrchestrator(database.GetDB(), records, syncengine.Options{
		FetchTimeout:     cfg.FetchTimeout,
		RunTimeBudget:    cfg.RunTimeBudget,
		LeaseTTL:         cfg.LeaseTTL,
		MaxFetchAttempts: cfg.MaxFetchAttempts,
	})
	handlers.Init(orchestrator, records, cfg.ConnTestTimeout)

	if cfg.SchedulerEnabled {
		sched := scheduler.New(database.GetDB(), orchestrator)
		sched.Start()
		defer sched.Stop()
	}

	router := gin.Default()
	v1 := router.Group("/api/v1")
	{
		dataSourceRoutes := v1.Group("/datasources")
		{
			dataSourceRoutes.POST("/", handlers.CreateDataSource)
			dataSourceRoutes.GET("/", handlers.ListDataSources)
			dataSourceRoutes.POST("/test-connection", handlers.TestConnection)
			dataSourceRoutes.GET("/:id", handlers.GetDataSource)
			dataSourceRoutes.PUT("/:id", handlers.UpdateDataSource)
			dataSourceRoutes.DELETE("/:id", handlers.DeleteDataSource)
			dataSourceRoutes.POST("/:id/test-connection", handlers.TestDataSourceConnection)

			dataSourceRoutes.POST("/:id/mappings", handlers.CreateFieldMapping)
			dataSourceRoutes.GET("/:id/mappings", handlers.ListFieldMappings)

			dataSourceRoutes.POST("/:id/sync", handlers.StartSync)

			dataSourceRoutes.GET("/:id/records", handlers.ListRecords)
			dataSourceRoutes.GET("/:id/records/sample", handlers.SampleRecord)
		}

		mappingRoutes := v1.Group("/mappings")
		{
			mappingRoutes.PUT("/:mapping_id", handlers.UpdateFieldMapping)
			mappingRoutes.DELETE("/:mapping_id", handlers.DeleteFieldMapping)
		}

		recordRoutes := v1.Group("/records")
		{
			recordRoutes.DELETE("/:record_id", handlers.DeleteRecord)
		}

		widgetRoutes := v1.Group("/widgets")
		{
			widgetRoutes.POST("/", handlers.CreateWidget)
			widgetRoutes.GET("/", handlers.ListWidgets)
			widgetRoutes.GET("/:id", handlers.GetWidget)
			widgetRoutes.PUT("/:id", handlers.UpdateWidget)
			widgetRoutes.DELETE("/:id", handlers.DeleteWidget)
			widgetRoutes.GET("/:id/data", handlers.GetWidgetData)
		}
	}

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	log.Printf("Starting integration service on port %s", cfg.ServerPort)
	if err := router.Run(":" + cfg.ServerPort); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
