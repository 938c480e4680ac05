package main

import (
	"context"
	"flag"
	"log"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"poscheck/internal/admin"
	"poscheck/internal/ops"
	"poscheck/internal/orchestrator"
)

type emptyLogger struct{}

func (emptyLogger) Infof(string, ...interface{})  {}
func (emptyLogger) Debugf(string, ...interface{}) {}
func (emptyLogger) Errorf(string, ...interface{}) {}

func main() {
	configPath := flag.String("config", "", "Path to config file (properties, yaml or json)")
	autostart := flag.Bool("autostart", false, "Start the pipelines right after initialization")
	sodPath := flag.String("sod", "", "Start of day file loaded before autostart")
	flag.Parse()

	cfg, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if cfg.Profiling.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "poscheck",
			ServerAddress:   cfg.Profiling.ServerAddress,
			Logger:          emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	ctx := context.Background()
	svc, err := orchestrator.New(ctx, cfg, orchestrator.Options{})
	if err != nil {
		log.Fatalf("service init failed: %v", err)
	}

	if *sodPath != "" {
		if err := svc.Upload(ctx, *sodPath); err != nil {
			log.Fatalf("start of day upload failed: %v", err)
		}
	}
	if *autostart {
		if err := svc.Start(ctx); err != nil {
			log.Fatalf("service start failed: %v", err)
		}
	}

	server := admin.NewServer(cfg.AdminAddr, svc)
	go func() {
		if err := server.Run(); err != nil {
			log.Fatalf("admin server failed: %v", err)
		}
	}()

	<-sys.Shutdown()
	logs.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logs.Errorf("admin server shutdown, err: %+v", err)
	}
	if err := svc.Close(shutdownCtx); err != nil {
		logs.Errorf("service close, err: %+v", err)
	}
}
