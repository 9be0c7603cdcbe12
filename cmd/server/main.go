package main

import (
	"log"
	"net/http"
	"time"

	"quotaserver/internal/api"
	"quotaserver/internal/config"
	"quotaserver/internal/kv"
	"quotaserver/internal/service"
	"quotaserver/internal/store"
	"quotaserver/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	var db kv.Store
	switch cfg.StoreDriver {
	case "redis":
		db = kv.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case "sqlite":
		db, err = kv.OpenSQLite(cfg.DBPath, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
	case "memory":
		db = kv.NewMemory()
	}
	defer db.Close()

	st := store.New(db)
	svc := service.New(cfg, st)
	r := api.NewRouter(cfg, svc)

	hsrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadTimeout:       time.Duration(cfg.HTTPReadTimeoutSec) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.HTTPReadHeaderTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTPWriteTimeoutSec) * time.Second,
		IdleTimeout:       time.Duration(cfg.HTTPIdleTimeoutSec) * time.Second,
	}

	info := version.Current()
	log.Printf("starting version=%s commit=%s driver=%s addr=%s", info.Version, info.Commit, cfg.StoreDriver, cfg.ListenAddr)
	if err := hsrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server: %v", err)
	}
}
