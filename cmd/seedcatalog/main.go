// Package main loads a product catalog JSON file into a register's local
// cache, for provisioning a register before its first backend sync.
package main

import (
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/mwren/tillpoint/internal/catalog"
	"github.com/mwren/tillpoint/internal/db"
	"github.com/mwren/tillpoint/internal/logging"
	"github.com/mwren/tillpoint/internal/models"
)

func main() {
	var (
		dataDir  = flag.String("data", envOr("TILLPOINT_DATA_DIR", "./data"), "register data directory")
		tenantID = flag.String("tenant", os.Getenv("TILLPOINT_TENANT_ID"), "tenant id the catalog belongs to")
		file     = flag.String("file", "", "catalog JSON file (array of products)")
	)
	flag.Parse()

	logging.Init(os.Stdout, envOr("TILLPOINT_LOG_LEVEL", "info"), "text")

	if *tenantID == "" {
		logging.Error("tenant id is required (-tenant or TILLPOINT_TENANT_ID)", nil, nil)
		os.Exit(1)
	}
	if *file == "" {
		logging.Error("catalog file is required (-file)", nil, nil)
		os.Exit(1)
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		logging.Error("failed to read catalog file", err, nil)
		os.Exit(1)
	}

	var products []models.CachedProduct
	if err := json.Unmarshal(raw, &products); err != nil {
		// Also accept the backend fetch shape.
		var wrapped struct {
			Products []models.CachedProduct `json:"products"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			logging.Error("failed to parse catalog file", err, nil)
			os.Exit(1)
		}
		products = wrapped.Products
	}

	now := time.Now().Unix()
	for i := range products {
		products[i].TenantID = *tenantID
		if products[i].UpdatedAt == 0 {
			products[i].UpdatedAt = now
		}
	}

	database, err := db.Open(*dataDir)
	if err != nil {
		logging.Error("failed to open database", err, nil)
		os.Exit(1)
	}
	defer database.Close()

	migrator := db.NewMigrator(database.DB, db.Migrations())
	if err := migrator.Initialize(); err != nil {
		logging.Error("failed to initialize migrations", err, nil)
		os.Exit(1)
	}
	if err := migrator.Up(); err != nil {
		logging.Error("failed to apply migrations", err, nil)
		os.Exit(1)
	}

	repo := db.NewRepository(database.DB)
	defer repo.Close()

	cache := catalog.NewCache(repo, *tenantID)
	if err := cache.Refresh(products); err != nil {
		logging.Error("failed to load catalog", err, nil)
		os.Exit(1)
	}

	logging.Info("catalog seeded", map[string]interface{}{
		"tenant":   *tenantID,
		"products": len(products),
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
