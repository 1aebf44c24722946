package main

import (
	"flag"
	"fmt"
	"log"

	"quantlab/internal/config"
	"quantlab/internal/database"
	"quantlab/internal/logger"
)

func main() {
	var (
		configPath = flag.String("config", "configs/config.yaml", "Configuration file path")
		up         = flag.Bool("up", false, "Run pending migrations")
		down       = flag.Bool("down", false, "Roll back all migrations")
		version    = flag.Bool("version", false, "Show current migration version")
		force      = flag.Int("force", -1, "Force migration version (repairs a dirty state)")
		drop       = flag.Bool("drop", false, "Drop every table in the database")
		help       = flag.Bool("help", false, "Show usage")
	)
	flag.Parse()

	if *help {
		showHelp()
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger.SetGlobal(logger.NewLogger(cfg.Logging))

	db, err := database.NewConnection(&database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		MaxOpen:  cfg.Database.MaxOpen,
		MaxIdle:  cfg.Database.MaxIdle,
		Timeout:  cfg.Database.Timeout,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, "migrations")
	if err != nil {
		log.Fatalf("Failed to create migrator: %v", err)
	}
	defer migrator.Close()

	switch {
	case *down:
		if err := migrator.Down(); err != nil {
			log.Fatalf("Rollback failed: %v", err)
		}
		log.Println("Migrations rolled back")
	case *version:
		v, err := migrator.Version()
		if err != nil {
			log.Fatalf("Failed to read version: %v", err)
		}
		log.Printf("Current migration version: %d", v)
	case *force >= 0:
		if err := migrator.Force(*force); err != nil {
			log.Fatalf("Force failed: %v", err)
		}
		log.Printf("Migration version forced to %d", *force)
	case *drop:
		if err := migrator.Drop(); err != nil {
			log.Fatalf("Drop failed: %v", err)
		}
		log.Println("Database dropped")
	case *up:
		fallthrough
	default:
		if err := migrator.Up(); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Migrations completed")
	}
}

func showHelp() {
	fmt.Println("quantlab database migration tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  migrate [options]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -config string   Configuration file path (default configs/config.yaml)")
	fmt.Println("  -up              Run pending migrations (default action)")
	fmt.Println("  -down            Roll back all migrations")
	fmt.Println("  -version         Show current migration version")
	fmt.Println("  -force int       Force migration version (repairs a dirty state)")
	fmt.Println("  -drop            Drop every table in the database")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  migrate -up")
	fmt.Println("  migrate -version")
	fmt.Println("  migrate -config configs/production.yaml -up")
}
