package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"strings"

	_ "github.com/lib/pq"

	"vault-backend/internal/config"
)

// tables the server expects after migration
var expectedTables = []string{
	"vault_states",
	"vault_operations",
	"withdrawal_requests",
	"ledger_balances",
	"ledger_supplies",
	"ledger_allowances",
	"conversion_records",
	"vault_snapshots",
}

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	fmt.Println("🔍 Verifying database connection...")
	fmt.Println(strings.Repeat("=", 60))

	if err := config.LoadConfig(*configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if config.AppConfig.Database.Driver != "postgres" {
		log.Fatalf("verify-db-connection checks postgres only, driver is %q", config.AppConfig.Database.Driver)
	}

	sqlDB, err := sql.Open("postgres", config.AppConfig.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer sqlDB.Close()
	if err := sqlDB.Ping(); err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}

	var dbName, version string
	if err := sqlDB.QueryRow("SELECT current_database(), version()").Scan(&dbName, &version); err != nil {
		log.Fatalf("Failed to get database name: %v", err)
	}
	fmt.Printf("📋 Connected to database: %s\n", dbName)
	fmt.Printf("📋 %s\n", version)

	missing := 0
	for _, table := range expectedTables {
		var exists bool
		err := sqlDB.QueryRow(`
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`, table).Scan(&exists)
		if err != nil {
			log.Fatalf("Failed to query table %s: %v", table, err)
		}
		if !exists {
			missing++
			fmt.Printf("❌ %s missing\n", table)
			continue
		}
		var rows int64
		if err := sqlDB.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %q`, table)).Scan(&rows); err != nil {
			log.Fatalf("Failed to count %s: %v", table, err)
		}
		fmt.Printf("✅ %s (%d rows)\n", table, rows)
	}

	if missing > 0 {
		fmt.Printf("\n⚠️  %d table(s) missing, start vault-server once to migrate the schema\n", missing)
		return
	}
	fmt.Println("\n✅ Database is ready")
}
