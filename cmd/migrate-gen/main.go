// Command migrate-gen generates SQL migration files for the camera assignments table.
//
// Usage:
//
//	go run github.com/camwatch/frameparser-autoscaler/cmd/migrate-gen -output migrations -filename init.sql
//
// Or with go generate:
//
//	//go:generate go run github.com/camwatch/frameparser-autoscaler/cmd/migrate-gen -output migrations
//
// Generate migrations for different databases:
//
//	go run github.com/camwatch/frameparser-autoscaler/cmd/migrate-gen -adapter postgres -output migrations
//	go run github.com/camwatch/frameparser-autoscaler/cmd/migrate-gen -adapter mysql -output migrations
//	go run github.com/camwatch/frameparser-autoscaler/cmd/migrate-gen -adapter sqlite -output migrations
//
// Customize names:
//
//	go run github.com/camwatch/frameparser-autoscaler/cmd/migrate-gen -schema video -table parser_assignments
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/camwatch/frameparser-autoscaler/pkg/migrations"
	"github.com/camwatch/frameparser-autoscaler/store/sqlstore"
)

func main() {
	var (
		adapter          = flag.String("adapter", "postgres", "Database adapter: postgres, mysql, or sqlite")
		outputFolder     = flag.String("output", "migrations", "Output folder for migration file")
		outputFilename   = flag.String("filename", "", "Output filename (default: timestamp-based)")
		schemaName       = flag.String("schema", "autoscaler", "Schema name (PostgreSQL), database name (MySQL) or table prefix (SQLite)")
		assignmentsTable = flag.String("table", "camera_assignments", "Name of the camera assignments table")
	)

	flag.Parse()

	config := migrations.DefaultConfig()
	config.OutputFolder = *outputFolder
	config.SchemaName = *schemaName
	config.AssignmentsTable = *assignmentsTable

	if *outputFilename != "" {
		config.OutputFilename = *outputFilename
	}

	dialect, err := sqlstore.ParseDialect(*adapter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v. Supported adapters are: postgres, mysql, sqlite\n", err)
		os.Exit(1)
	}

	if err := migrations.Generate(dialect, &config); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating migration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %s migration: %s/%s\n", *adapter, config.OutputFolder, config.OutputFilename)
}
