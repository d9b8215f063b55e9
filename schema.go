package ledgerxgo

import (
	"embed"
	"fmt"
	"path"
)

//go:embed schema/*.sql
var schemaFS embed.FS

var schemaFiles = map[string]string{
	DriverPostgres: "postgres.sql",
	DriverSQLite:   "sqlite.sql",
}

// SchemaSQL returns the DDL creating the account and transactions tables for
// driver.
func SchemaSQL(driver string) (string, error) {
	name, ok := schemaFiles[driver]
	if !ok {
		return "", fmt.Errorf("no schema for database driver %q", driver)
	}
	bits, err := schemaFS.ReadFile(path.Join("schema", name))
	if err != nil {
		return "", err
	}
	return string(bits), nil
}

func teardownSQL() (string, error) {
	bits, err := schemaFS.ReadFile("schema/teardown.sql")
	if err != nil {
		return "", err
	}
	return string(bits), nil
}
