package config

import (
	"strings"
	"testing"
)

// go test -v --run TestDSNDev
func TestDSNDev(t *testing.T) {
	cfg := PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "pw",
		DBName:   "raven",
		SSLMode:  "disable",
		TimeZone: "UTC",
	}

	dsn := cfg.DSN("dev")
	for _, part := range []string{"host=localhost", "port=5432", "user=postgres", "dbname=raven", "sslmode=disable", "TimeZone=UTC"} {
		if !strings.Contains(dsn, part) {
			t.Errorf("DSN missing %q: %s", part, dsn)
		}
	}
}

// go test -v --run TestAdminDSNTargetsDefaultDB
func TestAdminDSNTargetsDefaultDB(t *testing.T) {
	cfg := PostgresConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "pw", DBName: "raven", SSLMode: "disable"}

	dsn := cfg.AdminDSN()
	if !strings.Contains(dsn, "dbname=postgres") {
		t.Errorf("admin DSN must target the default database: %s", dsn)
	}
	if strings.Contains(dsn, "dbname=raven") {
		t.Errorf("admin DSN must not target the app database: %s", dsn)
	}
}
