package sql

import (
	"context"
	"testing"

	"github.com/llamacompass/compass/internal/data/model"
)

func TestCreateDBConnector(t *testing.T) {
	tests := []struct {
		name     string
		dbType   string
		wantErr  bool
		wantType string
	}{
		{name: "default", dbType: "", wantType: "*sql.SQLiteConnector"},
		{name: "sqlite", dbType: "sqlite", wantType: "*sql.SQLiteConnector"},
		{name: "postgres", dbType: "postgres", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			connector, err := CreateDBConnector(tt.dbType, "", false)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected an error for %q", tt.dbType)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if _, ok := connector.(*SQLiteConnector); !ok {
				t.Errorf("expected %s, got %T", tt.wantType, connector)
			}
		})
	}
}

func TestNewSQLiteConnector_DefaultDSN(t *testing.T) {
	c := NewSQLiteConnector("", false)
	if c.dsn != DefaultDSN {
		t.Fatalf("expected %s, got %s", DefaultDSN, c.dsn)
	}
}

func TestSQLiteConnector_ConnectMigrates(t *testing.T) {
	c := NewSQLiteConnector("file:connect_test?mode=memory&cache=shared", false)
	database, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer Close(database) //nolint:errcheck

	if !database.Migrator().HasTable(&model.Report{}) {
		t.Fatal("expected reports table to exist")
	}
}
