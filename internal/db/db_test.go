package db

import (
	"strings"
	"testing"

	"github.com/zulandar/chatline/internal/config"
	"github.com/zulandar/chatline/internal/models"
)

func TestMySQLDSN(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		host     string
		port     int
		database string
		want     string
	}{
		{
			name:     "default local",
			user:     "root",
			host:     "127.0.0.1",
			port:     3306,
			database: "chatline",
			want:     "root@tcp(127.0.0.1:3306)/chatline?parseTime=true",
		},
		{
			name:     "custom host and port",
			user:     "support",
			host:     "db.internal",
			port:     3307,
			database: "chatline_dev",
			want:     "support@tcp(db.internal:3307)/chatline_dev?parseTime=true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MySQLDSN(tt.user, tt.host, tt.port, tt.database)
			if got != tt.want {
				t.Errorf("MySQLDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMySQLDialector_ForcesParseTime(t *testing.T) {
	d, err := mysqlDialector("root@tcp(127.0.0.1:3306)/chatline")
	if err != nil {
		t.Fatalf("mysqlDialector: %v", err)
	}
	if d.Name() != "mysql" {
		t.Errorf("Name() = %q, want mysql", d.Name())
	}
	if _, err := mysqlDialector("not a dsn"); err == nil {
		t.Error("expected error for malformed dsn")
	}
}

func TestAllModels(t *testing.T) {
	if n := len(AllModels()); n != 2 {
		t.Errorf("len(AllModels()) = %d, want 2", n)
	}
}

func TestOpen_Validation(t *testing.T) {
	if _, err := Open(config.DatabaseConfig{Driver: "sqlite"}); err == nil {
		t.Error("expected error for missing dsn")
	}
	_, err := Open(config.DatabaseConfig{Driver: "postgres", DSN: "x"})
	if err == nil || !strings.Contains(err.Error(), "unsupported driver") {
		t.Errorf("error = %v, want unsupported driver", err)
	}
}

func TestOpen_SQLiteMigrates(t *testing.T) {
	gdb, err := Open(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, m := range AllModels() {
		if !gdb.Migrator().HasTable(m) {
			t.Errorf("table for %T not created", m)
		}
	}

	chat := models.Chat{ID: "c1", UserID: 777, Status: models.ChatAIPending}
	if err := gdb.Create(&chat).Error; err != nil {
		t.Fatalf("create chat: %v", err)
	}
	msg := models.Message{ID: "m1", ChatID: "c1", SenderID: "777", Text: "hi"}
	if err := gdb.Create(&msg).Error; err != nil {
		t.Fatalf("create message: %v", err)
	}
	var got models.Chat
	if err := gdb.Preload("Messages").First(&got, "id = ?", "c1").Error; err != nil {
		t.Fatalf("load chat: %v", err)
	}
	if len(got.Messages) != 1 || got.Messages[0].Text != "hi" {
		t.Errorf("Messages = %+v", got.Messages)
	}
}
