package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/go-telegram/bot/models"

	"github.com/zulandar/chatline/internal/identity"
)

func TestLaunchDataCmd_SignsForUser(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"launchdata", "--user-id", "42", "--first-name", "Ann", "--username", "ann", "--bot-token", "123:abc"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("launchdata failed: %v", err)
	}
	id, err := identity.Verify(strings.TrimSpace(buf.String()), "123:abc")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.UserID != "42" || id.UserName != "Ann" || id.DisplayName != "ann" {
		t.Errorf("identity = %+v", id)
	}
}

func TestLaunchDataCmd_TokenFromConfig(t *testing.T) {
	path := writeConfig(t, "devserver:\n  bot_token: \"999:cfg\"\n")
	t.Setenv("CHATLINE_DEVSERVER_BOT_TOKEN", "999:cfg")

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"launchdata", "--config", path, "--user-id", "7"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("launchdata failed: %v", err)
	}
	if _, err := identity.Verify(strings.TrimSpace(buf.String()), "999:cfg"); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestLaunchDataCmd_RequiresUserID(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"launchdata", "--bot-token", "x"})

	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "user-id") {
		t.Errorf("error = %v, want required user-id", err)
	}
}

func TestRunLaunchData_Validation(t *testing.T) {
	cmd := newLaunchDataCmd()
	if err := runLaunchData(cmd, models.User{ID: 1}, "", time.Now()); err == nil {
		t.Error("expected error without bot token")
	}
	if err := runLaunchData(cmd, models.User{ID: -1}, "tok", time.Now()); err == nil {
		t.Error("expected error for non-positive user id")
	}
}
