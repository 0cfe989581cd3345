package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bdobrica/Kioku/internal/kioku/app"
	"github.com/bdobrica/Kioku/internal/kioku/llm"
)

type replyProvider struct{ text string }

func (p replyProvider) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{
		Message:      llm.Message{Role: llm.RoleAssistant, Content: p.text},
		FinishReason: "stop",
	}, nil
}

// run executes the root command against db with fresh global flag values.
func run(t *testing.T, db, stdin string, args ...string) (string, error) {
	t.Helper()
	configPath, dbPath, userID, formatFlag = "", "", "default", "text"
	appOptions = app.Options{Provider: replyProvider{text: "Happy to help!"}}
	t.Cleanup(func() { appOptions = app.Options{} })

	var out bytes.Buffer
	RootCmd.SetArgs(append(args, "--db", db))
	RootCmd.SetOut(&out)
	RootCmd.SetErr(io.Discard)
	RootCmd.SetIn(strings.NewReader(stdin))
	err := RootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestChat_SingleMessage(t *testing.T) {
	db := filepath.Join(t.TempDir(), "kioku.db")
	out, err := run(t, db, "", "chat", "-m", "hello")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if strings.TrimSpace(out) != "Happy to help!" {
		t.Errorf("out = %q", out)
	}
}

func TestChat_REPL(t *testing.T) {
	db := filepath.Join(t.TempDir(), "kioku.db")
	out, err := run(t, db, "hi\n\n/memory\n/exit\n", "chat", "-m", "")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !strings.Contains(out, "Happy to help!") {
		t.Errorf("reply missing: %q", out)
	}
	if !strings.Contains(out, "<persona>") || !strings.Contains(out, "context: ") {
		t.Errorf("/memory output missing: %q", out)
	}

	// The queue survives the process: the next core show sees two messages.
	out, err = run(t, db, "", "core", "show")
	if err != nil {
		t.Fatalf("core show: %v", err)
	}
	if !strings.Contains(out, "2 queued messages") {
		t.Errorf("core show = %q", out)
	}
}

func TestCoreShow_JSON(t *testing.T) {
	db := filepath.Join(t.TempDir(), "kioku.db")
	out, err := run(t, db, "", "core", "show", "-f", "json", "-u", "alice")
	if err != nil {
		t.Fatalf("core show: %v", err)
	}
	var body struct {
		UserID string `json:"user_id"`
		Core   struct {
			Persona string `json:"persona"`
		} `json:"core_memory"`
		Usage struct {
			Max int `json:"max"`
		} `json:"usage"`
	}
	if err := json.Unmarshal([]byte(out), &body); err != nil {
		t.Fatalf("not JSON: %v\n%s", err, out)
	}
	if body.UserID != "alice" || body.Core.Persona == "" || body.Usage.Max != 8000 {
		t.Errorf("body = %+v", body)
	}
}

func TestArchival_InsertAndSearch(t *testing.T) {
	db := filepath.Join(t.TempDir(), "kioku.db")
	id, err := run(t, db, "", "archival", "insert", "Two weeks in Japan: Tokyo, Kyoto, Osaka", "--meta", `{"type":"travel_plan"}`)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if strings.TrimSpace(id) == "" {
		t.Fatal("no id printed")
	}

	out, err := run(t, db, "", "archival", "search", "Japan", "Kyoto", "-f", "json", "-p", "1")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	var results []struct {
		ID      string         `json:"id"`
		Content string         `json:"content"`
		Meta    map[string]any `json:"metadata"`
	}
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("not JSON: %v\n%s", err, out)
	}
	if len(results) != 1 || results[0].ID != strings.TrimSpace(id) || results[0].Meta["type"] != "travel_plan" {
		t.Errorf("results = %+v", results)
	}
}

func TestArchival_InsertBadMeta(t *testing.T) {
	db := filepath.Join(t.TempDir(), "kioku.db")
	if _, err := run(t, db, "", "archival", "insert", "x", "--meta", "{not json"); err == nil {
		t.Error("expected error for invalid metadata")
	}
}

func TestRecall_SearchAfterChat(t *testing.T) {
	db := filepath.Join(t.TempDir(), "kioku.db")
	if _, err := run(t, db, "", "chat", "-m", "I want to see the northern lights in Tromso"); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, db, "", "recall", "search", "northern", "lights", "-p", "1")
	if err != nil {
		t.Fatalf("recall search: %v", err)
	}
	if !strings.Contains(out, "northern lights in Tromso") {
		t.Errorf("out = %q", out)
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, filepath.Join(t.TempDir(), "kioku.db"), "", "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "kioku ") {
		t.Errorf("out = %q", out)
	}
}
