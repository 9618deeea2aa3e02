package notify

import (
	"strings"
	"testing"
)

func TestEscapeAppleScript(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Recording finished", "Recording finished"},
		{`flow "checkout" done`, `flow \"checkout\" done`},
		{`path\to\file`, `path\\to\\file`},
		{`"quote" and \backslash`, `\"quote\" and \\backslash`},
		{"", ""},
	}
	for _, tt := range tests {
		got := escapeAppleScript(tt.input)
		if got != tt.want {
			t.Errorf("escapeAppleScript(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestCommand_Darwin(t *testing.T) {
	name, args, err := command("darwin", `Recording "run-42"`, `saved to \recordings`)
	if err != nil {
		t.Fatalf("command failed: %v", err)
	}
	if name != "osascript" {
		t.Errorf("name = %s, want osascript", name)
	}
	if len(args) != 2 || args[0] != "-e" {
		t.Fatalf("args = %v", args)
	}
	script := args[1]
	if !strings.Contains(script, "display notification") {
		t.Errorf("script = %q", script)
	}
	if !strings.Contains(script, `\"run-42\"`) {
		t.Errorf("title quotes not escaped: %q", script)
	}
	if !strings.Contains(script, `\\recordings`) {
		t.Errorf("message backslash not escaped: %q", script)
	}
}

func TestCommand_Linux(t *testing.T) {
	name, args, err := command("linux", "Execution completed", "checkout finished")
	if err != nil {
		t.Fatalf("command failed: %v", err)
	}
	if name != "notify-send" {
		t.Errorf("name = %s, want notify-send", name)
	}
	want := []string{"--app-name=baton", "Execution completed", "checkout finished"}
	if len(args) != len(want) {
		t.Fatalf("args = %v", args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}

func TestCommand_Unsupported(t *testing.T) {
	_, _, err := command("plan9", "t", "m")
	if err == nil {
		t.Error("expected error for unsupported platform")
	}
}

func TestSend_SpecialCharacters(t *testing.T) {
	// Behavior depends on the host having a notifier installed; this
	// only checks that odd input does not panic.
	_ = Send(`Recording "run-42"`, `Saved to \recordings with "quotes"`)
}
