package sanitize

import (
	"strings"
	"testing"
)

func TestWrap(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		width int
	}{
		{name: "short text", text: "hello world", width: 20},
		{name: "exact width", text: "hello world", width: 11},
		{name: "multiple lines", text: "hello world this is a test", width: 15},
		{name: "long word", text: "ERROR:[2025-11-30T15:32:45.123Z]|fatal|org.apache.maven.plugins:maven-surefire-plugin", width: 40},
		{name: "wide runes", text: "Build 失败 in stage 编译 with emoji 🎉 and more text", width: 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Wrap(tt.text, tt.width)
			for i, line := range strings.Split(result, "\n") {
				if w := VisualWidth(line); w > tt.width {
					t.Errorf("line %d exceeds width %d: width=%d, content=%q", i, tt.width, w, line)
				}
			}
			if strings.Join(strings.Fields(result), "") != strings.Join(strings.Fields(tt.text), "") {
				t.Errorf("content was modified during wrapping\nexpected: %s\ngot:      %s", tt.text, result)
			}
		})
	}
}

func TestWrap_Unchanged(t *testing.T) {
	if result := Wrap("", 20); result != "" {
		t.Errorf("expected empty string, got %q", result)
	}
	if result := Wrap("hello world", 0); result != "hello world" {
		t.Errorf("expected original text for zero width, got %q", result)
	}
	if result := Wrap("hello world", 20); result != "hello world" {
		t.Errorf("expected single line, got %q", result)
	}
}

func TestTruncate(t *testing.T) {
	text := "this is a very long text"

	result := Truncate(text, 10)
	if w := VisualWidth(result); w > 10 {
		t.Errorf("truncated text exceeds width 10: width=%d, content=%q", w, result)
	}
	if !strings.HasSuffix(result, "...") {
		t.Errorf("expected ellipsis, got %q", result)
	}

	if result := Truncate("short", 10); result != "short" {
		t.Errorf("expected unchanged text, got %q", result)
	}
	if result := Truncate(text, 0); result != "" {
		t.Errorf("expected empty string for zero width, got %q", result)
	}
}

func TestFitLines(t *testing.T) {
	text := "- Severity: HIGH\n- Recommendations: " + strings.Repeat("x", 200)
	result := FitLines(text, 80)

	lines := strings.Split(result, "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0] != "- Severity: HIGH" {
		t.Errorf("short line changed: %q", lines[0])
	}
	if w := VisualWidth(lines[1]); w > 80 {
		t.Errorf("long line not fitted: width=%d", w)
	}
}
