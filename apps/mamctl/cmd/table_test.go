package cmd

import (
	"strings"
	"testing"
)

func TestRenderTable(t *testing.T) {
	out := renderTable(
		[]string{"Entry", "Consumer", "Deliveries"},
		[][]string{{"1-0", "host-0", "2"}, {"2-0"}},
		3,
	)
	lines := strings.Split(out, "\n")
	if len(lines) != 6 {
		t.Fatalf("got %d lines:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "╭") || !strings.HasPrefix(lines[5], "╰") {
		t.Fatalf("not rounded:\n%s", out)
	}
	for _, want := range []string{"1-0", "host-0", "2-0"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in\n%s", want, out)
		}
	}
	// Short rows are padded to the header width.
	if strings.Count(lines[4], "│") != strings.Count(lines[3], "│") {
		t.Fatalf("ragged row:\n%s", out)
	}
}

func TestRenderTableWithoutHeaders(t *testing.T) {
	if out := renderTable(nil, [][]string{{"x"}}); out != "" {
		t.Fatalf("out = %q", out)
	}
}
