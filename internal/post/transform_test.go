package post

import (
	"os"
	"path/filepath"
	"testing"
)

func TestChain_RulesThenHook(t *testing.T) {
	rs, err := ParseRules([]byte(`
rules:
  - name: tabs-to-spaces
    pattern: "\t"
    replace: '  '
`))
	if err != nil {
		t.Fatal(err)
	}

	hookPath := filepath.Join(t.TempDir(), "hook.lua")
	if err := os.WriteFile(hookPath, []byte(`
function transform(path, text)
  return text .. "end\n"
end
`), 0o644); err != nil {
		t.Fatal(err)
	}
	h, err := LoadHook(hookPath)
	if err != nil {
		t.Fatal(err)
	}

	transform := Chain(rs, h)
	out, n, err := transform("/f.c", []byte("\ta\n\tb\n"))
	if err != nil {
		t.Fatalf("transform error = %v", err)
	}
	if got, want := string(out), "  a\n  b\nend\n"; got != want {
		t.Errorf("out = %q, want %q", got, want)
	}
	// Two tab substitutions plus one for the hook's edit.
	if n != 3 {
		t.Errorf("changes = %d, want 3", n)
	}
}

func TestChain_NilParts(t *testing.T) {
	transform := Chain(nil, nil)
	out, n, err := transform("/f", []byte("x"))
	if err != nil || string(out) != "x" || n != 0 {
		t.Errorf("identity chain: out=%q n=%d err=%v", out, n, err)
	}
}
