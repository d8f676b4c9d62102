package include

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTemp(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestExpandInline(t *testing.T) {
	dir := t.TempDir()
	writeTemp(t, dir, "version.txt", "1.2.3")

	res, err := Expand(`VERSION=$<'version.txt'>`, NewOSFS(dir))
	if err != nil {
		t.Fatal(err)
	}
	if res.Script != "VERSION='1.2.3'" {
		t.Errorf("got %q", res.Script)
	}
	if !strings.Contains(res.DigestScript, "version.txt") {
		t.Errorf("expected digest script to mention source path, got %q", res.DigestScript)
	}
}

func TestExpandTempFile(t *testing.T) {
	dir := t.TempDir()
	writeTemp(t, dir, "patch.diff", "--- a\n+++ b\n")

	res, err := Expand(`patch -p1 < $<<patch.diff>>`, NewOSFS(dir))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Script, "FOUNDRY_INCLUDE_TMPDIR") {
		t.Errorf("expected temp-file placeholder, got %q", res.Script)
	}
}

func TestExpandEmptyGlobIsError(t *testing.T) {
	dir := t.TempDir()
	if _, err := Expand(`$<'nope.txt'>`, NewOSFS(dir)); err == nil {
		t.Fatal("expected error for unmatched glob")
	}
}

func TestExpandQuotesEmbeddedSingleQuote(t *testing.T) {
	dir := t.TempDir()
	writeTemp(t, dir, "msg.txt", "it's fine")

	res, err := Expand(`MSG=$<'msg.txt'>`, NewOSFS(dir))
	if err != nil {
		t.Fatal(err)
	}
	if res.Script != `MSG='it'\''s fine'` {
		t.Errorf("got %q", res.Script)
	}
}
