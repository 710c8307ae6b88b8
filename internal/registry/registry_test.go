package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func writePack(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write pack: %v", err)
	}
	return name
}

const slackPack = `
id: slack-pack
version: "1.0.0"
messaging:
  adapters:
    - name: slack-ingress
      kind: Ingress
      component_ref: slack-receiver
      default_flow: flows/slack.yaml
`

const duplicatePack = `
id: slack-pack-2
version: "1.0.0"
messaging:
  adapters:
    - name: slack-ingress
      kind: Ingress
      component_ref: slack-receiver-2
`

func TestLoadFromPathsBasic(t *testing.T) {
	dir := t.TempDir()
	name := writePack(t, dir, "slack.yaml", slackPack)

	reg, err := LoadFromPaths(dir, []string{name})
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}
	if reg.IsEmpty() {
		t.Fatal("expected non-empty registry")
	}
	d, ok := reg.Get("slack-ingress")
	if !ok {
		t.Fatal("expected slack-ingress adapter")
	}
	if !d.AllowsIngress() || d.AllowsEgress() {
		t.Fatalf("unexpected kind semantics: %+v", d)
	}
	if d.FlowPath() != "flows/slack.yaml" {
		t.Fatalf("FlowPath() = %q", d.FlowPath())
	}
}

func TestLoadFromPathsDuplicateFails(t *testing.T) {
	dir := t.TempDir()
	n1 := writePack(t, dir, "a.yaml", slackPack)
	n2 := writePack(t, dir, "b.yaml", duplicatePack)

	if _, err := LoadFromPaths(dir, []string{n1, n2}); err == nil {
		t.Fatal("expected duplicate adapter error")
	}
}

func TestLoadFromPathsRejectsEscapingRelativePath(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "packs")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	outside := filepath.Join(dir, "outside.yaml")
	if err := os.WriteFile(outside, []byte(slackPack), 0o644); err != nil {
		t.Fatalf("write outside: %v", err)
	}

	if _, err := LoadFromPaths(sub, []string{"../outside.yaml"}); err == nil {
		t.Fatal("expected path-safety error for escaping relative path")
	}
}

func TestByKindAndAll(t *testing.T) {
	r := New()
	if err := r.Register(Descriptor{Name: "a", Kind: KindIngress}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(Descriptor{Name: "b", Kind: KindEgress}); err != nil {
		t.Fatal(err)
	}
	if len(r.ByKind(KindIngress)) != 1 {
		t.Fatalf("expected 1 ingress adapter")
	}
	if len(r.All()) != 2 {
		t.Fatalf("expected 2 total adapters")
	}
}

func TestInferPlatformFromAdapterName(t *testing.T) {
	platform, ok := InferPlatformFromAdapterName("slack-ingress")
	if !ok || platform != "slack" {
		t.Fatalf("got %q, %v", platform, ok)
	}
	if _, ok := InferPlatformFromAdapterName("unknown-thing"); ok {
		t.Fatal("expected no match")
	}
}
