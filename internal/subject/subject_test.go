package subject

import "testing"

func TestIngressEgressRoundTrip(t *testing.T) {
	s := NewScheme("greentic.msg")
	subj, err := s.Ingress("acme", "tenant1", "default", "slack", "C1")
	if err != nil {
		t.Fatalf("Ingress: %v", err)
	}
	want := "greentic.msg.in.acme.tenant1.default.slack.C1"
	if subj != want {
		t.Fatalf("Ingress = %q, want %q", subj, want)
	}
	parsed, err := s.Parse(subj)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Env != "acme" || parsed.Tenant != "tenant1" || parsed.Team != "default" ||
		parsed.Platform != "slack" || parsed.ChatID != "C1" || parsed.Direction != "in" {
		t.Fatalf("parsed mismatch: %+v", parsed)
	}
}

func TestIngressWithoutChatID(t *testing.T) {
	s := NewScheme("greentic.msg")
	subj, err := s.Ingress("acme", "tenant1", "default", "slack", "")
	if err != nil {
		t.Fatalf("Ingress: %v", err)
	}
	parsed, err := s.Parse(subj)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.ChatID != "" {
		t.Fatalf("ChatID = %q, want empty", parsed.ChatID)
	}
}

func TestEgress(t *testing.T) {
	s := NewScheme("greentic.msg")
	subj, err := s.Egress("acme", "tenant1", "default", "teams")
	if err != nil {
		t.Fatalf("Egress: %v", err)
	}
	want := "greentic.msg.out.acme.tenant1.default.teams"
	if subj != want {
		t.Fatalf("Egress = %q, want %q", subj, want)
	}
}

func TestInvalidToken(t *testing.T) {
	s := NewScheme("greentic.msg")
	if _, err := s.Ingress("ac me", "tenant1", "default", "slack", ""); err == nil {
		t.Fatal("expected error for invalid token")
	}
	if _, err := s.Ingress("acme", "", "default", "slack", ""); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestExpandTemplateUnknownPlaceholder(t *testing.T) {
	got := ExpandTemplate("dlq.{tenant}.{stage}.{platform}", map[string]string{
		"tenant": "acme",
		"stage":  "send",
	})
	want := "dlq.acme.send."
	if got != want {
		t.Fatalf("ExpandTemplate = %q, want %q", got, want)
	}
}

func TestDLQAndReplaySubject(t *testing.T) {
	if got := DLQSubject("dlq.{tenant}.{stage}.{platform}", "acme", "send", "slack"); got != "dlq.acme.send.slack" {
		t.Fatalf("DLQSubject = %q", got)
	}
	if got := ReplaySubject("replay.{tenant}.{stage}", "acme", "send"); got != "replay.acme.send" {
		t.Fatalf("ReplaySubject = %q", got)
	}
}
