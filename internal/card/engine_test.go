package card

import (
	"encoding/json"
	"testing"
)

func richCard() AdaptiveMessageCard {
	return AdaptiveMessageCard{
		Kind:  KindStandard,
		Title: "Ticket #482",
		Body: []BodyElement{
			{Text: &TextElement{Text: "Your ticket was updated."}},
			{Fact: &FactElement{Label: "Status", Value: "Open"}},
			{Image: &ImageElement{URL: "https://example.com/a.png"}},
		},
		Actions: []ActionElement{
			{OpenURL: &OpenURLAction{Title: "View", URL: "https://example.com/482"}},
		},
	}
}

func TestClassifyTier(t *testing.T) {
	basic := AdaptiveMessageCard{Body: []BodyElement{{Text: &TextElement{Text: "hi"}}}}
	if got := classifyTier(basic); got != TierBasic {
		t.Fatalf("basic card classified as %s", got)
	}
	if got := classifyTier(richCard()); got != TierRich {
		t.Fatalf("rich card classified as %s", got)
	}
	premium := AdaptiveMessageCard{AdaptivePayload: []byte(`{"type":"AdaptiveCard"}`)}
	if got := classifyTier(premium); got != TierPremium {
		t.Fatalf("premium card classified as %s", got)
	}
}

func TestRenderDowngradesRichToBasicForTelegram(t *testing.T) {
	e := Bootstrap()
	snapshot, err := e.Render("telegram", richCard())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !snapshot.Downgraded {
		t.Fatal("expected downgraded=true for rich card on telegram")
	}
	if snapshot.Tier != TierBasic {
		t.Fatalf("expected basic tier, got %s", snapshot.Tier)
	}
	if snapshot.WarningCount() == 0 {
		t.Fatal("expected at least one downgrade warning")
	}

	var payload map[string]any
	if err := json.Unmarshal(snapshot.Output.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if _, hasFacts := payload["facts"]; hasFacts {
		t.Fatal("telegram payload should not carry facts")
	}
}

func TestRenderNoDowngradeForSlackRichCard(t *testing.T) {
	e := Bootstrap()
	snapshot, err := e.Render("slack", richCard())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if snapshot.Downgraded {
		t.Fatal("slack supports rich tier, should not downgrade")
	}
	if snapshot.Tier != TierRich {
		t.Fatalf("expected rich tier, got %s", snapshot.Tier)
	}
}

func TestDowngradeIsIdempotent(t *testing.T) {
	e := NewPolicyDowngradeEngine()
	ir := normalize(richCard())
	once := e.DowngradeForPlatform(ir, "whatsapp")
	twice := e.DowngradeForPlatform(once, "whatsapp")

	if len(once.Body) != len(twice.Body) {
		t.Fatalf("downgrade not idempotent: %d vs %d body elements", len(once.Body), len(twice.Body))
	}
	if once.Tier != twice.Tier {
		t.Fatalf("downgrade not idempotent on tier: %s vs %s", once.Tier, twice.Tier)
	}
}

func TestDowngradeMonotoneNeverIncreasesTier(t *testing.T) {
	e := NewPolicyDowngradeEngine()
	ir := normalize(richCard())
	down := e.DowngradeForPlatform(ir, "whatsapp")
	if down.Tier > ir.Tier {
		t.Fatalf("downgrade increased tier from %s to %s", ir.Tier, down.Tier)
	}
}

func TestRenderAuthFallsBackWhenNoNativeSupport(t *testing.T) {
	e := Bootstrap()
	card := AdaptiveMessageCard{
		Kind: KindOauth,
		Oauth: &OauthBlock{
			Provider: "google",
			StartURL: "https://auth.example.com/start",
		},
	}
	snapshot, err := e.Render("slack", card)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !snapshot.Downgraded {
		t.Fatal("expected oauth fallback to report downgraded=true")
	}
	if snapshot.IR == nil {
		t.Fatal("expected fallback IR to be populated")
	}
	if snapshot.IR.Meta.Source != "oauth-fallback" {
		t.Fatalf("expected oauth-fallback source, got %q", snapshot.IR.Meta.Source)
	}
	foundWarning := false
	for _, w := range snapshot.IR.Meta.Warnings {
		if w == "oauth card downgraded for slack: native OAuth not supported" {
			foundWarning = true
		}
	}
	if !foundWarning {
		t.Fatalf("expected specific downgrade warning, got %v", snapshot.IR.Meta.Warnings)
	}
}

func TestRenderAuthUsesNativeTeamsCard(t *testing.T) {
	e := Bootstrap()
	card := AdaptiveMessageCard{
		Kind: KindOauth,
		Oauth: &OauthBlock{
			Provider:       "google",
			ConnectionName: "google-oauth",
			StartURL:       "https://auth.example.com/start",
		},
	}
	snapshot, err := e.Render("teams", card)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if snapshot.Downgraded {
		t.Fatal("teams has a native oauth card, should not report downgraded")
	}
	var payload map[string]any
	if err := json.Unmarshal(snapshot.Output.Payload, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload["contentType"] != "application/vnd.microsoft.card.oauth" {
		t.Fatalf("expected native oauth card content type, got %v", payload["contentType"])
	}
}

func TestRenderAuthFallbackWithoutURLAddsWarning(t *testing.T) {
	e := Bootstrap()
	card := AdaptiveMessageCard{Kind: KindOauth, Oauth: &OauthBlock{Provider: "github"}}
	snapshot, err := e.Render("whatsapp", card)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	found := false
	for _, w := range snapshot.IR.Meta.Warnings {
		if w == "oauth fallback rendered without an action URL" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected no-url warning, got %v", snapshot.IR.Meta.Warnings)
	}
}

func TestUnknownPlatformUsesNullRenderer(t *testing.T) {
	e := Bootstrap()
	snapshot, err := e.Render("irc", richCard())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if snapshot.Tier != TierBasic {
		t.Fatalf("expected unknown platform to downgrade to basic, got %s", snapshot.Tier)
	}
	var payload map[string]any
	if err := json.Unmarshal(snapshot.Output.Payload, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := payload["text"]; !ok {
		t.Fatal("expected null renderer text payload")
	}
}

type spyTelemetry struct {
	events []TelemetryEvent
}

func (s *spyTelemetry) Rendered(e TelemetryEvent) { s.events = append(s.events, e) }

func TestEngineRecordsTelemetryOnRender(t *testing.T) {
	spy := &spyTelemetry{}
	e := Bootstrap().WithTelemetry(spy)
	if _, err := e.Render("telegram", richCard()); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(spy.events) != 1 {
		t.Fatalf("expected 1 telemetry event, got %d", len(spy.events))
	}
	if !spy.events[0].Downgraded {
		t.Fatal("expected telemetry event to report downgraded=true")
	}
	if spy.events[0].Platform != "telegram" {
		t.Fatalf("unexpected platform in event: %s", spy.events[0].Platform)
	}
}
