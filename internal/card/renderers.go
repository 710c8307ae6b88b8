package card

import (
	"encoding/json"
	"fmt"
	"sort"
)

// RenderOutput is what a PlatformRenderer produces for a single IR, plus
// the bookkeeping the engine folds into telemetry, per spec §4.7.
type RenderOutput struct {
	Payload         json.RawMessage
	Warnings        []string
	UsedModal       bool
	LimitExceeded   bool
	SanitizedCount  int
	URLBlockedCount int
}

// PlatformRenderer turns a normalized MessageCardIR (or, for providers with
// native OAuth surfaces, an AuthRenderSpec) into a wire payload.
type PlatformRenderer interface {
	Platform() string
	Render(ir MessageCardIR) (RenderOutput, error)
	// RenderAuth renders a native OAuth card. ok is false when the platform
	// has no native OAuth surface and the engine should fall back to
	// oauthFallbackIR instead.
	RenderAuth(auth AuthRenderSpec) (out RenderOutput, ok bool, err error)
}

// RendererRegistry is a name-keyed lookup of PlatformRenderers, populated at
// bootstrap and extensible by provider packs.
type RendererRegistry struct {
	renderers map[string]PlatformRenderer
}

// NewRendererRegistry returns an empty registry.
func NewRendererRegistry() *RendererRegistry {
	return &RendererRegistry{renderers: map[string]PlatformRenderer{}}
}

// Register adds or replaces the renderer for r.Platform().
func (r *RendererRegistry) Register(renderer PlatformRenderer) {
	r.renderers[renderer.Platform()] = renderer
}

// Get returns the renderer for platform, and NullRenderer if none is
// registered — every platform always renders something.
func (r *RendererRegistry) Get(platform string) PlatformRenderer {
	if renderer, ok := r.renderers[platform]; ok {
		return renderer
	}
	return NullRenderer{}
}

// Platforms returns every registered platform name, sorted.
func (r *RendererRegistry) Platforms() []string {
	out := make([]string, 0, len(r.renderers))
	for p := range r.renderers {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func marshalOrWarn(v any) (json.RawMessage, []string) {
	payload, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`), []string{fmt.Sprintf("render marshal failed: %v", err)}
	}
	return payload, nil
}

// --- Slack -------------------------------------------------------------

// SlackRenderer renders to Slack Block Kit, capped at TierRich (Premium is
// downgraded upstream by the engine before this is ever called).
type SlackRenderer struct{}

func (SlackRenderer) Platform() string { return "slack" }

func (SlackRenderer) Render(ir MessageCardIR) (RenderOutput, error) {
	blocks := []map[string]any{}
	if ir.Title != "" {
		blocks = append(blocks, map[string]any{
			"type": "header",
			"text": map[string]any{"type": "plain_text", "text": ir.Title},
		})
	}
	for _, el := range ir.Body {
		switch {
		case el.Text != nil:
			blocks = append(blocks, map[string]any{
				"type": "section",
				"text": map[string]any{"type": "mrkdwn", "text": el.Text.Text},
			})
		case el.Fact != nil:
			blocks = append(blocks, map[string]any{
				"type": "section",
				"text": map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*%s*: %s", el.Fact.Label, el.Fact.Value)},
			})
		case el.Image != nil:
			blocks = append(blocks, map[string]any{"type": "image", "image_url": el.Image.URL, "alt_text": "card image"})
		}
	}
	elements := renderActionElements(ir.Actions)
	if len(elements) > 0 {
		blocks = append(blocks, map[string]any{"type": "actions", "elements": elements})
	}
	payload, warnings := marshalOrWarn(map[string]any{"blocks": blocks})
	return RenderOutput{Payload: payload, Warnings: warnings}, nil
}

func (SlackRenderer) RenderAuth(AuthRenderSpec) (RenderOutput, bool, error) {
	return RenderOutput{}, false, nil
}

func renderActionElements(actions []ActionElement) []map[string]any {
	elements := make([]map[string]any, 0, len(actions))
	for _, a := range actions {
		switch {
		case a.OpenURL != nil:
			elements = append(elements, map[string]any{
				"type": "button",
				"text": map[string]any{"type": "plain_text", "text": a.OpenURL.Title},
				"url":  a.OpenURL.URL,
			})
		case a.Postback != nil:
			elements = append(elements, map[string]any{
				"type":  "button",
				"text":  map[string]any{"type": "plain_text", "text": a.Postback.Title},
				"value": a.Postback.Data,
			})
		}
	}
	return elements
}

// --- Teams ---------------------------------------------------------------

// TeamsRenderer renders to Adaptive Cards JSON (native OAuth card too),
// Teams being the only bot-framework platform with full Premium support.
type TeamsRenderer struct{}

func (TeamsRenderer) Platform() string { return "teams" }

func (TeamsRenderer) Render(ir MessageCardIR) (RenderOutput, error) {
	if len(ir.AdaptivePayload) > 0 {
		return RenderOutput{Payload: json.RawMessage(ir.AdaptivePayload)}, nil
	}
	body := []map[string]any{}
	if ir.Title != "" {
		body = append(body, map[string]any{"type": "TextBlock", "text": ir.Title, "weight": "bolder", "size": "medium"})
	}
	for _, el := range ir.Body {
		switch {
		case el.Text != nil:
			body = append(body, map[string]any{"type": "TextBlock", "text": el.Text.Text, "wrap": true, "isSubtle": !el.Text.Markdown})
		case el.Fact != nil:
			body = append(body, map[string]any{
				"type":  "FactSet",
				"facts": []map[string]any{{"title": el.Fact.Label, "value": el.Fact.Value}},
			})
		case el.Image != nil:
			body = append(body, map[string]any{"type": "Image", "url": el.Image.URL})
		}
	}
	actions := []map[string]any{}
	for _, a := range ir.Actions {
		switch {
		case a.OpenURL != nil:
			actions = append(actions, map[string]any{"type": "Action.OpenUrl", "title": a.OpenURL.Title, "url": a.OpenURL.URL})
		case a.Postback != nil:
			actions = append(actions, map[string]any{"type": "Action.Submit", "title": a.Postback.Title, "data": a.Postback.Data})
		}
	}
	card := map[string]any{
		"type":    "AdaptiveCard",
		"version": "1.4",
		"$schema": "http://adaptivecards.io/schemas/adaptive-card.json",
		"body":    body,
		"actions": actions,
	}
	payload, warnings := marshalOrWarn(card)
	return RenderOutput{Payload: payload, Warnings: warnings}, nil
}

func (TeamsRenderer) RenderAuth(auth AuthRenderSpec) (RenderOutput, bool, error) {
	if auth.ConnectionName == "" {
		return RenderOutput{}, false, nil
	}
	card := map[string]any{
		"contentType": "application/vnd.microsoft.card.oauth",
		"content": map[string]any{
			"text":           fmt.Sprintf("Sign in with %s to continue.", auth.Provider.DisplayName()),
			"connectionName": auth.ConnectionName,
			"buttons": []map[string]any{
				{"type": "signin", "title": "Sign in", "value": auth.StartURL},
			},
		},
	}
	payload, warnings := marshalOrWarn(card)
	return RenderOutput{Payload: payload, Warnings: warnings}, true, nil
}

// --- Webex -----------------------------------------------------------

// WebexRenderer renders to Webex's markdown message format (Rich tier;
// Webex has no modal surface).
type WebexRenderer struct{}

func (WebexRenderer) Platform() string { return "webex" }

func (WebexRenderer) Render(ir MessageCardIR) (RenderOutput, error) {
	md := ""
	if ir.Title != "" {
		md += "**" + ir.Title + "**\n\n"
	}
	for _, el := range ir.Body {
		switch {
		case el.Text != nil:
			md += el.Text.Text + "\n\n"
		case el.Fact != nil:
			md += fmt.Sprintf("**%s**: %s\n", el.Fact.Label, el.Fact.Value)
		case el.Image != nil:
			md += fmt.Sprintf("![card image](%s)\n", el.Image.URL)
		}
	}
	for _, a := range ir.Actions {
		switch {
		case a.OpenURL != nil:
			md += fmt.Sprintf("[%s](%s)\n", a.OpenURL.Title, a.OpenURL.URL)
		case a.Postback != nil:
			md += fmt.Sprintf("%s (reply %q)\n", a.Postback.Title, a.Postback.Data)
		}
	}
	payload, warnings := marshalOrWarn(map[string]any{"markdown": md})
	return RenderOutput{Payload: payload, Warnings: warnings}, nil
}

func (WebexRenderer) RenderAuth(AuthRenderSpec) (RenderOutput, bool, error) {
	return RenderOutput{}, false, nil
}

// --- Telegram ----------------------------------------------------------

// TelegramRenderer renders to plain text plus an inline keyboard, capped at
// Basic tier (no facts, no images in the caption).
type TelegramRenderer struct{}

func (TelegramRenderer) Platform() string { return "telegram" }

func (TelegramRenderer) Render(ir MessageCardIR) (RenderOutput, error) {
	text := ""
	if ir.Title != "" {
		text += ir.Title + "\n\n"
	}
	for _, el := range ir.Body {
		if el.Text != nil {
			text += el.Text.Text + "\n"
		}
	}
	keyboard := [][]map[string]any{}
	row := []map[string]any{}
	for _, a := range ir.Actions {
		switch {
		case a.OpenURL != nil:
			row = append(row, map[string]any{"text": a.OpenURL.Title, "url": a.OpenURL.URL})
		case a.Postback != nil:
			row = append(row, map[string]any{"text": a.Postback.Title, "callback_data": a.Postback.Data})
		}
	}
	if len(row) > 0 {
		keyboard = append(keyboard, row)
	}
	out := map[string]any{"text": text}
	if len(keyboard) > 0 {
		out["reply_markup"] = map[string]any{"inline_keyboard": keyboard}
	}
	payload, warnings := marshalOrWarn(out)
	return RenderOutput{Payload: payload, Warnings: warnings}, nil
}

func (TelegramRenderer) RenderAuth(AuthRenderSpec) (RenderOutput, bool, error) {
	return RenderOutput{}, false, nil
}

// --- WhatsApp ------------------------------------------------------------

// WhatsAppRenderer renders to plain text, the most constrained surface: no
// facts, no images, no interactive buttons beyond a trailing URL line.
type WhatsAppRenderer struct{}

func (WhatsAppRenderer) Platform() string { return "whatsapp" }

func (WhatsAppRenderer) Render(ir MessageCardIR) (RenderOutput, error) {
	text := ""
	if ir.Title != "" {
		text += ir.Title + "\n\n"
	}
	for _, el := range ir.Body {
		if el.Text != nil {
			text += el.Text.Text + "\n"
		}
	}
	for _, a := range ir.Actions {
		if a.OpenURL != nil {
			text += fmt.Sprintf("%s: %s\n", a.OpenURL.Title, a.OpenURL.URL)
		}
	}
	payload, warnings := marshalOrWarn(map[string]any{"body": text})
	return RenderOutput{Payload: payload, Warnings: warnings}, nil
}

func (WhatsAppRenderer) RenderAuth(AuthRenderSpec) (RenderOutput, bool, error) {
	return RenderOutput{}, false, nil
}

// --- WebChat -------------------------------------------------------------

// WebChatRenderer renders to a Direct Line attachment, the only other
// Premium-capable surface besides Teams.
type WebChatRenderer struct{}

func (WebChatRenderer) Platform() string { return "webchat" }

func (WebChatRenderer) Render(ir MessageCardIR) (RenderOutput, error) {
	var content any
	usedModal := false
	if len(ir.AdaptivePayload) > 0 {
		content = json.RawMessage(ir.AdaptivePayload)
	} else {
		facts := []map[string]string{}
		var images []map[string]string
		texts := []string{}
		for _, el := range ir.Body {
			switch {
			case el.Text != nil:
				texts = append(texts, el.Text.Text)
			case el.Fact != nil:
				facts = append(facts, map[string]string{"title": el.Fact.Label, "value": el.Fact.Value})
			case el.Image != nil:
				images = append(images, map[string]string{"url": el.Image.URL})
				usedModal = true
			}
		}
		content = map[string]any{
			"title":  ir.Title,
			"text":   texts,
			"facts":  facts,
			"images": images,
		}
	}
	attachment := map[string]any{
		"contentType": "application/vnd.microsoft.card.adaptive",
		"content":     content,
	}
	payload, warnings := marshalOrWarn(map[string]any{"attachments": []any{attachment}})
	return RenderOutput{Payload: payload, Warnings: warnings, UsedModal: usedModal}, nil
}

func (WebChatRenderer) RenderAuth(auth AuthRenderSpec) (RenderOutput, bool, error) {
	attachment := map[string]any{
		"contentType": "application/vnd.microsoft.card.signin",
		"content": map[string]any{
			"text":    fmt.Sprintf("Sign in with %s to continue.", auth.Provider.DisplayName()),
			"buttons": []map[string]any{{"type": "signin", "title": "Sign in", "value": auth.StartURL}},
		},
	}
	payload, warnings := marshalOrWarn(map[string]any{"attachments": []any{attachment}})
	return RenderOutput{Payload: payload, Warnings: warnings}, true, nil
}

// --- Null ----------------------------------------------------------------

// NullRenderer is returned by RendererRegistry.Get for unknown platforms: it
// renders the IR title and text as a single plain string, guaranteeing every
// platform gets something rather than an error.
type NullRenderer struct{}

func (NullRenderer) Platform() string { return "null" }

func (NullRenderer) Render(ir MessageCardIR) (RenderOutput, error) {
	text := ir.Title
	for _, el := range ir.Body {
		if el.Text != nil {
			if text != "" {
				text += "\n"
			}
			text += el.Text.Text
		}
	}
	payload, warnings := marshalOrWarn(map[string]any{"text": text})
	warnings = append(warnings, "rendered with null renderer: no renderer registered for this platform")
	return RenderOutput{Payload: payload, Warnings: warnings}, nil
}

func (NullRenderer) RenderAuth(AuthRenderSpec) (RenderOutput, bool, error) {
	return RenderOutput{}, false, nil
}
