package card

// RenderIntent distinguishes a one-shot send from a preview render (e.g. an
// admin "show me what this looks like" tool), per spec §4.7.
type RenderIntent string

const (
	IntentSend    RenderIntent = "send"
	IntentPreview RenderIntent = "preview"
)

// FallbackButton is the single open_url action offered by an OAuth fallback
// card when the target platform has no native sign-in surface.
type FallbackButton struct {
	Title string
	URL   string
}

// AuthRenderSpec is the input to an OAuth card render: enough for a native
// renderer to build a sign-in card, and enough for the fallback path if it
// can't.
type AuthRenderSpec struct {
	Provider       OauthProvider
	ConnectionName string
	StartURL       string
	Fallback       *FallbackButton
}

// RenderSpec bundles everything a single render call needs: the target
// platform, the card content, and the render intent. Auth is nil for
// Standard cards.
type RenderSpec struct {
	Platform string
	Card     AdaptiveMessageCard
	Auth     *AuthRenderSpec
	Intent   RenderIntent
}

func newRenderSpec(platform string, card AdaptiveMessageCard, intent RenderIntent) RenderSpec {
	spec := RenderSpec{Platform: platform, Card: card, Intent: intent}
	if card.Kind == KindOauth && card.Oauth != nil {
		spec.Auth = &AuthRenderSpec{
			Provider:       card.Oauth.Provider,
			ConnectionName: card.Oauth.ConnectionName,
			StartURL:       card.Oauth.StartURL,
		}
	}
	return spec
}
