package card

import "fmt"

// nativeOauthReason returns the human-facing reason an OAuth card had to
// fall back, chosen per platform the way the engine's Rust ancestor did:
// Teams and WebChat normally have native surfaces, so a missing one there
// is blamed on missing connection wiring rather than the platform itself.
func nativeOauthReason(platform string, auth AuthRenderSpec) string {
	switch platform {
	case "teams":
		if auth.ConnectionName == "" {
			return "missing connection name"
		}
		return "native OAuth not supported"
	case "webchat", "bf_webchat":
		return "native OAuth not supported"
	default:
		return "native OAuth not supported"
	}
}

// ensureOauthStartURL fills auth.StartURL from auth.Fallback.URL when the
// caller only supplied a fallback button, so downstream renderers always
// have something to link to.
func ensureOauthStartURL(auth AuthRenderSpec) AuthRenderSpec {
	if auth.StartURL == "" && auth.Fallback != nil {
		auth.StartURL = auth.Fallback.URL
	}
	return auth
}

// oauthFallbackIR builds the Basic-tier card shown when a platform cannot
// render a native OAuth card: a title, a "Sign in with X to continue."
// message, and an open_url action to the fallback button's URL if present.
func oauthFallbackIR(platform string, auth AuthRenderSpec, reason string) MessageCardIR {
	title := "Sign in required"
	var url string
	if auth.Fallback != nil {
		if auth.Fallback.Title != "" {
			title = auth.Fallback.Title
		}
		url = auth.Fallback.URL
	}
	if url == "" {
		url = auth.StartURL
	}

	b := NewMessageCardIRBuilder(TierBasic).
		Title(title).
		Body([]BodyElement{{Text: &TextElement{Text: fmt.Sprintf("Sign in with %s to continue.", auth.Provider.DisplayName())}}}).
		Source("oauth-fallback").
		Warning(fmt.Sprintf("oauth card downgraded for %s: %s", platform, reason))

	if url != "" {
		b = b.Actions([]ActionElement{{OpenURL: &OpenURLAction{Title: "Sign in", URL: url}}})
	} else {
		b = b.Warning("oauth fallback rendered without an action URL")
	}
	return b.Build()
}
