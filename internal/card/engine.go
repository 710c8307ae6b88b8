package card

// RenderSnapshot is the full result of a single render call, carrying
// enough to both ship the payload and record telemetry, per spec §4.7.
type RenderSnapshot struct {
	Output     RenderOutput
	IR         *MessageCardIR
	Tier       Tier
	TargetTier Tier
	Downgraded bool
}

// WarningCount returns the warning count from the IR if present, else from
// the raw render output (OAuth native-card renders have no IR).
func (s RenderSnapshot) WarningCount() int {
	if s.IR != nil {
		return len(s.IR.Meta.Warnings)
	}
	return len(s.Output.Warnings)
}

// Engine is the MessageCard rendering pipeline: normalize -> downgrade ->
// render, with OAuth cards routed to native auth renderers or a synthesized
// fallback, and every render recorded to a TelemetryHook.
type Engine struct {
	registry  *RendererRegistry
	downgrade DowngradeEngine
	telemetry TelemetryHook
}

// New returns an Engine with an empty renderer registry and no telemetry;
// callers typically want Bootstrap instead.
func New() *Engine {
	return &Engine{
		registry:  NewRendererRegistry(),
		downgrade: NewPolicyDowngradeEngine(),
		telemetry: NullTelemetry{},
	}
}

// Bootstrap returns an Engine pre-registered with every builtin platform
// renderer, per spec §4.7's required platform set.
func Bootstrap() *Engine {
	e := New()
	e.registry.Register(SlackRenderer{})
	e.registry.Register(TeamsRenderer{})
	e.registry.Register(WebexRenderer{})
	e.registry.Register(TelegramRenderer{})
	e.registry.Register(WhatsAppRenderer{})
	e.registry.Register(WebChatRenderer{})
	return e
}

// WithTelemetry attaches a telemetry hook, returning e for chaining.
func (e *Engine) WithTelemetry(hook TelemetryHook) *Engine {
	e.telemetry = hook
	return e
}

// Registry exposes the underlying renderer registry so provider packs can
// register additional platform renderers at startup.
func (e *Engine) Registry() *RendererRegistry { return e.registry }

// RegisterRenderer adds or replaces a platform renderer.
func (e *Engine) RegisterRenderer(r PlatformRenderer) { e.registry.Register(r) }

// Normalize converts a wire-level card into IR, exported for callers that
// need to inspect tier before deciding whether to render at all.
func (e *Engine) Normalize(c AdaptiveMessageCard) MessageCardIR {
	return normalize(c)
}

// Downgrade reduces ir to fit platform's profile, a no-op if it already
// fits.
func (e *Engine) Downgrade(ir MessageCardIR, platform string) MessageCardIR {
	return e.downgrade.DowngradeForPlatform(ir, platform)
}

// RenderSpec builds the RenderSpec for a (platform, card) pair without
// rendering it, useful for callers that want to batch a dispatch decision
// across platforms before committing to the (possibly expensive) render.
func (e *Engine) RenderSpec(platform string, card AdaptiveMessageCard, intent RenderIntent) RenderSpec {
	return newRenderSpec(platform, card, intent)
}

// Render is the engine's single entry point: dispatches Standard cards
// through the normalize/downgrade/render pipeline and Oauth cards through
// the auth path, always recording telemetry before returning.
func (e *Engine) Render(platform string, card AdaptiveMessageCard) (RenderSnapshot, error) {
	return e.RenderSnapshotTracked(e.RenderSpec(platform, card, IntentSend))
}

// RenderSnapshotTracked renders spec and records the resulting telemetry
// event, used directly by callers that already built a RenderSpec (e.g. to
// reuse it across a retry).
func (e *Engine) RenderSnapshotTracked(spec RenderSpec) (RenderSnapshot, error) {
	snapshot, err := e.renderSnapshot(spec)
	if err != nil {
		return snapshot, err
	}
	e.recordRenderEvent(spec.Platform, snapshot)
	return snapshot, nil
}

func (e *Engine) renderSnapshot(spec RenderSpec) (RenderSnapshot, error) {
	if spec.Card.Kind == KindOauth && spec.Auth != nil {
		return e.renderAuthSnapshot(spec.Platform, *spec.Auth)
	}
	ir := normalize(spec.Card)
	return e.renderCardSnapshot(spec.Platform, ir)
}

// renderCardSnapshot downgrades ir to fit platform if needed, renders it,
// and folds renderer warnings into the (downgraded copy of the) IR's meta
// before returning.
func (e *Engine) renderCardSnapshot(platform string, ir MessageCardIR) (RenderSnapshot, error) {
	profile := e.downgrade.ProfileFor(platform)
	targetTier := profile.MaxTier
	downgraded := ir.Tier > targetTier
	rendered := ir
	if downgraded {
		rendered = e.downgrade.DowngradeForPlatform(ir, platform)
	}

	renderer := e.registry.Get(platform)
	output, err := renderer.Render(rendered)
	if err != nil {
		return RenderSnapshot{}, err
	}
	rendered.Meta.Warnings = append(rendered.Meta.Warnings, output.Warnings...)

	return RenderSnapshot{
		Output:     output,
		IR:         &rendered,
		Tier:       rendered.Tier,
		TargetTier: targetTier,
		Downgraded: downgraded,
	}, nil
}

// renderAuthSnapshot tries the platform's native OAuth renderer first; if
// it declines (no connection wired, or the platform has no such surface at
// all) it synthesizes a Basic-tier fallback card instead.
func (e *Engine) renderAuthSnapshot(platform string, auth AuthRenderSpec) (RenderSnapshot, error) {
	auth = ensureOauthStartURL(auth)
	renderer := e.registry.Get(platform)
	if output, ok, err := renderer.RenderAuth(auth); ok {
		if err != nil {
			return RenderSnapshot{}, err
		}
		return RenderSnapshot{
			Output:     output,
			Tier:       TierBasic,
			TargetTier: TierBasic,
			Downgraded: false,
		}, nil
	}

	reason := nativeOauthReason(platform, auth)
	fallbackIR := oauthFallbackIR(platform, auth, reason)
	snapshot, err := e.renderCardSnapshot(platform, fallbackIR)
	if err != nil {
		return RenderSnapshot{}, err
	}
	snapshot.Downgraded = true
	return snapshot, nil
}

func (e *Engine) recordRenderEvent(platform string, snapshot RenderSnapshot) {
	e.telemetry.Rendered(TelemetryEvent{
		Platform:        platform,
		Tier:            snapshot.Tier,
		WarningCount:    snapshot.WarningCount(),
		UsedModal:       snapshot.Output.UsedModal,
		LimitExceeded:   snapshot.Output.LimitExceeded,
		SanitizedCount:  snapshot.Output.SanitizedCount,
		URLBlockedCount: snapshot.Output.URLBlockedCount,
		Downgraded:      snapshot.Downgraded,
	})
}
