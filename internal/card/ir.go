package card

// IRMeta carries out-of-band bookkeeping produced during normalization and
// rendering: warnings accumulated along the pipeline, and where the IR
// originated (e.g. "oauth-fallback").
type IRMeta struct {
	Warnings []string `json:"warnings,omitempty"`
	Source   string   `json:"source,omitempty"`
}

// AddWarning appends w, initializing the slice on first use.
func (m *IRMeta) AddWarning(w string) {
	m.Warnings = append(m.Warnings, w)
}

// MessageCardIR is the normalized, tier-tagged internal representation that
// every renderer consumes, per spec §3/§4.7.
type MessageCardIR struct {
	Tier            Tier
	Title           string
	Body            []BodyElement
	Actions         []ActionElement
	AdaptivePayload []byte
	Meta            IRMeta
}

// MessageCardIRBuilder constructs a MessageCardIR incrementally, mirroring
// the teacher's builder-style constructors for multi-field internal types.
type MessageCardIRBuilder struct {
	ir MessageCardIR
}

// NewMessageCardIRBuilder starts a builder pinned to the given tier.
func NewMessageCardIRBuilder(tier Tier) *MessageCardIRBuilder {
	return &MessageCardIRBuilder{ir: MessageCardIR{Tier: tier}}
}

func (b *MessageCardIRBuilder) Title(title string) *MessageCardIRBuilder {
	b.ir.Title = title
	return b
}

func (b *MessageCardIRBuilder) Body(body []BodyElement) *MessageCardIRBuilder {
	b.ir.Body = body
	return b
}

func (b *MessageCardIRBuilder) Actions(actions []ActionElement) *MessageCardIRBuilder {
	b.ir.Actions = actions
	return b
}

func (b *MessageCardIRBuilder) AdaptivePayload(payload []byte) *MessageCardIRBuilder {
	b.ir.AdaptivePayload = payload
	return b
}

func (b *MessageCardIRBuilder) Source(source string) *MessageCardIRBuilder {
	b.ir.Meta.Source = source
	return b
}

func (b *MessageCardIRBuilder) Warning(w string) *MessageCardIRBuilder {
	b.ir.Meta.AddWarning(w)
	return b
}

func (b *MessageCardIRBuilder) Build() MessageCardIR { return b.ir }

// normalize converts a wire-level AdaptiveMessageCard into its IR, tagging
// it with the tier the content actually requires.
func normalize(c AdaptiveMessageCard) MessageCardIR {
	tier := classifyTier(c)
	b := NewMessageCardIRBuilder(tier).
		Title(c.Title).
		Body(c.Body).
		Actions(c.Actions)
	if tier == TierPremium {
		b = b.AdaptivePayload(c.AdaptivePayload)
	}
	return b.Build()
}
