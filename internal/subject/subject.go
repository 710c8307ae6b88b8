// Package subject implements the deterministic bus subject construction and
// parsing described in spec §4.1: ingress/egress subject families plus
// templated DLQ/replay subjects.
package subject

import (
	"regexp"
	"strings"

	"github.com/greentic-ai/messaging-gateway/internal/gatewayerr"
)

var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Scheme builds and parses subjects under a fixed prefix (e.g. "greentic.msg").
type Scheme struct {
	Prefix string
}

func NewScheme(prefix string) Scheme { return Scheme{Prefix: prefix} }

func validateToken(name, value string) error {
	if value == "" || !tokenPattern.MatchString(value) {
		return gatewayerr.ClientError("E_INVALID_SUBJECT_TOKEN", "invalid subject token "+name+": "+value)
	}
	return nil
}

// Ingress builds `<prefix>.in.<env>.<tenant>.<team>.<platform>[.<chat_id>]`.
func (s Scheme) Ingress(env, tenant, team, platform, chatID string) (string, error) {
	for n, v := range map[string]string{"env": env, "tenant": tenant, "team": team, "platform": platform} {
		if err := validateToken(n, v); err != nil {
			return "", err
		}
	}
	parts := []string{s.Prefix, "in", env, tenant, team, platform}
	if chatID != "" {
		if err := validateToken("chat_id", chatID); err != nil {
			return "", err
		}
		parts = append(parts, chatID)
	}
	return strings.Join(parts, "."), nil
}

// Egress builds `<prefix>.out.<env>.<tenant>.<team>.<platform>`.
func (s Scheme) Egress(env, tenant, team, platform string) (string, error) {
	for n, v := range map[string]string{"env": env, "tenant": tenant, "team": team, "platform": platform} {
		if err := validateToken(n, v); err != nil {
			return "", err
		}
	}
	return strings.Join([]string{s.Prefix, "out", env, tenant, team, platform}, "."), nil
}

// Parsed holds the decomposition of an ingress or egress subject.
type Parsed struct {
	Direction string // "in" or "out"
	Env       string
	Tenant    string
	Team      string
	Platform  string
	ChatID    string // only set for ingress subjects that carry one
}

// Parse decomposes a subject produced by Ingress or Egress. It returns an
// error for anything that doesn't match the fixed prefix/direction shape.
func (s Scheme) Parse(subj string) (Parsed, error) {
	prefixParts := strings.Split(s.Prefix, ".")
	parts := strings.Split(subj, ".")
	if len(parts) < len(prefixParts)+5 {
		return Parsed{}, gatewayerr.ClientError("E_INVALID_SUBJECT", "subject too short: "+subj)
	}
	for i, p := range prefixParts {
		if parts[i] != p {
			return Parsed{}, gatewayerr.ClientError("E_INVALID_SUBJECT", "subject prefix mismatch: "+subj)
		}
	}
	rest := parts[len(prefixParts):]
	direction := rest[0]
	if direction != "in" && direction != "out" {
		return Parsed{}, gatewayerr.ClientError("E_INVALID_SUBJECT", "unknown subject direction: "+direction)
	}
	p := Parsed{Direction: direction, Env: rest[1], Tenant: rest[2], Team: rest[3], Platform: rest[4]}
	if direction == "in" && len(rest) > 5 {
		p.ChatID = strings.Join(rest[5:], ".")
	}
	return p, nil
}

// ExpandTemplate substitutes `{name}` placeholders in tmpl from values.
// Unknown placeholders expand to the empty string, with the surrounding
// separator preserved bit-exact (spec §4.1).
func ExpandTemplate(tmpl string, values map[string]string) string {
	var b strings.Builder
	i := 0
	for i < len(tmpl) {
		if tmpl[i] == '{' {
			end := strings.IndexByte(tmpl[i:], '}')
			if end >= 0 {
				name := tmpl[i+1 : i+end]
				b.WriteString(values[name]) // zero value "" if unknown, preserving separators
				i += end + 1
				continue
			}
		}
		b.WriteByte(tmpl[i])
		i++
	}
	return b.String()
}

// DLQSubject expands a DLQ subject template, e.g. "dlq.{tenant}.{stage}.{platform}".
func DLQSubject(tmpl, tenant, stage, platform string) string {
	return ExpandTemplate(tmpl, map[string]string{"tenant": tenant, "stage": stage, "platform": platform})
}

// ReplaySubject expands a replay subject template, e.g. "replay.{tenant}.{stage}".
func ReplaySubject(tmpl, tenant, stage string) string {
	return ExpandTemplate(tmpl, map[string]string{"tenant": tenant, "stage": stage})
}
