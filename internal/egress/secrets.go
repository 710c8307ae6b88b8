package egress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/greentic-ai/messaging-gateway/internal/subject"
	"github.com/greentic-ai/messaging-gateway/internal/tenant"
)

// KVSecretsResolver implements SecretsResolver over a JetStream KV bucket,
// keyed by a templated path expanded with (env, tenant, team, platform).
// Paths never cross tenant boundaries because the tenant fields are always
// substituted from tenantCtx, never caller-supplied directly.
type KVSecretsResolver struct {
	kv     nats.KeyValue
	logger zerolog.Logger
}

// NewKVSecretsResolver opens (or creates) the given KV bucket for secrets
// storage.
func NewKVSecretsResolver(js nats.JetStreamContext, bucket string, logger zerolog.Logger) (*KVSecretsResolver, error) {
	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      bucket,
			Description: "egress platform credentials",
		})
	}
	if err != nil {
		return nil, fmt.Errorf("initializing secrets bucket %s: %w", bucket, err)
	}
	return &KVSecretsResolver{kv: kv, logger: logger.With().Str("component", "egress.secrets").Logger()}, nil
}

// GetJSON loads and unmarshals the secret at path, returning false if absent.
func (r *KVSecretsResolver) GetJSON(_ context.Context, path string, tenantCtx tenant.Context, out any) (bool, error) {
	key := expandSecretKeyFromPath(path, tenantCtx)
	entry, err := r.kv.Get(key)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get secret %s: %w", key, err)
	}
	if err := json.Unmarshal(entry.Value(), out); err != nil {
		return false, fmt.Errorf("unmarshal secret %s: %w", key, err)
	}
	return true, nil
}

// PutJSON marshals value and stores it at path.
func (r *KVSecretsResolver) PutJSON(_ context.Context, path string, tenantCtx tenant.Context, value any) error {
	key := expandSecretKeyFromPath(path, tenantCtx)
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal secret %s: %w", key, err)
	}
	if _, err := r.kv.Put(key, payload); err != nil {
		return fmt.Errorf("put secret %s: %w", key, err)
	}
	return nil
}

// expandSecretKeyFromPath expands a caller-supplied templated path (e.g.
// "secrets/{env}/{tenant}/{team}/slack") against tenantCtx only — platform
// is already baked into the caller's path string where needed.
func expandSecretKeyFromPath(pathTmpl string, tenantCtx tenant.Context) string {
	key := subject.ExpandTemplate(pathTmpl, map[string]string{
		"env":    tenantCtx.Env,
		"tenant": tenantCtx.Tenant,
		"team":   tenantCtx.Team,
	})
	return strings.ReplaceAll(key, "/", ".")
}
