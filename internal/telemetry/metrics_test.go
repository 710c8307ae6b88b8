package telemetry

import "testing"

func TestSinkRecordsWithoutPanicking(t *testing.T) {
	s := NewSink()
	s.IngressReceived("acme", "slack")
	s.IngressRejected("acme", "slack", "bad_signature")
	s.IngressDuplicate("acme", "slack")
	s.EgressSent("acme", "slack")
	s.EgressFailed("acme", "slack")
	s.EgressRetried("acme", "slack")
	s.EgressLatency("slack", 0)
	s.CardRendered("slack", "rich", 1, false)
	s.CardRendered("telegram", "basic", 2, true)
	s.DLQDepthSet("acme", "send", 3)
	s.DLQReplayed("acme", "send", 1)
	s.BusRedelivered("ingress.acme.slack")
	s.BusAckFailure("ingress.acme.slack")
	s.RateLimited("tenant:acme")
	s.IdempotencyDuplicate("acme")
}

func TestResourceSamplerSampleDoesNotPanic(t *testing.T) {
	sampler := NewResourceSampler(NewSink())
	sampler.Sample()
}
