// Package dlq implements the dead-letter queue and replay semantics of
// spec §4.5: a single durable WorkQueue stream named DLQ, append-only until
// an operator replays an entry, with list/get/replay operations.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/greentic-ai/messaging-gateway/internal/subject"
)

// StreamName is the fixed JetStream stream backing the DLQ.
const StreamName = "DLQ"

// ErrorDetail mirrors spec §3 DLQRecord.error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
}

// Record is the spec §3 DLQRecord, persisted verbatim (original envelope
// bytes preserved, per the DLQ round-trip testable property).
type Record struct {
	Tenant       string          `json:"tenant"`
	Stage        string          `json:"stage"`
	Platform     string          `json:"platform"`
	MsgID        string          `json:"msg_id"`
	Retries      int             `json:"retries"`
	TimestampUTC time.Time       `json:"timestamp_utc"`
	Error        ErrorDetail     `json:"error"`
	Envelope     json.RawMessage `json:"envelope"`
}

// Entry is a Record together with its durable stream sequence number, used
// for get/replay addressing.
type Entry struct {
	Seq    uint64
	Record Record
}

// Queue implements publish/list/get/replay over the DLQ stream.
type Queue struct {
	js           nats.JetStreamContext
	logger       zerolog.Logger
	subjectTmpl  string
	replayTmpl   string
}

// NewQueue ensures the DLQ stream exists (WorkQueue retention, unlimited
// messages, so only explicit acks remove entries) and returns a Queue bound
// to the given subject templates.
func NewQueue(js nats.JetStreamContext, subjectTmpl, replayTmpl string, logger zerolog.Logger) (*Queue, error) {
	_, err := js.StreamInfo(StreamName)
	if err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      StreamName,
			Subjects:  []string{"dlq.>"},
			Retention: nats.WorkQueuePolicy,
			MaxMsgs:   -1,
			Storage:   nats.FileStorage,
		})
		if err != nil {
			return nil, fmt.Errorf("create DLQ stream: %w", err)
		}
	}
	return &Queue{
		js:          js,
		logger:      logger.With().Str("component", "dlq").Logger(),
		subjectTmpl: subjectTmpl,
		replayTmpl:  replayTmpl,
	}, nil
}

// Publish appends a new DLQ record, preserving the original envelope bytes
// verbatim.
func (q *Queue) Publish(ctx context.Context, tenant, platform, stage, msgID string, retries int, errDetail ErrorDetail, envelope json.RawMessage) error {
	rec := Record{
		Tenant:       tenant,
		Stage:        stage,
		Platform:     platform,
		MsgID:        msgID,
		Retries:      retries,
		TimestampUTC: time.Now().UTC(),
		Error:        errDetail,
		Envelope:     envelope,
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal DLQ record: %w", err)
	}
	subj := subject.DLQSubject(q.subjectTmpl, tenant, stage, platform)
	if _, err := q.js.Publish(subj, payload, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish DLQ record to %s: %w", subj, err)
	}
	return nil
}

// ListEntries returns up to limit entries for (tenant, stage) using a
// temporary ephemeral consumer, oldest first, without consuming them
// (peek semantics via GetMsgMetadata-style read is not destructive:
// messages are fetched with AckNone so they remain in the stream).
func (q *Queue) ListEntries(ctx context.Context, tenant, stage string, limit int) ([]Entry, error) {
	filter := subject.DLQSubject(q.subjectTmpl, tenant, stage, "*")
	sub, err := q.js.PullSubscribe(filter, "", nats.AckNone(), nats.DeliverAll())
	if err != nil {
		return nil, fmt.Errorf("list DLQ entries: %w", err)
	}
	defer sub.Unsubscribe()

	if limit <= 0 {
		limit = 100
	}
	msgs, err := sub.Fetch(limit, nats.Context(ctx))
	if err != nil && err != nats.ErrTimeout {
		return nil, fmt.Errorf("fetch DLQ entries: %w", err)
	}
	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		var rec Record
		if err := json.Unmarshal(m.Data, &rec); err != nil {
			continue
		}
		meta, _ := m.Metadata()
		var seq uint64
		if meta != nil {
			seq = meta.Sequence.Stream
		}
		entries = append(entries, Entry{Seq: seq, Record: rec})
	}
	return entries, nil
}

// GetEntry fetches a single DLQ entry by stream sequence number.
func (q *Queue) GetEntry(seq uint64) (Entry, error) {
	raw, err := q.js.GetMsg(StreamName, &nats.MsgGetOptions{Sequence: seq})
	if err != nil {
		return Entry{}, fmt.Errorf("get DLQ entry %d: %w", seq, err)
	}
	var rec Record
	if err := json.Unmarshal(raw.Data, &rec); err != nil {
		return Entry{}, fmt.Errorf("decode DLQ entry %d: %w", seq, err)
	}
	return Entry{Seq: seq, Record: rec}, nil
}

// ReplayEntry publishes entry's original envelope bytes to the replay
// subject for target_stage and does NOT delete the DLQ entry, per spec §4.5.
func (q *Queue) ReplayEntry(ctx context.Context, entry Entry, targetStage string) error {
	replaySubj := subject.ReplaySubject(q.replayTmpl, entry.Record.Tenant, targetStage)
	if _, err := q.js.Publish(replaySubj, entry.Record.Envelope, nats.Context(ctx)); err != nil {
		return fmt.Errorf("replay DLQ entry %d to %s: %w", entry.Seq, replaySubj, err)
	}
	return nil
}

// ReplayEntries consumes up to limit DLQ entries for (tenant, stage) with a
// pull consumer, publishes each to the replay subject, then acks — at most
// once replay per invocation, per spec §4.5.
func (q *Queue) ReplayEntries(ctx context.Context, tenant, stage, targetStage string, limit int) (int, error) {
	filter := subject.DLQSubject(q.subjectTmpl, tenant, stage, "*")
	sub, err := q.js.PullSubscribe(filter, "", nats.AckExplicit(), nats.DeliverAll())
	if err != nil {
		return 0, fmt.Errorf("replay entries: %w", err)
	}
	defer sub.Unsubscribe()

	if limit <= 0 {
		limit = 100
	}
	msgs, err := sub.Fetch(limit, nats.Context(ctx))
	if err != nil && err != nats.ErrTimeout {
		return 0, fmt.Errorf("fetch for replay: %w", err)
	}
	replayed := 0
	for _, m := range msgs {
		var rec Record
		if err := json.Unmarshal(m.Data, &rec); err != nil {
			_ = m.Ack()
			continue
		}
		replaySubj := subject.ReplaySubject(q.replayTmpl, rec.Tenant, targetStage)
		if _, err := q.js.Publish(replaySubj, rec.Envelope, nats.Context(ctx)); err != nil {
			q.logger.Error().Err(err).Str("tenant", tenant).Msg("replay publish failed, leaving entry for retry")
			continue
		}
		if err := m.Ack(); err != nil {
			q.logger.Error().Err(err).Msg("ack after replay failed")
			continue
		}
		replayed++
	}
	return replayed, nil
}
