package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/magicrune/magicrune/internal/runid"
	"github.com/magicrune/magicrune/internal/schema"
)

// Publisher is the producer side of spec.md §4.7: it computes the same
// run_id the worker would derive, ensures the request stream exists,
// publishes with a Nats-Msg-Id header for broker-side dedupe, and waits for
// the worker's result before acknowledging it with an empty message on
// run.ack.<run_id>.
type Publisher struct {
	nc  *nats.Conn
	js  nats.JetStreamContext
	cfg Config
}

// NewPublisher connects to cfg.URL and ensures the request stream exists.
func NewPublisher(cfg Config) (*Publisher, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("worker: connecting to %s: %w", cfg.URL, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("worker: acquiring jetstream context: %w", err)
	}
	p := &Publisher{nc: nc, js: js, cfg: cfg}
	if err := p.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return p, nil
}

func (p *Publisher) ensureStream() error {
	_, err := p.js.StreamInfo(p.cfg.Stream)
	if err == nil {
		return nil
	}
	_, err = p.js.AddStream(&nats.StreamConfig{
		Name:       p.cfg.Stream,
		Subjects:   []string{"run.req.>"},
		Retention:  nats.LimitsPolicy,
		Storage:    nats.FileStorage,
		Duplicates: p.cfg.DupWindow,
	})
	if err != nil {
		return fmt.Errorf("worker: ensuring stream %s: %w", p.cfg.Stream, err)
	}
	return nil
}

// Close drains the underlying connection.
func (p *Publisher) Close() {
	p.nc.Close()
}

// PublishResult computes run_id for body, publishes it on the request
// subject with a deterministic Nats-Msg-Id header, waits on run.res.<run_id>
// up to cfg.PublishTimeout, and on receipt acknowledges with an empty
// message on run.ack.<run_id>. It returns the received SpellResult, or an
// error if the result never arrived in time (non-fatal to the caller — the
// request was still durably published).
func (p *Publisher) PublishResult(ctx context.Context, body []byte, seed int64) (*schema.SpellResult, error) {
	sum := sha256.Sum256(body)
	msgID := hex.EncodeToString(sum[:])
	runID := runid.Derive(body, seed)

	resultSubj := "run.res." + runID
	sub, err := p.nc.SubscribeSync(resultSubj)
	if err != nil {
		return nil, fmt.Errorf("worker: subscribing to %s: %w", resultSubj, err)
	}
	defer sub.Unsubscribe()

	msg := nats.NewMsg(p.cfg.ReqSubject)
	msg.Data = body
	msg.Header.Set(nats.MsgIdHdr, msgID)
	if _, err := p.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return nil, fmt.Errorf("worker: publishing request: %w", err)
	}

	waitCtx := ctx
	if p.cfg.PublishTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.cfg.PublishTimeout)
		defer cancel()
	}
	reply, err := sub.NextMsgWithContext(waitCtx)
	if err != nil {
		return nil, fmt.Errorf("worker: waiting for result on %s: %w", resultSubj, err)
	}

	var result schema.SpellResult
	if err := json.Unmarshal(reply.Data, &result); err != nil {
		return nil, fmt.Errorf("worker: decoding result: %w", err)
	}

	_ = p.nc.Publish("run.ack."+runID, nil)
	return &result, nil
}
