// Package worker implements the durable message worker of spec.md §4.7: a
// pull-based JetStream consumer with server-side duplicate-window dedupe,
// a client-side DedupeRing, the shared request/grade/evaluate/execute
// pipeline, result publication, and periodic metrics.
package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/magicrune/magicrune/internal/executor"
	"github.com/magicrune/magicrune/internal/obslog"
	"github.com/magicrune/magicrune/internal/pipeline"
	"github.com/magicrune/magicrune/internal/quarantine"
	"github.com/magicrune/magicrune/internal/schema"
)

// Worker owns a JetStream pull consumer, the dedupe ring, the ledger and the
// metrics counters, per spec §5's "Shared resources" note: none of these are
// shared across requests outside the loop, so no locks are required beyond
// the ledger's own.
type Worker struct {
	cfg     Config
	nc      *nats.Conn
	js      nats.JetStreamContext
	sub     *nats.Subscription
	ring    *DedupeRing
	ledger  Ledger
	metrics *Metrics
	qwriter *quarantine.Writer
	log     *obslog.Logger
	pol     *schema.PolicyDoc
	exec    executor.Executor

	// skipAckOnce holds run_ids for which the next ack should be omitted,
	// exercising the broker-redelivery scenario spec.md §4.7 step 8 and the
	// test properties in its Scenario G describe. Test-only.
	skipAckOnce map[string]bool
}

// Option configures a Worker at construction time.
type Option func(*Worker)

// WithSkipAckOnce arranges for the next ack of runID to be omitted, for
// exercising broker redelivery in tests.
func WithSkipAckOnce(runID string) Option {
	return func(w *Worker) { w.skipAckOnce[runID] = true }
}

// New connects to the broker, ensures the stream and durable consumer exist,
// and returns a ready-to-run Worker.
func New(cfg Config, pol *schema.PolicyDoc, exec executor.Executor, log *obslog.Logger, reg *Metrics, opts ...Option) (*Worker, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("worker: connecting to %s: %w", cfg.URL, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("worker: acquiring jetstream context: %w", err)
	}

	w := &Worker{
		cfg:         cfg,
		nc:          nc,
		js:          js,
		ring:        NewDedupeRing(cfg.DedupeMax),
		ledger:      NewInMemoryLedger(),
		metrics:     reg,
		qwriter:     quarantine.New(cfg.QuarantineDir),
		log:         log,
		pol:         pol,
		exec:        exec,
		skipAckOnce: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := w.ensureStreamAndConsumer(); err != nil {
		nc.Close()
		return nil, err
	}

	sub, err := js.PullSubscribe(cfg.ReqSubject, cfg.Durable,
		nats.MaxAckPending(cfg.MaxAckPending),
		nats.AckWait(cfg.AckWait),
		nats.ManualAck(),
	)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("worker: creating pull subscription: %w", err)
	}
	w.sub = sub

	return w, nil
}

func (w *Worker) ensureStreamAndConsumer() error {
	if _, err := w.js.StreamInfo(w.cfg.Stream); err != nil {
		if _, err := w.js.AddStream(&nats.StreamConfig{
			Name:       w.cfg.Stream,
			Subjects:   []string{"run.req.>"},
			Retention:  nats.LimitsPolicy,
			Storage:    nats.FileStorage,
			Duplicates: w.cfg.DupWindow,
		}); err != nil {
			return fmt.Errorf("worker: ensuring stream %s: %w", w.cfg.Stream, err)
		}
	}

	_, err := w.js.AddConsumer(w.cfg.Stream, &nats.ConsumerConfig{
		Durable:       w.cfg.Durable,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       w.cfg.AckWait,
		MaxAckPending: w.cfg.MaxAckPending,
		MaxDeliver:    w.cfg.MaxDeliver,
	})
	if err != nil {
		return fmt.Errorf("worker: ensuring durable consumer %s: %w", w.cfg.Durable, err)
	}
	return nil
}

func errField(err error) zap.Field { return zap.Error(err) }

// Close drains the broker connection.
func (w *Worker) Close() {
	w.nc.Close()
}

// Run pulls messages in batches of batchSize until ctx is done, applying the
// ten-step per-message loop of spec.md §4.7.
func (w *Worker) Run(ctx context.Context, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 10
	}
	processedSinceFlush := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgs, err := w.sub.Fetch(batchSize, nats.Context(ctx))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err == nats.ErrTimeout {
				continue
			}
			w.log.Error("fetch failed", errField(err))
			continue
		}

		for _, msg := range msgs {
			w.handleMessage(ctx, msg)
			processedSinceFlush++
			if w.cfg.MetricsEvery > 0 && processedSinceFlush >= w.cfg.MetricsEvery {
				if err := w.metrics.Flush(w.cfg.MetricsFile, w.cfg.MetricsTextfile); err != nil {
					w.log.Error("metrics flush failed", errField(err))
				}
				processedSinceFlush = 0
			}
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg *nats.Msg) {
	// 2. Compute msg_id: header Nats-Msg-Id, else SHA-256(payload) hex.
	msgID := msg.Header.Get(nats.MsgIdHdr)
	if msgID == "" {
		sum := sha256.Sum256(msg.Data)
		msgID = hex.EncodeToString(sum[:])
	}

	// 3. Dedupe.
	if w.ring.Contains(msgID) {
		w.metrics.IncDupe()
		_ = msg.Ack()
		return
	}
	// 4. Insert into ring.
	w.ring.Insert(msgID)

	// 5. Parse request; malformed payloads ack without redelivery.
	var req schema.SpellRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		_ = msg.Ack()
		return
	}

	// 6. Derive run_id, run the pipeline.
	res, err := pipeline.Run(ctx, msg.Data, &req, w.pol, w.exec)
	w.metrics.IncProcessed()
	if res.Outcome.Verdict == schema.VerdictRed || res.Violation != nil {
		w.metrics.IncRed()
		result := pipeline.ToSpellResult(res)
		if qerr := w.qwriter.Persist(res.RunID, result, res.Sandbox.Stdout, res.Sandbox.Stderr); qerr != nil {
			w.log.Error("quarantine persist failed", errField(qerr))
		}
	}
	if err != nil {
		w.log.Error("pipeline run failed", errField(err))
	}

	w.ledger.Put(RunRecord{
		RunID:     res.RunID,
		Verdict:   string(res.Outcome.Verdict),
		RiskScore: res.Outcome.RiskScore,
		ExitCode:  pipeline.ExitCode(res),
	})

	// 7. Publish SpellResult JSON on run.res.<run_id>.
	result := pipeline.ToSpellResult(res)
	body, merr := json.Marshal(result)
	if merr != nil {
		w.log.Error("marshaling result failed", errField(merr))
	} else if perr := w.nc.Publish("run.res."+res.RunID, body); perr != nil {
		w.log.Error("publishing result failed", errField(perr))
	}

	// 8. Ack, unless a test directive wants this run_id's ack skipped once.
	if w.skipAckOnce[res.RunID] {
		delete(w.skipAckOnce, res.RunID)
	} else {
		_ = msg.Ack()
	}

	// 9. Best-effort wait for the publisher's ack-ack.
	ackSub, err := w.nc.SubscribeSync("run.ack." + res.RunID)
	if err == nil {
		ackCtx, cancel := context.WithTimeout(ctx, w.cfg.AckAckWait)
		_, _ = ackSub.NextMsgWithContext(ackCtx)
		cancel()
		_ = ackSub.Unsubscribe()
	}
}
