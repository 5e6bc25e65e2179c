// Package ingestion implements the Ingestion Pipeline (C6): the
// coordinator that turns one raw sample into activity classification,
// detection, baseline learning, persistence, and republication.
//
// Grounded on wisefido-sensor-fusion/internal/consumer/stream_consumer.go
// for the bounded-channel-plus-worker-pool shape, generalized from
// Redis Streams polling to a broker-pushed callback, and on spec.md
// §5's sticky user_id-hash partitioning for per-subject FIFO.
package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"vitalguard/internal/apperr"
	"vitalguard/internal/baseline"
	"vitalguard/internal/detector"
	"vitalguard/internal/metrics"
	"vitalguard/internal/model"
)

// Store is the subset of internal/store.Store the pipeline needs.
type Store interface {
	InsertVitals(ctx context.Context, sample model.EnrichedSample) error
	InsertAlert(ctx context.Context, a model.Alert) error
}

// Publisher is the subset of internal/broker.Gateway the pipeline needs.
type Publisher interface {
	PublishVitals(v any) error
	PublishAlert(v any) error
}

const storeTimeout = 5 * time.Second

var nextAlertID = struct {
	mu sync.Mutex
	n  int64
}{}

func allocAlertID() int64 {
	nextAlertID.mu.Lock()
	defer nextAlertID.mu.Unlock()
	nextAlertID.n++
	return nextAlertID.n
}

// Pipeline owns the bounded per-partition work channels and worker
// goroutines.
type Pipeline struct {
	detectorCfg *detector.Config
	registry    *baseline.Registry
	store       Store
	publisher   Publisher
	logger      *zap.Logger
	metrics     *metrics.Registry

	channels []chan model.RawSample
	wg       sync.WaitGroup
}

// New constructs a Pipeline with workerCount partitions, each backed
// by a channel of queueCapacity/workerCount capacity (spec.md §5:
// "bounded work channel (capacity ≈ 1024) to a small pool (4-8) of
// ingestion workers").
func New(workerCount, queueCapacity int, detectorCfg *detector.Config, registry *baseline.Registry, store Store, publisher Publisher, logger *zap.Logger, reg *metrics.Registry) *Pipeline {
	if workerCount < 1 {
		workerCount = 1
	}
	perChannel := queueCapacity / workerCount
	if perChannel < 1 {
		perChannel = 1
	}

	p := &Pipeline{
		detectorCfg: detectorCfg,
		registry:    registry,
		store:       store,
		publisher:   publisher,
		logger:      logger,
		metrics:     reg,
		channels:    make([]chan model.RawSample, workerCount),
	}
	for i := range p.channels {
		p.channels[i] = make(chan model.RawSample, perChannel)
	}
	return p
}

// Start launches one worker goroutine per partition. Each worker owns
// its channel exclusively, so FIFO within a partition (and therefore
// within a user_id, which is sticky-hashed to one partition) falls
// out of ordinary single-consumer channel semantics.
func (p *Pipeline) Start(ctx context.Context) {
	for i, ch := range p.channels {
		p.wg.Add(1)
		go p.worker(ctx, i, ch)
	}
}

// Stop closes every partition channel and waits for in-flight samples
// to drain, per spec.md §5's shutdown contract.
func (p *Pipeline) Stop() {
	for _, ch := range p.channels {
		close(ch)
	}
	p.wg.Wait()
}

func (p *Pipeline) partitionFor(userID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return int(h.Sum32() % uint32(len(p.channels)))
}

// Ingest parses and validates one raw payload, then enqueues it on
// its sticky partition. It blocks if that partition's channel is
// full — spec.md §5 forbids in-process drops on backpressure.
func (p *Pipeline) Ingest(ctx context.Context, payload []byte) error {
	p.metrics.MessagesProcessed.Inc()

	var sample model.RawSample
	if err := json.Unmarshal(payload, &sample); err != nil {
		p.metrics.MessagesDropped.WithLabelValues("unparseable").Inc()
		return apperr.Wrap(apperr.ErrParse, err)
	}
	if sample.Timestamp.IsZero() {
		p.metrics.MessagesDropped.WithLabelValues("missing_timestamp").Inc()
		return apperr.Wrap(apperr.ErrParse, fmt.Errorf("missing or unparseable timestamp"))
	}
	if sample.UserID == "" {
		sample.UserID = "default"
	}

	p.metrics.MessagesParsed.Inc()

	idx := p.partitionFor(sample.UserID)
	select {
	case p.channels[idx] <- sample:
		p.metrics.QueueDepth.Set(float64(len(p.channels[idx])))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) worker(ctx context.Context, id int, ch chan model.RawSample) {
	defer p.wg.Done()
	for sample := range ch {
		p.process(ctx, sample)
	}
}

// process runs one sample through steps 2-7 of spec.md §4.6. Steps
// 5-7 (persist vitals, persist+publish alerts, publish enriched
// sample) are independent best-effort operations: a failure in one
// never blocks the others.
func (p *Pipeline) process(ctx context.Context, raw model.RawSample) {
	enriched := model.EnrichedSample{
		RawSample:     raw,
		ActivityLevel: model.ClassifyActivity(raw.Activity),
	}

	classifier, _ := p.detectorCfg.Current()
	alerts := classifier.Classify(enriched)

	flagged := make(map[model.Parameter]bool, len(alerts))
	for _, a := range alerts {
		flagged[a.Parameter] = true
	}
	for _, param := range model.VitalParameters {
		if flagged[param] {
			continue
		}
		if value, present := raw.Value(param); present {
			p.registry.Update(raw.UserID, enriched.ActivityLevel, param, value)
		}
	}

	storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	if err := p.store.InsertVitals(storeCtx, enriched); err != nil {
		p.metrics.StoreErrors.WithLabelValues("insert_vitals").Inc()
		p.logger.Warn("insert vitals failed", zap.Error(err), zap.String("user_id", raw.UserID))
	}

	for i := range alerts {
		alerts[i].ID = allocAlertID()
		alerts[i].Timestamp = raw.Timestamp
		alerts[i].UserID = raw.UserID

		if err := p.store.InsertAlert(storeCtx, alerts[i]); err != nil {
			p.metrics.StoreErrors.WithLabelValues("insert_alert").Inc()
			p.logger.Warn("insert alert failed", zap.Error(err), zap.String("user_id", raw.UserID))
		}
		p.metrics.AlertsEmitted.WithLabelValues(string(alerts[i].Severity)).Inc()
		if err := p.publisher.PublishAlert(alerts[i]); err != nil {
			p.logger.Warn("publish alert failed", zap.Error(err), zap.String("user_id", raw.UserID))
		}
	}

	if err := p.publisher.PublishVitals(enriched); err != nil {
		p.logger.Warn("publish enriched sample failed", zap.Error(err), zap.String("user_id", raw.UserID))
	}
}
