package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kirillkom/retrieval-pipeline/internal/core/domain"
	"github.com/kirillkom/retrieval-pipeline/internal/infrastructure/resilience"
	"github.com/nats-io/nats.go"
)

// Subjects of the retrieval worker. Requests are load-balanced across the
// worker queue group; feedback and invalidation fan out to every worker
// because cache and memory state live per process.
const (
	SubjectRetrievalRequest = "retrieval.query.request"
	SubjectFeedback         = "retrieval.feedback"
	SubjectChunkInvalidated = "retrieval.chunk.invalidated"

	requestQueueGroup = "workers"
)

type Queue struct {
	conn     *nats.Conn
	executor *resilience.Executor
	logger   *slog.Logger
}

func New(url string) (*Queue, error) {
	return NewWithOptions(url, Options{})
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func NewWithOptions(url string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("retrieval-pipeline"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		executor: options.ResilienceExecutor,
		logger:   logger,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// Healthy reports whether the broker connection is currently up.
func (q *Queue) Healthy() error {
	if q.conn == nil || !q.conn.IsConnected() {
		return errors.New("nats connection down")
	}
	return nil
}

type retrievalReply struct {
	Result *domain.RetrievalResult `json:"result,omitempty"`
	Error  string                  `json:"error,omitempty"`
}

// SubscribeRetrievalRequests serves the request-reply subject until the
// context is canceled. Each message runs in its own goroutine; retrieval can
// take seconds and replies must not queue behind each other.
func (q *Queue) SubscribeRetrievalRequests(ctx context.Context, handler func(context.Context, domain.RetrievalRequest) (*domain.RetrievalResult, error)) error {
	sub, err := q.conn.QueueSubscribe(SubjectRetrievalRequest, requestQueueGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		go q.serveRetrievalRequest(ctx, msg, handler)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe requests: %w", err)
	}
	return q.holdSubscription(ctx, sub)
}

func (q *Queue) serveRetrievalRequest(ctx context.Context, msg *nats.Msg, handler func(context.Context, domain.RetrievalRequest) (*domain.RetrievalResult, error)) {
	handlerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var request domain.RetrievalRequest
	if err := json.Unmarshal(msg.Data, &request); err != nil {
		q.logger.Warn("malformed retrieval request", "error", err)
		q.reply(msg, retrievalReply{Error: fmt.Sprintf("malformed request: %v", err)})
		return
	}

	result, err := handler(handlerCtx, request)
	if err != nil {
		q.logger.Warn("retrieval handler failed", "query", request.Query, "error", err)
		q.reply(msg, retrievalReply{Error: err.Error()})
		return
	}
	q.reply(msg, retrievalReply{Result: result})
}

func (q *Queue) reply(msg *nats.Msg, reply retrievalReply) {
	if msg.Reply == "" {
		return
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		q.logger.Warn("marshal retrieval reply failed", "error", err)
		return
	}
	if err := msg.Respond(payload); err != nil {
		q.logger.Warn("respond failed", "error", err)
	}
}

func (q *Queue) PublishFeedback(ctx context.Context, event domain.FeedbackEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal feedback event: %w", err)
	}
	return q.publish(ctx, SubjectFeedback, payload)
}

// SubscribeFeedback delivers feedback events to this worker. No queue group:
// every worker folds feedback into its own memory state.
func (q *Queue) SubscribeFeedback(ctx context.Context, handler func(context.Context, domain.FeedbackEvent) error) error {
	sub, err := q.conn.Subscribe(SubjectFeedback, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		var event domain.FeedbackEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			q.logger.Warn("malformed feedback event dropped", "error", err)
			return
		}
		if err := handler(handlerCtx, event); err != nil {
			q.logger.Warn("feedback handler failed", "event_id", event.EventID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe feedback: %w", err)
	}
	return q.holdSubscription(ctx, sub)
}

// PublishChunkInvalidated announces that a chunk changed. The payload is the
// bare chunk id.
func (q *Queue) PublishChunkInvalidated(ctx context.Context, chunkID string) error {
	if chunkID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "publish invalidation", fmt.Errorf("empty chunk id"))
	}
	return q.publish(ctx, SubjectChunkInvalidated, []byte(chunkID))
}

func (q *Queue) SubscribeChunkInvalidated(ctx context.Context, handler func(context.Context, string) error) error {
	sub, err := q.conn.Subscribe(SubjectChunkInvalidated, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		chunkID := string(msg.Data)
		if err := handler(handlerCtx, chunkID); err != nil {
			q.logger.Warn("invalidation handler failed", "chunk_id", chunkID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe invalidation: %w", err)
	}
	return q.holdSubscription(ctx, sub)
}

func (q *Queue) publish(ctx context.Context, subject string, payload []byte) error {
	call := func(_ context.Context) error {
		if err := q.conn.Publish(subject, payload); err != nil {
			return fmt.Errorf("nats publish %s: %w", subject, err)
		}
		return nil
	}

	var err error
	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// holdSubscription keeps a subscription alive until the context ends, then
// drains it so in-flight messages finish before shutdown.
func (q *Queue) holdSubscription(ctx context.Context, sub *nats.Subscription) error {
	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}
