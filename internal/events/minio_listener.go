package events

import (
	"context"
	"sync"
	"time"

	"github.com/minio/minio-go/v7/pkg/notification"
	"go.uber.org/zap"
)

type NotificationSource interface {
	ListenUploads(ctx context.Context) <-chan notification.Info
}

// MinioListener receives bucket notifications straight from the MinIO
// server, for deployments without a Kafka notification target.
type MinioListener struct {
	source     NotificationSource
	dispatcher *Dispatcher
	logger     *zap.Logger
	retryDelay time.Duration
}

func NewMinioListener(source NotificationSource, dispatcher *Dispatcher, logger *zap.Logger) *MinioListener {
	return &MinioListener{
		source:     source,
		dispatcher: dispatcher,
		logger:     logger.With(zap.String("component", "minio_listener")),
		retryDelay: time.Second,
	}
}

// Start listens until ctx is cancelled, reopening the notification stream
// whenever the server closes it. Each event is handled on its own goroutine;
// Start waits for in-flight handlers before returning.
func (l *MinioListener) Start(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	l.logger.Info("minio listener started")
	for {
		for info := range l.source.ListenUploads(ctx) {
			if info.Err != nil {
				l.logger.Warn("bucket notification error", zap.Error(info.Err))
				continue
			}
			for _, ev := range info.Records {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := l.dispatcher.Dispatch(ctx, ev); err != nil {
						l.logger.Error("handle bucket event",
							zap.String("event", ev.EventName),
							zap.String("object", ev.S3.Object.Key),
							zap.Error(err),
						)
					}
				}()
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryDelay):
			l.logger.Info("reopening bucket notification stream")
		}
	}
}
