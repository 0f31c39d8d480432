package events

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7/pkg/notification"
	"go.uber.org/zap"

	"github.com/CodingDoug/universal-translator/internal/pipeline"
)

var (
	createdPrefix = strings.TrimSuffix(string(notification.ObjectCreatedAll), "*")
	removedPrefix = strings.TrimSuffix(string(notification.ObjectRemovedAll), "*")

	// created events that only touch object metadata, not its content
	metadataOnly = map[string]bool{
		string(notification.ObjectCreatedPutTagging):    true,
		string(notification.ObjectCreatedDeleteTagging): true,
		string(notification.ObjectCreatedPutRetention):  true,
		string(notification.ObjectCreatedPutLegalHold):  true,
	}
)

// BlobHandler reacts to blob store events.
type BlobHandler interface {
	OnBlobFinalize(ctx context.Context, obj pipeline.ObjectMeta) error
	OnBlobDelete(ctx context.Context, obj pipeline.ObjectMeta) error
}

// Dispatcher routes bucket notifications to a BlobHandler, giving every
// event its own deadline.
type Dispatcher struct {
	handler BlobHandler
	timeout time.Duration
	logger  *zap.Logger
}

func NewDispatcher(handler BlobHandler, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{handler: handler, timeout: timeout, logger: logger}
}

func (d *Dispatcher) Dispatch(ctx context.Context, ev notification.Event) error {
	// keys arrive URL-encoded in S3 notifications
	key, err := url.QueryUnescape(ev.S3.Object.Key)
	if err != nil {
		return fmt.Errorf("decode object key %q: %w", ev.S3.Object.Key, err)
	}
	obj := pipeline.ObjectMeta{Bucket: ev.S3.Bucket.Name, Name: key}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	switch {
	case metadataOnly[ev.EventName]:
		d.logger.Debug("ignoring metadata event", zap.String("event", ev.EventName), zap.String("object", key))
		return nil
	case strings.HasPrefix(ev.EventName, createdPrefix):
		return d.handler.OnBlobFinalize(ctx, obj)
	case strings.HasPrefix(ev.EventName, removedPrefix):
		return d.handler.OnBlobDelete(ctx, obj)
	default:
		d.logger.Debug("ignoring bucket event", zap.String("event", ev.EventName), zap.String("object", key))
		return nil
	}
}
