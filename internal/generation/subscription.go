package generation

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/p-n-ai/pai-learn/internal/outline"
)

// BlockUpdate is one message on the content service's update feed: blocks
// for a lesson finished generating server-side and are being pushed
// without a client request in flight.
type BlockUpdate struct {
	CourseID string          `json:"course_id"`
	LessonID string          `json:"lesson_id"`
	Blocks   []outline.Block `json:"blocks"`
}

// Feed consumes the content service's websocket update feed and hands
// each block update to a handler, which routes it to the owning course's
// coordinator.
type Feed struct {
	url     string
	handler func(BlockUpdate)
}

// NewFeed creates a feed consumer for the given websocket URL.
func NewFeed(url string, handler func(BlockUpdate)) *Feed {
	return &Feed{url: url, handler: handler}
}

// Run consumes the feed until ctx is cancelled, reconnecting with backoff
// after connection failures.
func (f *Feed) Run(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = time.Minute

	for {
		err := f.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		slog.Warn("update feed disconnected, reconnecting",
			"url", f.url,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (f *Feed) consume(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	slog.Info("update feed connected", "url", f.url)

	for {
		var update BlockUpdate
		if err := wsjson.Read(ctx, conn, &update); err != nil {
			return err
		}
		if update.CourseID == "" || update.LessonID == "" {
			continue
		}
		f.handler(update)
	}
}
