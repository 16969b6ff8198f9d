// Package contentflow announces that a user's visit to a ready weblink can feed
// downstream content generation.
package contentflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/weblink-backend/internal/domain/weblink"
	"github.com/yungbote/weblink-backend/internal/platform/ctxutil"
	"github.com/yungbote/weblink-backend/internal/platform/logger"
)

const DefaultChannel = "weblink:content_flow"

// Event is published once per processed user visit.
type Event struct {
	UserID        string               `json:"userId"`
	URL           string               `json:"url"`
	LinkID        string               `json:"linkId"`
	Title         string               `json:"title,omitempty"`
	VisitTimes    int                  `json:"visitTimes"`
	TotalReadTime int64                `json:"totalReadTime"`
	LastVisitTime time.Time            `json:"lastVisitTime"`
	ContentMeta   *weblink.ContentMeta `json:"contentMeta,omitempty"`
	TraceID       string               `json:"traceId,omitempty"`
}

// NewEvent builds the event for a visit to w. The document may be nil.
func NewEvent(ctx context.Context, visit *weblink.UserWeblink, w *weblink.Weblink, doc *weblink.Document) Event {
	ev := Event{}
	if visit != nil {
		ev.UserID = visit.UserID
		ev.URL = visit.URL
		ev.VisitTimes = visit.VisitTimes
		ev.TotalReadTime = visit.TotalReadTime
		ev.LastVisitTime = visit.LastVisitTime
	}
	if w != nil {
		ev.URL = w.URL
		ev.LinkID = w.LinkID
		if w.HasContentMeta() {
			var meta weblink.ContentMeta
			if err := json.Unmarshal(w.ContentMeta, &meta); err == nil {
				ev.ContentMeta = &meta
			}
		}
	}
	if doc != nil {
		ev.Title = doc.Metadata.Title
	}
	if td := ctxutil.GetTraceData(ctx); td != nil {
		ev.TraceID = td.TraceID
	}
	return ev
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type RedisPublisher struct {
	log     *logger.Logger
	rdb     goredis.UniversalClient
	channel string
}

func NewRedisPublisher(log *logger.Logger, rdb goredis.UniversalClient, channel string) (*RedisPublisher, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{
		log:     log.With("service", "ContentFlowPublisher"),
		rdb:     rdb,
		channel: channel,
	}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, p.channel, raw).Err(); err != nil {
		return fmt.Errorf("publish content flow: %w", err)
	}
	p.log.Debug("Content flow published", "url", ev.URL, "user_id", ev.UserID)
	return nil
}

// Subscribe delivers events from the channel to onEvent until ctx is done. It
// returns once the subscription is confirmed.
func (p *RedisPublisher) Subscribe(ctx context.Context, onEvent func(Event)) error {
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}
	sub := p.rdb.Subscribe(ctx, p.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					p.log.Warn("Bad content flow payload", "error", err)
					continue
				}
				onEvent(ev)
			}
		}
	}()
	return nil
}

// LogPublisher only logs. It is used when no Redis is configured.
type LogPublisher struct {
	log *logger.Logger
}

func NewLogPublisher(log *logger.Logger) *LogPublisher {
	return &LogPublisher{log: log.With("service", "ContentFlowPublisher")}
}

func (p *LogPublisher) Publish(_ context.Context, ev Event) error {
	p.log.Info("Content flow ready", "url", ev.URL, "user_id", ev.UserID, "visit_times", ev.VisitTimes)
	return nil
}
