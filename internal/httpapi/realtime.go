package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/igm/sockjs-go/sockjs"

	"qms/frontdesk-service/internal/logging"
	"qms/frontdesk-service/internal/models"
)

// QueueWatcher streams ordered snapshots of one date's queue, passing the
// resolved date with each snapshot.
type QueueWatcher interface {
	WatchQueue(ctx context.Context, date string, fn func(string, []models.QueueEntry)) (func(), error)
}

// streamSession is the part of sockjs.Session the stream uses.
type streamSession interface {
	Recv() (string, error)
	Send(string) error
	Close(status uint32, reason string) error
}

type subscribeMessage struct {
	Action string `json:"action"`
	Date   string `json:"date"`
}

type queueSnapshot struct {
	Type    string              `json:"type"`
	Date    string              `json:"date"`
	Entries []models.QueueEntry `json:"entries"`
	SentAt  time.Time           `json:"sent_at"`
}

// QueueStream pushes the live queue to display boards over SockJS. Clients
// send {"action":"subscribe","date":"YYYY-MM-DD"} and receive a snapshot on
// every change. An empty date follows today across midnight, and every
// snapshot carries the date it belongs to.
type QueueStream struct {
	watcher QueueWatcher
}

func NewQueueStream(watcher QueueWatcher) *QueueStream {
	return &QueueStream{watcher: watcher}
}

func (s *QueueStream) Handler(prefix string) http.Handler {
	return sockjs.NewHandler(prefix, sockjs.DefaultOptions, func(session sockjs.Session) {
		s.serve(session)
	})
}

func (s *QueueStream) serve(session streamSession) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := logging.FromContext(ctx)

	out := make(chan []byte, 16)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-out:
				if err := session.Send(string(msg)); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	var stop func()
	defer func() {
		if stop != nil {
			stop()
		}
	}()

	for {
		raw, err := session.Recv()
		if err != nil {
			return
		}
		msg, ok := parseSubscribe(raw)
		if !ok {
			continue
		}
		if stop != nil {
			stop()
			stop = nil
		}
		if msg.Action == "unsubscribe" {
			continue
		}

		stop, err = s.watcher.WatchQueue(ctx, msg.Date, func(date string, entries []models.QueueEntry) {
			payload, err := json.Marshal(queueSnapshot{Type: "queue.snapshot", Date: date, Entries: entries, SentAt: time.Now().UTC()})
			if err != nil {
				return
			}
			select {
			case out <- payload:
			case <-ctx.Done():
			default:
				logger.Warn().Str("date", date).Msg("drop queue snapshot for slow client")
			}
		})
		if err != nil {
			_ = session.Close(4000, "invalid subscription")
			return
		}
	}
}

func parseSubscribe(raw string) (subscribeMessage, bool) {
	var msg subscribeMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return subscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return subscribeMessage{}, false
	}
	msg.Date = strings.TrimSpace(msg.Date)
	return msg, true
}
