package sinks

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edgewatch/edgewatch/internal/domain"
	ewio "github.com/edgewatch/edgewatch/internal/io"
	"github.com/edgewatch/edgewatch/internal/router"
)

// FileSink appends deliveries to per-channel JSONL files under a
// directory, one line per payload. Useful for audit trails and replay.
type FileSink struct {
	mu  sync.Mutex
	dir string
}

func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

func (s *FileSink) Name() string { return "file" }

func (s *FileSink) Deliver(ctx context.Context, channel domain.Channel, op domain.Opportunity) bool {
	return s.append(channel, webhookPayload{
		Channel:     channel,
		SentAt:      time.Now().UTC(),
		Opportunity: &op,
	})
}

func (s *FileSink) DeliverGroup(ctx context.Context, channel domain.Channel, group router.Group) bool {
	return s.append(channel, webhookPayload{
		Channel: channel,
		SentAt:  time.Now().UTC(),
		Group:   &group,
	})
}

func (s *FileSink) append(channel domain.Channel, payload webhookPayload) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, string(channel)+".jsonl")
	if err := ewio.AppendJSONL(path, payload); err != nil {
		log.Error().Err(err).
			Str("path", path).
			Msg("failed to append delivery record")
		return false
	}
	return true
}
