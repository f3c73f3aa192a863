package ingestion

import (
	"CoverLedger/internal/core"
	"CoverLedger/internal/event"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnknownCommand: the command name is not one the core handles.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrInvalidCommand: the body could not be parsed into the command.
	ErrInvalidCommand = errors.New("invalid command")
)

// Submitter hands a typed command to the core and returns its verdict.
type Submitter interface {
	Submit(ctx context.Context, evt event.Event) (core.Outcome, error)
}

// IngestService injects admin and manual commands. It is not the
// high-throughput path (use NATS for that).
type IngestService struct {
	submitter Submitter
	now       func() time.Time
}

func NewIngestService(submitter Submitter) *IngestService {
	return &IngestService{submitter: submitter, now: time.Now}
}

// Inject parses the JSON body of the named command and submits it.
// A missing command_id gets a random one and a missing timestamp_us the
// current time; both are fixed before the core sees the command.
func (s *IngestService) Inject(ctx context.Context, name string, body []byte) (event.Event, core.Outcome, error) {
	if _, ok := event.ParseEventType(name); !ok {
		return nil, core.Outcome{}, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}

	filled, err := s.fillDefaults(body)
	if err != nil {
		return nil, core.Outcome{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	evt, err := ParseCommand(name, filled)
	if err != nil {
		return nil, core.Outcome{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	out, err := s.submitter.Submit(ctx, evt)
	return evt, out, err
}

func (s *IngestService) fillDefaults(body []byte) ([]byte, error) {
	fields := make(map[string]json.RawMessage)
	if len(body) > 0 {
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, fmt.Errorf("parse body: %w", err)
		}
	}
	if _, ok := fields["command_id"]; !ok {
		fields["command_id"], _ = json.Marshal("manual-" + uuid.NewString())
	}
	if _, ok := fields["timestamp_us"]; !ok {
		fields["timestamp_us"], _ = json.Marshal(s.now().UnixMicro())
	}
	return json.Marshal(fields)
}
