package debugger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dapbridge/dapbridge/pkg/logflags"
	"github.com/dapbridge/dapbridge/service/dap"
	"github.com/google/uuid"
)

// eventLog is the append-only JSONL record of one session: every frame
// exchanged with the adapter plus the bridge's own state transitions.
type eventLog struct {
	path    string
	session string
	log     logflags.Logger

	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

type eventRecord struct {
	TsMs      int64           `json:"ts_ms"`
	Session   string          `json:"session"`
	Direction string          `json:"direction"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
}

func openEventLog(dir string, pid int) (*eventLog, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("could not create log directory: %v", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("dap_session_%d_%d.jsonl", pid, time.Now().UnixMilli()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("could not open session log: %v", err)
	}
	return &eventLog{
		path:    path,
		session: uuid.New().String(),
		log:     logflags.SessionLogger(),
		f:       f,
		enc:     json.NewEncoder(f),
	}, nil
}

// Record implements dap.Sink.
func (l *eventLog) Record(direction, kind string, payload json.RawMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return
	}
	err := l.enc.Encode(eventRecord{
		TsMs:      time.Now().UnixMilli(),
		Session:   l.session,
		Direction: direction,
		Kind:      kind,
		Payload:   payload,
	})
	if err != nil {
		l.log.Warnf("writing session log: %v", err)
	}
}

// internal records a transition made by the bridge itself.
func (l *eventLog) internal(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	l.Record(dap.Internal, dap.KindOther, b)
}

func (l *eventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
