package transport

import (
	"context"

	"github.com/yanun0323/logs"

	"poscheck/internal/schema"
)

// LogWriter emits payloads to the process log.
type LogWriter struct {
	toggler
}

func (w *LogWriter) Initialize(cfg Config) error {
	w.fc = cfg.Failover
	return nil
}

func (w *LogWriter) Emit(_ context.Context, p schema.Payload) error {
	logs.Infof("emit %s uid=%s %s", p.PayloadType, p.UID, p.Payload)
	return nil
}

func (w *LogWriter) Close() error { return nil }
