package telemetry

import (
	"fmt"
	"log"
	"os"
)

// LogEmitter writes one line per Event to an underlying *log.Logger. It is
// the default emitter for the demo binary and for tests that want visible
// output without standing up an OTel collector.
type LogEmitter struct {
	logger *log.Logger
}

// NewLogEmitter wraps l, or a logger writing to os.Stderr with no prefix if
// l is nil.
func NewLogEmitter(l *log.Logger) *LogEmitter {
	if l == nil {
		l = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
	}
	return &LogEmitter{logger: l}
}

func (e *LogEmitter) Emit(ev Event) {
	msg := ev.Message
	if msg == "" {
		msg = string(ev.Type)
	}
	e.logger.Printf("[%s] org=%s exec=%s node=%s %s %s",
		ev.Type, ev.OrgID, ev.ExecutionID, ev.NodeID, msg, formatFields(ev.Fields))
}

func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	out := ""
	for k, v := range fields {
		out += fmt.Sprintf("%s=%v ", k, v)
	}
	return out
}
