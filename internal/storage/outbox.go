package storage

import (
	"encoding/json"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Outbox is an append-only, size-rotated local journal for records that
// could not be durably written on the first attempt (Budget Controller
// record failures, SIEM Forwarder final batch failures). It is grounded on
// the teacher corpus's use of gopkg.in/natefinch/lumberjack.v2 for rotated
// local log files; here the "log" is a replay queue rather than
// human-readable text.
type Outbox struct {
	mu  sync.Mutex
	log *lumberjack.Logger
}

// NewOutbox opens (creating if absent) a rotated outbox file at path.
func NewOutbox(path string) *Outbox {
	return &Outbox{log: &lumberjack.Logger{
		Filename:   path,
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}}
}

// Append writes one JSON-encoded record as a line, for later replay.
func (o *Outbox) Append(record interface{}) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	o.mu.Lock()
	defer o.mu.Unlock()
	_, err = o.log.Write(data)
	return err
}

// Close flushes and closes the underlying file.
func (o *Outbox) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.log.Close()
}
