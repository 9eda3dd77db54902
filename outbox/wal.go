package outbox

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ola-oye/VitaBand/errors"
	"github.com/ola-oye/VitaBand/message"
)

const (
	walName     = "outbox.wal"
	walTempName = "outbox.wal.compact"

	opEnqueue = "enq"
	opDone    = "done"
	opSeq     = "seq"
)

// walRecord is one line of the write-ahead log. Enqueue records carry the
// full entry; done records carry only the id and cover acknowledgement,
// eviction and supersession alike.
type walRecord struct {
	Op      string      `json:"op"`
	ID      uint64      `json:"id"`
	Topic   string      `json:"topic,omitempty"`
	QoS     message.QoS `json:"qos,omitempty"`
	Payload []byte      `json:"payload,omitempty"`
	TS      time.Time   `json:"ts,omitempty"`
}

// appendRecord writes one record followed by a newline and syncs the file.
// The sync before returning is what makes Enqueue durable.
func (o *Outbox) appendRecord(rec walRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.WrapFatal(err, "Outbox", "appendRecord", "encode record")
	}
	data = append(data, '\n')
	if _, err := o.file.Write(data); err != nil {
		return errors.WrapFatal(err, "Outbox", "appendRecord", "write record")
	}
	if err := o.file.Sync(); err != nil {
		return errors.WrapFatal(err, "Outbox", "appendRecord", "sync log")
	}
	return nil
}

// recover replays the log into memory. A torn final line is truncated away
// and logged; damage anywhere else means the store cannot be trusted and
// recovery fails with a fatal error.
func (o *Outbox) recover(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return errors.WrapFatal(err, "Outbox", "recover", "open log")
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return errors.WrapFatal(err, "Outbox", "recover", "stat log")
	}
	size := info.Size()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var offset int64
	lineStart := int64(0)
	for scanner.Scan() {
		line := scanner.Bytes()
		lineStart = offset
		offset += int64(len(line)) + 1

		if len(line) == 0 {
			continue
		}

		var rec walRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			// A torn write can only be the last line of the file
			if offset >= size {
				o.logger.Warn("Truncating torn record at log tail",
					"offset", lineStart)
				if err := f.Truncate(lineStart); err != nil {
					f.Close()
					return errors.WrapFatal(err, "Outbox", "recover", "truncate torn tail")
				}
				break
			}
			f.Close()
			return errors.WrapFatal(errors.ErrStorageCorrupted, "Outbox", "recover",
				fmt.Sprintf("undecodable record at offset %d", lineStart))
		}

		if err := o.apply(rec); err != nil {
			f.Close()
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		f.Close()
		return errors.WrapFatal(errors.ErrStorageCorrupted, "Outbox", "recover", "scan log")
	}

	if _, err := f.Seek(0, 2); err != nil {
		f.Close()
		return errors.WrapFatal(err, "Outbox", "recover", "seek to end")
	}
	o.file = f
	return nil
}

// apply folds one replayed record into memory state
func (o *Outbox) apply(rec walRecord) error {
	switch rec.Op {
	case opEnqueue:
		if rec.ID >= o.nextID {
			o.nextID = rec.ID + 1
		}
		if _, exists := o.entries[rec.ID]; exists {
			return errors.WrapFatal(errors.ErrStorageCorrupted, "Outbox", "recover",
				fmt.Sprintf("duplicate id %d", rec.ID))
		}
		entry := &Entry{
			ID:         rec.ID,
			Topic:      rec.Topic,
			QoS:        rec.QoS,
			Payload:    rec.Payload,
			EnqueuedAt: rec.TS,
		}
		o.entries[rec.ID] = entry
		o.queues[rec.Topic] = append(o.queues[rec.Topic], entry)
	case opDone:
		// Done for an id we no longer know is fine: compaction drops
		// settled pairs but replays can still see stray done records
		o.removeLocked(rec.ID)
		o.doneSinceCompact++
	case opSeq:
		// Sequence checkpoint written by compaction so ids never repeat
		// even when every entry was settled
		if rec.ID > o.nextID {
			o.nextID = rec.ID
		}
	default:
		return errors.WrapFatal(errors.ErrStorageCorrupted, "Outbox", "recover",
			fmt.Sprintf("unknown op %q", rec.Op))
	}
	return nil
}

// compact rewrites the log with only the still-pending entries and swaps it
// in atomically
func (o *Outbox) compact() error {
	tempPath := filepath.Join(o.dir, walTempName)
	temp, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrap(err, "Outbox", "compact", "create temp log")
	}

	writer := bufio.NewWriter(temp)
	seqData, err := json.Marshal(walRecord{Op: opSeq, ID: o.nextID})
	if err != nil {
		temp.Close()
		return errors.WrapFatal(err, "Outbox", "compact", "encode sequence checkpoint")
	}
	if _, err := writer.Write(append(seqData, '\n')); err != nil {
		temp.Close()
		return errors.Wrap(err, "Outbox", "compact", "write sequence checkpoint")
	}
	for _, topic := range o.topicOrder() {
		for _, entry := range o.queues[topic] {
			rec := walRecord{
				Op:      opEnqueue,
				ID:      entry.ID,
				Topic:   entry.Topic,
				QoS:     entry.QoS,
				Payload: entry.Payload,
				TS:      entry.EnqueuedAt,
			}
			data, err := json.Marshal(rec)
			if err != nil {
				temp.Close()
				return errors.WrapFatal(err, "Outbox", "compact", "encode record")
			}
			data = append(data, '\n')
			if _, err := writer.Write(data); err != nil {
				temp.Close()
				return errors.Wrap(err, "Outbox", "compact", "write temp log")
			}
		}
	}
	if err := writer.Flush(); err != nil {
		temp.Close()
		return errors.Wrap(err, "Outbox", "compact", "flush temp log")
	}
	if err := temp.Sync(); err != nil {
		temp.Close()
		return errors.Wrap(err, "Outbox", "compact", "sync temp log")
	}
	if err := temp.Close(); err != nil {
		return errors.Wrap(err, "Outbox", "compact", "close temp log")
	}

	path := filepath.Join(o.dir, walName)
	o.file.Close()
	if err := os.Rename(tempPath, path); err != nil {
		return errors.WrapFatal(err, "Outbox", "compact", "swap log")
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.WrapFatal(err, "Outbox", "compact", "reopen log")
	}
	o.file = f
	o.doneSinceCompact = 0
	o.logger.Info("Outbox log compacted", "pending", len(o.entries))
	return nil
}
