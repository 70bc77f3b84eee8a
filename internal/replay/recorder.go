package replay

import (
	"fmt"
	"io"
	"sync"
)

// Recorder appends one entry per simulated tick, synchronously with the
// authoritative step. It is written by exactly one goroutine, the owning
// room's loop, but guarded so diagnostics can read it safely.
type Recorder struct {
	mu         sync.Mutex
	writer     *Writer
	closer     io.Closer
	header     Header
	entries    []Entry
	flushEvery int
	unflushed  int
	finished   bool
}

// NewRecorder starts a recording. flushEvery bounds how many appended entries
// may sit in the write buffer before a flush; zero flushes on every append.
func NewRecorder(w io.WriteCloser, header Header, flushEvery int) (*Recorder, error) {
	header.FileType = FileType
	writer, err := NewWriter(w, header)
	if err != nil {
		return nil, err
	}
	if err := writer.Flush(); err != nil {
		return nil, fmt.Errorf("replay: flush header: %w", err)
	}
	if flushEvery < 0 {
		flushEvery = 0
	}
	return &Recorder{
		writer:     writer,
		closer:     w,
		header:     header,
		flushEvery: flushEvery,
	}, nil
}

// Record appends the entry for one tick. Entries with no joins, leaves, or
// frames are skipped; replay synthesizes the empty steps. Never drops or
// reorders: an append failure is surfaced so the room can stop recording
// loudly instead of silently losing fidelity.
func (r *Recorder) Record(entry Entry) error {
	if len(entry.Joins) == 0 && len(entry.Leaves) == 0 && len(entry.Frames) == 0 && !entry.End {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return fmt.Errorf("replay: record after finish (tick %d)", entry.Tick)
	}
	if err := r.writer.Append(entry); err != nil {
		return err
	}
	r.entries = append(r.entries, entry)
	r.unflushed++
	if r.unflushed > r.flushEvery {
		if err := r.writer.Flush(); err != nil {
			return fmt.Errorf("replay: flush: %w", err)
		}
		r.unflushed = 0
	}
	return nil
}

// Finish writes the end marker for the final tick, flushes, and closes the
// underlying stream. The recorder accepts nothing afterwards.
func (r *Recorder) Finish(finalTick uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return nil
	}
	r.finished = true
	end := Entry{Tick: finalTick, End: true}
	if err := r.writer.Append(end); err != nil {
		return err
	}
	r.entries = append(r.entries, end)
	if err := r.writer.Flush(); err != nil {
		return fmt.Errorf("replay: flush: %w", err)
	}
	if r.closer != nil {
		if err := r.closer.Close(); err != nil {
			return fmt.Errorf("replay: close: %w", err)
		}
	}
	return nil
}

// Log returns a copy of everything recorded so far.
func (r *Recorder) Log() *Log {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &Log{
		Header:  r.header,
		Entries: append([]Entry(nil), r.entries...),
	}
}
