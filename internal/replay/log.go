// Package replay records and replays the exact input sequence of a match.
// A log plus the engine build that wrote it reconstructs the match
// byte-for-byte; nothing else is persisted per tick.
package replay

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"airlock/server/internal/sim"
)

// FileType tags the header line of every replay file. The header line is the
// only part of the format that stays backward and forward compatible.
const FileType = "airlock replay"

// ErrVersionMismatch reports a replay recorded by a different engine build.
// Playback never proceeds on a mismatch; a silently divergent replay is worse
// than a refused one.
var ErrVersionMismatch = errors.New("replay: engine build does not match recording")

// ErrNotReplay reports a stream that is not a replay file at all.
var ErrNotReplay = errors.New("replay: not a replay file")

// TruncationError reports a corrupt or truncated log. Tick is the last
// consistent tick; entries up to it remain usable.
type TruncationError struct {
	Tick uint64
	Err  error
}

func (e *TruncationError) Error() string {
	return fmt.Sprintf("replay: log truncated after tick %d: %v", e.Tick, e.Err)
}

func (e *TruncationError) Unwrap() error { return e.Err }

// Header is the first line of a replay file.
type Header struct {
	FileType string       `json:"fileType"`
	Version  string       `json:"version"`
	MatchID  string       `json:"matchId"`
	Seed     uint64       `json:"seed"`
	Settings sim.Settings `json:"settings"`
}

// JoinEvent records a player entering the lobby. Joins are part of the log
// because spawn positions draw from the state RNG.
type JoinEvent struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
}

// Entry holds everything that happened at one tick. Ticks without joins,
// leaves, or frames are omitted from the log; replay synthesizes the empty
// steps in between. End marks the final tick of the match.
type Entry struct {
	Tick   uint64           `json:"tick"`
	Joins  []JoinEvent      `json:"joins,omitempty"`
	Leaves []string         `json:"leaves,omitempty"`
	Frames []sim.InputFrame `json:"frames,omitempty"`
	End    bool             `json:"end,omitempty"`
}

// Log is a fully parsed replay: the header plus the ordered entries.
type Log struct {
	Header  Header
	Entries []Entry
}

// Length reports the final tick covered by the log.
func (l *Log) Length() uint64 {
	if l == nil || len(l.Entries) == 0 {
		return 0
	}
	return l.Entries[len(l.Entries)-1].Tick
}

// Writer streams a replay to the underlying writer, one JSON line per entry.
// Entries must arrive in strictly increasing tick order; the writer is the
// single owner of the stream and never reorders.
type Writer struct {
	inner    *bufio.Writer
	lastTick uint64
	wrote    bool
}

// NewWriter emits the header line and returns a writer for the entries.
func NewWriter(w io.Writer, header Header) (*Writer, error) {
	header.FileType = FileType
	buffered := bufio.NewWriter(w)
	line, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("replay: marshal header: %w", err)
	}
	if _, err := buffered.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("replay: write header: %w", err)
	}
	return &Writer{inner: buffered}, nil
}

// Append writes one entry. Out-of-order ticks are a programming error on the
// recording side and are rejected rather than written. An end marker may
// share the tick of the last frames entry.
func (w *Writer) Append(entry Entry) error {
	if w.wrote && entry.Tick < w.lastTick {
		return fmt.Errorf("replay: entry tick %d before %d", entry.Tick, w.lastTick)
	}
	if w.wrote && entry.Tick == w.lastTick && !entry.End {
		return fmt.Errorf("replay: duplicate entry for tick %d", entry.Tick)
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("replay: marshal entry: %w", err)
	}
	if _, err := w.inner.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("replay: write entry: %w", err)
	}
	w.lastTick = entry.Tick
	w.wrote = true
	return nil
}

// Flush pushes buffered entries to the underlying writer.
func (w *Writer) Flush() error {
	return w.inner.Flush()
}

// ReadHeader decodes only the header line. Unknown fields are ignored so
// newer recordings still identify themselves to older readers.
func ReadHeader(r *bufio.Reader) (Header, error) {
	line, err := r.ReadBytes('\n')
	if err != nil && (err != io.EOF || len(line) == 0) {
		return Header{}, fmt.Errorf("replay: read header: %w", err)
	}
	var header Header
	if err := json.Unmarshal(line, &header); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrNotReplay, err)
	}
	if header.FileType != FileType {
		return Header{}, fmt.Errorf("%w: file type %q", ErrNotReplay, header.FileType)
	}
	return header, nil
}

// Read parses a full replay stream. On a corrupt or out-of-order tail it
// returns the consistent prefix together with a *TruncationError naming the
// last good tick; the caller decides whether a partial replay is acceptable.
func Read(r io.Reader) (*Log, error) {
	buffered := bufio.NewReader(r)
	header, err := ReadHeader(buffered)
	if err != nil {
		return nil, err
	}
	log := &Log{Header: header}
	lastTick := uint64(0)
	for {
		line, err := buffered.ReadBytes('\n')
		if len(line) == 0 && err == io.EOF {
			return log, nil
		}
		if err != nil && err != io.EOF {
			return log, &TruncationError{Tick: lastTick, Err: err}
		}
		var entry Entry
		if unmarshalErr := json.Unmarshal(line, &entry); unmarshalErr != nil {
			return log, &TruncationError{Tick: lastTick, Err: unmarshalErr}
		}
		if entry.Tick < lastTick || (entry.Tick == lastTick && !entry.End && len(log.Entries) > 0) {
			return log, &TruncationError{
				Tick: lastTick,
				Err:  fmt.Errorf("entry tick %d not after %d", entry.Tick, lastTick),
			}
		}
		log.Entries = append(log.Entries, entry)
		lastTick = entry.Tick
		if err == io.EOF {
			return log, nil
		}
	}
}

// CheckVersion is the compatibility gate: a log replays only on the exact
// engine build that recorded it.
func CheckVersion(header Header, engineVersion string) error {
	if header.Version != engineVersion {
		return fmt.Errorf("%w: recorded with %q, engine is %q",
			ErrVersionMismatch, header.Version, engineVersion)
	}
	return nil
}
