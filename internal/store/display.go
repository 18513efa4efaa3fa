package store

import (
	"context"

	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/core"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/httpapi"
)

// Display puts a BufferedWriter in front of a SQLiteStore. Reads flush the
// buffer first so they observe every accepted write.
type Display struct {
	*SQLiteStore
	buf *BufferedWriter
}

func NewDisplay(base *SQLiteStore, opts BufferedOptions) *Display {
	return &Display{SQLiteStore: base, buf: NewBufferedWriter(base, opts)}
}

func (d *Display) Write(msg core.DisplayMessage) error {
	return d.buf.Write(msg)
}

func (d *Display) All(ctx context.Context) ([]core.DisplayMessage, error) {
	if err := d.buf.Flush(); err != nil {
		return nil, err
	}
	return d.SQLiteStore.All(ctx)
}

func (d *Display) ListMessages(ctx context.Context, f httpapi.Filters) ([]core.DisplayMessage, error) {
	if err := d.buf.Flush(); err != nil {
		return nil, err
	}
	return d.SQLiteStore.ListMessages(ctx, f)
}

func (d *Display) CountMessages(ctx context.Context, f httpapi.Filters) (int64, error) {
	if err := d.buf.Flush(); err != nil {
		return 0, err
	}
	return d.SQLiteStore.CountMessages(ctx, f)
}

// Clear drops buffered writes along with stored rows.
func (d *Display) Clear(ctx context.Context) error {
	d.buf.Discard()
	return d.SQLiteStore.Clear(ctx)
}

func (d *Display) Close() error {
	flushErr := d.buf.Close()
	if err := d.SQLiteStore.Close(); err != nil {
		return err
	}
	return flushErr
}
