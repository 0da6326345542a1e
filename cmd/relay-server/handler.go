package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/relaywire/slidewindow/internal/chunker"
	"github.com/relaywire/slidewindow/internal/relay"
	"github.com/relaywire/slidewindow/pkg/rid"
)

// transfer tracks one in-progress file transfer, keyed by its session id.
type transfer struct {
	filename string
	tmp      *os.File
}

// Handler dispatches relay frames the way the reference server's
// InitFile/PutData/Finalize handlers do, one transfer per session id, and
// answers every frame with an Ack carrying the same sequence number.
type Handler struct {
	dir    string
	logger *zap.Logger

	mu        sync.Mutex
	transfers map[rid.ID]*transfer
}

// NewHandler creates a Handler that writes completed transfers under dir.
func NewHandler(dir string, logger *zap.Logger) (*Handler, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("handler: create store dir: %w", err)
	}
	return &Handler{dir: dir, logger: logger, transfers: make(map[rid.ID]*transfer)}, nil
}

// Process handles one inbound frame and returns the Ack to send back.
func (h *Handler) Process(f *relay.Frame) (*relay.Frame, error) {
	var err error
	switch f.Kind {
	case relay.KindInitFile:
		err = h.initFile(f)
	case relay.KindPutData:
		err = h.putData(f)
	case relay.KindFinalize:
		err = h.finalize(f)
	default:
		err = fmt.Errorf("handler: server does not accept frame kind %s", f.Kind)
	}
	if err != nil {
		return nil, err
	}
	return &relay.Frame{Kind: relay.KindAck, Session: f.Session, Sequence: f.Sequence}, nil
}

func (h *Handler) initFile(f *relay.Frame) error {
	cmd, err := relay.DecodeInitFile(f.Payload)
	if err != nil {
		return fmt.Errorf("decode InitFile: %w", err)
	}

	tmp, err := os.CreateTemp(h.dir, "transfer-*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	h.mu.Lock()
	h.transfers[f.Session] = &transfer{filename: cmd.Filename, tmp: tmp}
	h.mu.Unlock()

	h.logger.Info("transfer initiated",
		zap.String("session", f.Session.String()), zap.String("filename", cmd.Filename))
	return nil
}

func (h *Handler) putData(f *relay.Frame) error {
	cmd, err := relay.DecodePutData(f.Payload)
	if err != nil {
		return fmt.Errorf("decode PutData: %w", err)
	}

	t, err := h.lookup(f.Session)
	if err != nil {
		return err
	}
	return chunker.NewAssembler(t.tmp).Put(cmd)
}

func (h *Handler) finalize(f *relay.Frame) error {
	cmd, err := relay.DecodeFinalize(f.Payload)
	if err != nil {
		return fmt.Errorf("decode Finalize: %w", err)
	}

	t, err := h.lookup(f.Session)
	if err != nil {
		return err
	}

	info, err := t.tmp.Stat()
	if err != nil {
		return fmt.Errorf("stat temp file: %w", err)
	}
	if err := chunker.Verify(t.tmp, info.Size(), cmd.Checksum); err != nil {
		return fmt.Errorf("transfer %s failed verification: %w", f.Session.String(), err)
	}
	if err := t.tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	finalPath := filepath.Join(h.dir, t.filename)
	if err := os.Rename(t.tmp.Name(), finalPath); err != nil {
		return fmt.Errorf("rename to %s: %w", finalPath, err)
	}

	h.mu.Lock()
	delete(h.transfers, f.Session)
	h.mu.Unlock()

	h.logger.Info("file received successfully",
		zap.String("session", f.Session.String()), zap.String("filename", t.filename))
	return nil
}

func (h *Handler) lookup(session rid.ID) (*transfer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.transfers[session]
	if !ok {
		return nil, fmt.Errorf("handler: no transfer in progress for session %s", session.String())
	}
	return t, nil
}
