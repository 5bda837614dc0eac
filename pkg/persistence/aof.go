package persistence

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/sanonone/kektorrag/pkg/core/types"
)

// compactChunk is how many records go into one put frame when compacting.
const compactChunk = 512

// AOFStore persists every mutation as a CRC32 frame appended to a single file.
// The file is replayed into an in-memory tree on open; reads are served from
// the tree. Each mutating call is flushed and fsynced before it returns, and a
// batch is a single frame, so a torn write loses the whole batch or nothing.
type AOFStore struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	sink   io.Writer
	buf    *bufio.Writer
	fw     *FrameWriter
	codec  Codec
	tree   *recordTree
	frames int
	// size is the file length up to the last complete frame.
	size   int64
	closed bool
}

// NewAOFStore opens or creates the log at path and replays it.
func NewAOFStore(path string, codec Codec) (*AOFStore, error) {
	s := &AOFStore{path: path, codec: codec, tree: newRecordTree()}
	if err := s.replay(); err != nil {
		return nil, err
	}
	if err := s.openForAppend(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *AOFStore) openForAppend() error {
	file, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fault("open aof", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fault("stat aof", err)
	}
	s.file = file
	s.sink = file
	s.size = info.Size()
	s.buf = bufio.NewWriter(s.sink)
	s.fw = NewFrameWriter(s.buf)
	return nil
}

// replay applies every valid frame to the tree. Frames with a bad checksum are
// skipped. A torn tail or a lost magic byte ends the replay, and the file is
// truncated back to the last good frame so new appends stay readable.
func (s *AOFStore) replay() error {
	file, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fault("open aof", err)
	}
	defer file.Close()

	r := bufio.NewReader(file)
	var offset, good int64
	skipped := 0
	for {
		op, payload, n, err := ReadFrame(r)
		if err == io.EOF {
			break
		}
		offset += int64(n)
		if errors.Is(err, ErrChecksumMismatch) {
			slog.Warn("[AOF] Skipping corrupt frame", "offset", offset-int64(n), "path", s.path)
			skipped++
			good = offset
			continue
		}
		if err != nil {
			slog.Warn("[AOF] Truncating damaged tail", "offset", good, "error", err, "path", s.path)
			if terr := os.Truncate(s.path, good); terr != nil {
				return fault("truncate aof", terr)
			}
			break
		}
		if err := s.apply(op, payload); err != nil {
			slog.Warn("[AOF] Skipping undecodable frame", "offset", good, "error", err)
			skipped++
		}
		good = offset
		s.frames++
	}
	slog.Info("[AOF] Replay complete", "path", s.path, "records", s.tree.records.Len(), "frames", s.frames, "skipped", skipped)
	return nil
}

func (s *AOFStore) apply(op byte, payload []byte) error {
	switch op {
	case OpClear:
		s.tree.clear()
		return nil
	case OpPut, OpDelete:
	default:
		return fmt.Errorf("unknown opcode 0x%02x", op)
	}
	decoded, err := decodeOp(payload)
	if err != nil {
		return err
	}
	if op == OpPut {
		for _, w := range decoded.Records {
			s.tree.put(fromWire(w))
		}
		return nil
	}
	for _, id := range decoded.IDs {
		s.tree.remove(id)
	}
	return nil
}

// append writes one frame durably. Caller holds mu.
func (s *AOFStore) append(op byte, payload []byte) error {
	if s.closed {
		return ErrClosed
	}
	if err := s.fw.WriteFrame(op, payload); err != nil {
		return s.rollback(fault("write aof", err))
	}
	if err := s.buf.Flush(); err != nil {
		return s.rollback(fault("flush aof", err))
	}
	if err := s.file.Sync(); err != nil {
		return s.rollback(fault("sync aof", err))
	}
	s.size += int64(HeaderSize + len(payload))
	s.frames++
	return nil
}

// rollback drops whatever part of a failed frame reached the file and clears
// the buffered writer's sticky error, so the next append starts clean.
func (s *AOFStore) rollback(err error) error {
	s.buf.Reset(s.sink)
	if terr := s.file.Truncate(s.size); terr != nil {
		slog.Error("[AOF] Failed to drop partial frame", "path", s.path, "offset", s.size, "error", terr)
		return errors.Join(err, fault("truncate aof", terr))
	}
	return err
}

func (s *AOFStore) Put(ctx context.Context, rec types.Record) error {
	return s.PutBatch(ctx, []types.Record{rec})
}

func (s *AOFStore) PutBatch(ctx context.Context, recs []types.Record) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}
	payload, err := s.codec.encodePut(recs)
	if err != nil {
		return fault("encode batch", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.append(OpPut, payload); err != nil {
		return err
	}
	return s.apply(OpPut, payload)
}

func (s *AOFStore) GetAll(ctx context.Context) ([]types.Record, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	all := s.tree.all()
	for i := range all {
		all[i] = cloneRecord(all[i])
	}
	return all, nil
}

func (s *AOFStore) DeleteByID(ctx context.Context, id string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.tree.records.Get(types.Record{ID: id}); !ok {
		return nil
	}
	return s.deleteUnlocked([]string{id})
}

func (s *AOFStore) deleteUnlocked(ids []string) error {
	payload, err := encodeDelete(ids)
	if err != nil {
		return fault("encode delete", err)
	}
	if err := s.append(OpDelete, payload); err != nil {
		return err
	}
	return s.apply(OpDelete, payload)
}

func (s *AOFStore) DeleteByDocumentID(ctx context.Context, documentID string) ([]string, error) {
	return s.deleteOwned(ctx, func() []string { return owned(s.tree.byDocument, documentID) })
}

func (s *AOFStore) DeleteByCollectionID(ctx context.Context, collectionID string) ([]string, error) {
	return s.deleteOwned(ctx, func() []string { return owned(s.tree.byCollection, collectionID) })
}

func (s *AOFStore) deleteOwned(ctx context.Context, lookup func() []string) ([]string, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	ids := lookup()
	deleted := make([]string, 0, len(ids))
	for _, batch := range chunk(ids, DefaultDeleteBatchSize) {
		if err := s.deleteUnlocked(batch); err != nil {
			return deleted, err
		}
		deleted = append(deleted, batch...)
	}
	return deleted, nil
}

func (s *AOFStore) Clear(ctx context.Context) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.append(OpClear, nil); err != nil {
		return err
	}
	s.tree.clear()
	return nil
}

// Compact rewrites the log so it only holds the live records, then swaps it
// in place of the old file with a rename.
func (s *AOFStore) Compact(ctx context.Context) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tmpPath := s.path + ".rewrite"
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return fault("create rewrite file", err)
	}
	w := bufio.NewWriter(tmp)
	fw := NewFrameWriter(w)
	frames := 0

	live := s.tree.all()
	for start := 0; start < len(live); start += compactChunk {
		end := min(start+compactChunk, len(live))
		payload, err := s.codec.encodePut(live[start:end])
		if err == nil {
			err = fw.WriteFrame(OpPut, payload)
		}
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fault("rewrite aof", err)
		}
		frames++
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fault("flush rewrite file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fault("sync rewrite file", err)
	}
	tmp.Close()

	_ = s.buf.Flush()
	_ = s.file.Close()
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fault("replace aof", err)
	}
	if err := s.openForAppend(); err != nil {
		return err
	}
	slog.Info("[AOF] Compaction complete", "path", s.path, "frames_before", s.frames, "frames_after", frames)
	s.frames = frames
	return nil
}

// Frames returns how many frames the log holds.
func (s *AOFStore) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Quantize returns vec at the precision the log stores it with.
func (s *AOFStore) Quantize(vec []float32) []float32 {
	return s.codec.Quantize(vec)
}

// Path returns the file path.
func (s *AOFStore) Path() string {
	return s.path
}

func (s *AOFStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.buf.Flush(); err != nil {
		_ = s.file.Close()
		return fault("flush aof", err)
	}
	if err := s.file.Close(); err != nil {
		return fault("close aof", err)
	}
	return nil
}
