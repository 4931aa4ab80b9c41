package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"tierkv/pkg/common"
	"tierkv/pkg/config"
	"tierkv/pkg/core"
	"tierkv/pkg/storage/sstable"
	"tierkv/pkg/value"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const filePrefix = "ckpt-"

// ErrNoCheckpoint is returned by Latest when the directory holds no checkpoint.
var ErrNoCheckpoint = errors.New("checkpoint: none found")

// Stats describes one saved or restored checkpoint.
type Stats struct {
	Path     string `json:"path"`
	Hot      int64  `json:"hot"`
	Cold     int64  `json:"cold"`
	Filtered int64  `json:"filtered"`
}

func (s Stats) Total() int64 {
	return s.Hot + s.Cold
}

// Checkpointer writes a store's contents to sstable files in cfg.Dir and loads
// them back.
type Checkpointer struct {
	store   core.Storage
	cfg     config.CheckpointConfig
	filter  core.FilterPolicy
	workers int
	logger  *zap.Logger
}

// New builds a Checkpointer. A nil filter admits every slot.
func New(store core.Storage, cfg config.CheckpointConfig, filter core.FilterPolicy, logger *zap.Logger) *Checkpointer {
	if filter == nil {
		filter = core.PassThrough{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checkpointer{
		store:   store,
		cfg:     cfg,
		filter:  filter,
		workers: 4,
		logger:  logger,
	}
}

// PathFor names the checkpoint for a global step.
func (c *Checkpointer) PathFor(step int64) string {
	return filepath.Join(c.cfg.Dir, fmt.Sprintf("%s%020d.sst", filePrefix, step))
}

// Save writes the checkpoint for step.
func (c *Checkpointer) Save(step int64) (Stats, error) {
	if err := os.MkdirAll(c.cfg.Dir, 0755); err != nil {
		return Stats{}, fmt.Errorf("checkpoint dir: %w", err)
	}
	return c.SaveTo(c.PathFor(step))
}

// SaveTo merges the materialized hot entries with the cold iterator in key
// order and writes them to path. A key seen in both (it migrated between the
// two halves of the snapshot) is written once, from the hot side.
func (c *Checkpointer) SaveTo(path string) (Stats, error) {
	st := Stats{Path: path}

	cp, err := c.store.CheckpointSnapshot(c.cfg, c.filter)
	if err != nil {
		return st, err
	}
	defer cp.Close()

	hot := cp.Entries
	sort.Slice(hot, func(i, j int) bool { return hot[i].Key < hot[j].Key })

	tmp := path + ".tmp"
	builder, err := sstable.NewBuilder(tmp)
	if err != nil {
		return st, fmt.Errorf("checkpoint create: %w", err)
	}

	if cp.Cold != nil {
		c.store.IteratorLock()
		err = c.merge(builder, hot, cp.Cold, &st)
		c.store.IteratorUnlock()
	} else {
		err = c.merge(builder, hot, nil, &st)
	}
	if err != nil {
		builder.Abort()
		return st, fmt.Errorf("checkpoint write: %w", err)
	}

	if err := builder.Close(); err != nil {
		os.Remove(tmp)
		return st, fmt.Errorf("checkpoint close: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return st, fmt.Errorf("checkpoint rename: %w", err)
	}

	c.logger.Info("checkpoint saved",
		zap.String("path", path),
		zap.Int64("hot", st.Hot),
		zap.Int64("cold", st.Cold),
		zap.Int64("filtered", st.Filtered))
	return st, nil
}

func (c *Checkpointer) merge(b *sstable.Builder, hot []core.CheckpointEntry, cold core.ColdIterator, st *Stats) error {
	scratch := value.NewAllocator(0)

	var coldEntry core.CheckpointEntry
	coldOK := false
	advance := func() error {
		for cold != nil && cold.Next() {
			e, keep, err := c.filterCold(scratch, cold.Key(), cold.Value())
			if err != nil {
				return err
			}
			if keep {
				coldEntry, coldOK = e, true
				return nil
			}
			st.Filtered++
		}
		coldOK = false
		if cold != nil {
			return cold.Err()
		}
		return nil
	}
	if err := advance(); err != nil {
		return err
	}

	i := 0
	for i < len(hot) || coldOK {
		switch {
		case !coldOK || (i < len(hot) && hot[i].Key <= coldEntry.Key):
			if coldOK && hot[i].Key == coldEntry.Key {
				if err := advance(); err != nil {
					return err
				}
			}
			if err := b.Add(toEntry(hot[i])); err != nil {
				return err
			}
			st.Hot++
			i++
		default:
			if err := b.Add(toEntry(coldEntry)); err != nil {
				return err
			}
			st.Cold++
			if err := advance(); err != nil {
				return err
			}
		}
	}
	return nil
}

// filterCold runs a serialized cold slot through the same policy as hot slots.
func (c *Checkpointer) filterCold(scratch *value.Allocator, key common.KeyType, data []byte) (core.CheckpointEntry, bool, error) {
	h, err := value.Decode(scratch, data, 0)
	if err != nil {
		return core.CheckpointEntry{}, false, fmt.Errorf("cold slot %d: %w", key, err)
	}
	defer h.Destroy()
	e, keep := c.filter.Filter(key, h, c.cfg)
	return e, keep, nil
}

func toEntry(e core.CheckpointEntry) sstable.Entry {
	return sstable.Entry{Key: e.Key, Version: e.Version, Freq: e.Freq, Value: e.Value}
}

// Restore loads path into the store through GetOrCreate. Entries saved without
// a version (-1) keep the slot's current version.
func (c *Checkpointer) Restore(ctx context.Context, path string) (Stats, error) {
	st := Stats{Path: path}

	table, err := sstable.Open(path)
	if err != nil {
		return st, fmt.Errorf("checkpoint open: %w", err)
	}
	defer table.Close()

	g, ctx := errgroup.WithContext(ctx)
	entries := make(chan sstable.Entry, 256)

	g.Go(func() error {
		defer close(entries)
		it := table.NewIterator()
		defer it.Close()
		for it.Next() {
			select {
			case entries <- it.Entry():
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return it.Err()
	})

	counts := make([]int64, c.workers)
	for w := 0; w < c.workers; w++ {
		w := w
		g.Go(func() error {
			for e := range entries {
				if err := c.apply(e); err != nil {
					return err
				}
				counts[w]++
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return st, fmt.Errorf("checkpoint restore: %w", err)
	}
	for _, n := range counts {
		st.Hot += n
	}

	c.logger.Info("checkpoint restored",
		zap.String("path", path),
		zap.Int64("entries", st.Hot))
	return st, nil
}

func (c *Checkpointer) apply(e sstable.Entry) error {
	h, err := c.store.GetOrCreate(e.Key, len(e.Value))
	if err != nil {
		return fmt.Errorf("restore %d: %w", e.Key, err)
	}
	h.Write(e.Value)
	if e.Version >= 0 {
		h.SetVersion(e.Version)
	}
	if c.cfg.SaveFrequency {
		h.SetFreq(e.Freq)
	}
	return nil
}

// Latest returns the checkpoint with the highest step in cfg.Dir.
func (c *Checkpointer) Latest() (string, int64, error) {
	files, err := filepath.Glob(filepath.Join(c.cfg.Dir, filePrefix+"*.sst"))
	if err != nil {
		return "", 0, err
	}

	best, bestStep := "", int64(-1)
	for _, f := range files {
		name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(f), filePrefix), ".sst")
		step, err := strconv.ParseInt(name, 10, 64)
		if err != nil {
			continue
		}
		if step > bestStep {
			best, bestStep = f, step
		}
	}
	if best == "" {
		return "", 0, ErrNoCheckpoint
	}
	return best, bestStep, nil
}
