package datafile

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/roman-kulish/vibrometry/internal/storage"
)

// SI store layout.
const (
	SITime      = "Time"
	SIBaseTime  = "BaseTime"
	SIVelocity  = "Velocity"
	SIOverrange = "Overrange"
	SIRSSI      = "RSSI"
	SITrigger   = "Trigger"
	SIMetadata  = "metadata"
)

// WriteSIDataFile writes the companion store: scaled Velocity, RSSI and
// Trigger blocks, velocity overrange flags, both time axes and the metadata
// under metadata/<namespace>/<key>. Channels absent from the run are
// skipped. The file only appears at path once everything has been written.
func (r *Reader) WriteSIDataFile(ctx context.Context, path string, overwrite bool) (err error) {
	out, err := storage.CreatePending(ctx, path, overwrite)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			_ = out.Abort()
		}
	}()

	header := []storage.Entry{
		{Path: storage.Join(SITime), Dataset: storage.Float64Array(slices.Collect(r.TimeArray(true)))},
		{Path: storage.Join(SIBaseTime), Dataset: storage.Float64Array(slices.Collect(r.TimeArray(false)))},
	}
	entries, err := metadataEntries(r.meta, SIMetadata)
	if err != nil {
		return err
	}
	if err = out.WriteBatch(ctx, append(header, entries...)); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	for n := range r.blockCount {
		block, err := r.SIBlock(ctx, n, strconv.Itoa(n))
		if err != nil {
			return err
		}
		if err = out.WriteBatch(ctx, block); err != nil {
			return fmt.Errorf("writing %s block %d: %w", path, n, err)
		}
	}

	return out.Commit()
}

// SIBlock returns the SI datasets of block n as "<group>/<name>" entries,
// one per SI group present in the run.
func (r *Reader) SIBlock(ctx context.Context, n int, name string) ([]storage.Entry, error) {
	var entries []storage.Entry

	for _, group := range r.siGroups() {
		ds, err := r.siDataset(ctx, group, n)
		if err != nil {
			return nil, err
		}
		entries = append(entries, storage.Entry{Path: storage.Join(group, name), Dataset: ds})
	}
	return entries, nil
}

// siGroups lists the SI groups present in this run in layout order.
func (r *Reader) siGroups() []string {
	var groups []string
	if r.HasChannel(velocityChannel) {
		groups = append(groups, SIVelocity, SIOverrange)
	}
	if r.HasChannel(rssiChannel) {
		groups = append(groups, SIRSSI)
	}
	if r.HasChannel(triggerChannel) {
		groups = append(groups, SITrigger)
	}
	return groups
}

func (r *Reader) siDataset(ctx context.Context, group string, n int) (storage.Dataset, error) {
	switch group {
	case SIVelocity:
		v, err := r.Velocity(ctx, n)
		return storage.Float64Array(v), err
	case SIOverrange:
		v, err := r.Overrange(ctx, n)
		return storage.BoolArray(v), err
	case SIRSSI:
		v, err := r.RSSI(ctx, n)
		return storage.Float64Array(v), err
	case SITrigger:
		v, err := r.Trigger(ctx, n)
		return storage.BoolArray(v), err
	}
	return storage.Dataset{}, fmt.Errorf("unknown SI group %q", group)
}
