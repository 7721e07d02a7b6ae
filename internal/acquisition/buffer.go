package acquisition

import (
	"fmt"

	"github.com/roman-kulish/vibrometry/internal/faults"
	"github.com/roman-kulish/vibrometry/internal/vibrometer"
)

// ChannelBuffer holds every block of one channel. Boolean-unit channels use
// Bools, all others Int32s. Overrange is present for measurement channels
// only and has the same shape as the samples.
type ChannelBuffer struct {
	Channel    vibrometer.ChannelDescriptor
	FreqFactor int

	Int32s    [][]int32
	Bools     [][]bool
	Overrange [][]bool

	samplesPerBlock int
}

func (c *ChannelBuffer) Name() string {
	return c.Channel.Name()
}

// SamplesPerBlock is block_size * freq_factor.
func (c *ChannelBuffer) SamplesPerBlock() int {
	return c.samplesPerBlock
}

// Shape returns (block_count, samples_per_block).
func (c *ChannelBuffer) Shape() (int, int) {
	if c.Channel.IsBoolean() {
		return len(c.Bools), c.samplesPerBlock
	}
	return len(c.Int32s), c.samplesPerBlock
}

func (c *ChannelBuffer) HasOverrange() bool {
	return c.Overrange != nil
}

// store copies samples into block at the per-channel offset.
func (c *ChannelBuffer) store(block, offset int, samples []int32, overrange []bool) error {
	end := offset + len(samples)
	if offset < 0 || end > c.samplesPerBlock {
		return fmt.Errorf("%w: %s block %d: samples [%d:%d] exceed block length %d",
			faults.ErrDataIntegrity, c.Name(), block, offset, end, c.samplesPerBlock)
	}

	if c.Channel.IsBoolean() {
		dst := c.Bools[block][offset:end]
		for i, v := range samples {
			dst[i] = v != 0
		}
	} else {
		copy(c.Int32s[block][offset:end], samples)
	}

	if c.Overrange != nil && overrange != nil {
		if len(overrange) != len(samples) {
			return fmt.Errorf("%w: %s block %d: %d overrange flags for %d samples",
				faults.ErrDataIntegrity, c.Name(), block, len(overrange), len(samples))
		}
		copy(c.Overrange[block][offset:end], overrange)
	}

	return nil
}

// Buffer is the in-memory result of one acquisition session, keyed by
// channel name. All channels share BlockCount.
type Buffer struct {
	BlockCount int
	BlockSize  int

	channels []*ChannelBuffer
	byName   map[string]*ChannelBuffer
}

// Allocate sizes a zero-initialized buffer for the active channels.
func Allocate(channels []vibrometer.ChannelDescriptor, blockCount, blockSize int, freqFactor func(vibrometer.ChannelDescriptor) int) (*Buffer, error) {
	if blockCount < 1 {
		return nil, faults.NewMinimumError("block_count", blockCount, 1)
	}
	if blockSize < 1 {
		return nil, faults.NewMinimumError("block_size", blockSize, 1)
	}
	if len(channels) == 0 {
		return nil, faults.NewConfigError("channels", 0, "no active channels")
	}

	b := Buffer{
		BlockCount: blockCount,
		BlockSize:  blockSize,
		byName:     make(map[string]*ChannelBuffer, len(channels)),
	}

	for _, ch := range channels {
		name := ch.Name()
		if _, ok := b.byName[name]; ok {
			return nil, faults.NewConfigError("channels", name, "duplicate channel")
		}

		ff := 1
		if ch.Type != vibrometer.ChannelRSSI {
			ff = freqFactor(ch)
		}
		if ff < 1 {
			return nil, faults.NewConfigError(name+".freq_factor", ff, "must be at least 1")
		}

		cb := ChannelBuffer{
			Channel:         ch,
			FreqFactor:      ff,
			samplesPerBlock: blockSize * ff,
		}
		if ch.IsBoolean() {
			cb.Bools = grid[bool](blockCount, cb.samplesPerBlock)
		} else {
			cb.Int32s = grid[int32](blockCount, cb.samplesPerBlock)
		}
		if ch.Type.IsMeasurement() {
			cb.Overrange = grid[bool](blockCount, cb.samplesPerBlock)
		}

		b.channels = append(b.channels, &cb)
		b.byName[name] = &cb
	}

	return &b, nil
}

// grid allocates rows x cols backed by a single slice.
func grid[T any](rows, cols int) [][]T {
	backing := make([]T, rows*cols)
	out := make([][]T, rows)
	for i := range out {
		out[i] = backing[i*cols : (i+1)*cols : (i+1)*cols]
	}
	return out
}

// Channels returns the channel buffers in acquisition order.
func (b *Buffer) Channels() []*ChannelBuffer {
	return b.channels
}

// Channel looks a channel buffer up by name, e.g. "Velocity".
func (b *Buffer) Channel(name string) (*ChannelBuffer, bool) {
	cb, ok := b.byName[name]
	return cb, ok
}

// SizeBytes is the memory held by sample and overrange arrays.
func (b *Buffer) SizeBytes() uint64 {
	var n uint64
	for _, cb := range b.channels {
		cells := uint64(b.BlockCount * cb.samplesPerBlock)
		if cb.Channel.IsBoolean() {
			n += cells
		} else {
			n += cells * 4
		}
		if cb.Overrange != nil {
			n += cells
		}
	}
	return n
}
