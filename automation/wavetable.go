package automation

import (
	"fmt"
	"math"
	"os"

	"github.com/faiface/beep/wav"
)

// TableGain scales every wavetable sample.
const TableGain = 0.9

// Table is one cycle of a waveform.
type Table struct {
	Samples    []float64
	SampleRate int
}

// LoadTable decodes a WAV file into a table. Only the first channel is
// kept.
func LoadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: wavetable: %v", ErrInvalidAutomation, err)
	}
	defer f.Close()

	stream, format, err := wav.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: wavetable %s: %v", ErrInvalidAutomation, path, err)
	}
	defer stream.Close()

	scale := fullScale(format.Precision)
	var samples []float64
	buf := make([][2]float64, 512)
	for {
		n, ok := stream.Stream(buf)
		for _, s := range buf[:n] {
			samples = append(samples, s[0]*scale)
		}
		if !ok {
			break
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("%w: wavetable %s: %v", ErrInvalidAutomation, path, err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: wavetable %s has no samples", ErrInvalidAutomation, path)
	}
	return &Table{Samples: samples, SampleRate: int(format.SampleRate)}, nil
}

// fullScale corrects the beep decoder, which divides signed 16 and 24 bit
// PCM by 2^bits-1 and so lands in [-0.5, 0.5]. 8 bit is already full
// scale.
func fullScale(precision int) float64 {
	switch precision {
	case 2, 3:
		bits := 8 * precision
		return float64(int64(1)<<bits-1) / float64(int64(1)<<(bits-1))
	}
	return 1
}

// At reads the table at phase p (in cycles), interpolating linearly between
// neighbouring samples.
func (t *Table) At(p float64) float64 {
	n := len(t.Samples)
	idx := math.Mod(p, 1) * float64(n)
	if idx < 0 {
		idx += float64(n)
	}
	i := int(idx)
	if i >= n {
		i = n - 1
	}
	next := (i + 1) % n
	w := idx - float64(i)
	return ((1-w)*t.Samples[i] + w*t.Samples[next]) * TableGain
}
