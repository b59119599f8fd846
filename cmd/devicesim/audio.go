package main

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"time"
)

// toneAmplitude keeps the generated tone well below clipping.
const toneAmplitude = 0.3

// generateTone returns mono little-endian pcm16 samples of a sine wave.
func generateTone(freqHz float64, d time.Duration, sampleRate int) []byte {
	if sampleRate <= 0 || d <= 0 {
		return nil
	}
	n := int(d.Seconds() * float64(sampleRate))
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := toneAmplitude * math.Sin(2*math.Pi*freqHz*float64(i)/float64(sampleRate))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v*math.MaxInt16)))
	}
	return out
}

// loadAudio reads raw audio from path. pcm16 input must have an even length.
func loadAudio(path, format string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading audio file: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("audio file %s is empty", path)
	}
	if format == "pcm16" && len(data)%2 != 0 {
		return nil, fmt.Errorf("audio file %s: pcm16 needs an even byte count, got %d", path, len(data))
	}
	return data, nil
}

// splitChunks cuts audio into pieces of at most size bytes. A size of zero
// or less returns the audio as one chunk. Chunk boundaries stay on sample
// boundaries for pcm16.
func splitChunks(audio []byte, size int) [][]byte {
	if size <= 0 || len(audio) <= size {
		return [][]byte{audio}
	}
	if size%2 != 0 {
		size++
	}
	chunks := make([][]byte, 0, (len(audio)+size-1)/size)
	for start := 0; start < len(audio); start += size {
		end := min(start+size, len(audio))
		chunks = append(chunks, audio[start:end])
	}
	return chunks
}

// durationMS returns the playback length of pcm16 mono audio.
func durationMS(audio []byte, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(len(audio)/2) / float64(sampleRate) * 1000
}
