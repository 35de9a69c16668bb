// Package resampler converts PCM16 mono audio between the pipeline's fixed
// sample rates (16 kHz and 24 kHz).
//
// A Stream keeps filter state between calls, so successive synthesis frames
// can be converted one at a time without clicks at frame boundaries.
//
// Example usage:
//
//	rs, err := resampler.New(pcm.L16Mono24K, pcm.L16Mono16K)
//	if err != nil {
//	    return err
//	}
//	out, err := rs.Process(frame)
package resampler
