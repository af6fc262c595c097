package onnx

import (
	"math"

	"github.com/m-mizutani/goerr/v2"
)

// pool reduces a model output to one unit-length vector of size dims.
// Output of shape [1, dims] is already pooled; shape [1, seq, dims] is mean
// pooled over the positions where mask is 1.
func pool(data []float32, shape []int64, mask []int64, dims int) ([]float32, error) {
	switch len(shape) {
	case 2:
		if len(data) < dims {
			return nil, goerr.New("pooled output too short",
				goerr.V("got", len(data)), goerr.V("want", dims))
		}
		out := make([]float32, dims)
		copy(out, data[:dims])
		return normalize(out), nil

	case 3:
		if shape[0] != 1 {
			return nil, goerr.New("unexpected batch size", goerr.V("batch", shape[0]))
		}
		seqLen, hidden := int(shape[1]), int(shape[2])
		if hidden != dims {
			return nil, goerr.New("hidden size mismatch",
				goerr.V("got", hidden), goerr.V("want", dims))
		}
		if len(data) < seqLen*hidden || len(mask) < seqLen {
			return nil, goerr.New("output shorter than its shape", goerr.V("shape", shape))
		}

		out := make([]float32, dims)
		var attended float32
		for i := 0; i < seqLen; i++ {
			if mask[i] == 0 {
				continue
			}
			attended++
			row := data[i*hidden : (i+1)*hidden]
			for j, v := range row {
				out[j] += v
			}
		}
		if attended == 0 {
			return nil, goerr.New("no attended tokens")
		}
		for j := range out {
			out[j] /= attended
		}
		return normalize(out), nil
	}

	return nil, goerr.New("unexpected output shape", goerr.V("shape", shape))
}

func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
