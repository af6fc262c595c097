// Package onnx runs a local sentence-transformer model (all-MiniLM-L6-v2 by
// default) through ONNX Runtime.
//
// The runtime binding needs cgo and libonnxruntime, so the embedder itself
// is only compiled with the "onnx" build tag. The tokenizer and pooling are
// plain Go and always available.
package onnx
