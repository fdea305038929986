//go:build !onnx

package main

import (
	"fmt"

	"github.com/knowledgelab/kbmem/config"
	"github.com/knowledgelab/kbmem/knowledge"
)

func buildONNXEmbedder(*config.Config) (knowledge.Embedder, func() error, error) {
	return nil, nil, fmt.Errorf("onnx embedder requires a binary built with -tags onnx")
}
