//go:build onnx

package main

import (
	"github.com/knowledgelab/kbmem/config"
	"github.com/knowledgelab/kbmem/knowledge"
	"github.com/knowledgelab/kbmem/knowledge/embedder/onnx"
)

func buildONNXEmbedder(cfg *config.Config) (knowledge.Embedder, func() error, error) {
	embedder, err := onnx.New(onnx.Config{
		ModelPath:     cfg.ONNXModelPath,
		TokenizerPath: cfg.ONNXTokenizerPath,
	})
	if err != nil {
		return nil, nil, err
	}
	return embedder, embedder.Close, nil
}
