package main

import (
	"encoding/json"
	"fmt"
	"os"

	"mnemosyne/pkg/mnemosyne"
)

// sessionConfig is the on-disk shape consumed by the run command: a host
// description plus the edit batches to absorb, in order.
type sessionConfig struct {
	Attach  mnemosyne.AttachRequest
	Session mnemosyne.SessionRequest
}

func loadSessionConfig(path string) (sessionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return sessionConfig{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return sessionConfig{}, err
	}

	var cfg sessionConfig
	if v, ok := asString(raw["session_id"]); ok {
		cfg.Session.SessionID = v
	}
	if v, ok := asString(raw["class"]); ok {
		cfg.Session.Class = v
	}

	attachMap, ok := raw["attach"].(map[string]any)
	if !ok {
		return sessionConfig{}, fmt.Errorf("config is missing the attach section")
	}
	attach, err := attachFromMap(attachMap)
	if err != nil {
		return sessionConfig{}, err
	}
	cfg.Attach = attach

	batchesRaw, ok := raw["batches"].([]any)
	if !ok || len(batchesRaw) == 0 {
		return sessionConfig{}, fmt.Errorf("config is missing the batches section")
	}
	for bi, batchRaw := range batchesRaw {
		examplesRaw, ok := batchRaw.([]any)
		if !ok {
			return sessionConfig{}, fmt.Errorf("batch %d is not a list of examples", bi)
		}
		batch := make([]mnemosyne.EditExample, 0, len(examplesRaw))
		for ei, exampleRaw := range examplesRaw {
			example, err := exampleFromValue(exampleRaw)
			if err != nil {
				return sessionConfig{}, fmt.Errorf("batch %d example %d: %w", bi, ei, err)
			}
			batch = append(batch, example)
		}
		cfg.Session.Batches = append(cfg.Session.Batches, batch)
	}

	return cfg, nil
}

func attachFromMap(raw map[string]any) (mnemosyne.AttachRequest, error) {
	var req mnemosyne.AttachRequest

	layersRaw, ok := raw["layers"].([]any)
	if !ok || len(layersRaw) == 0 {
		return mnemosyne.AttachRequest{}, fmt.Errorf("attach section is missing layers")
	}
	for li, layerRaw := range layersRaw {
		layerMap, ok := layerRaw.(map[string]any)
		if !ok {
			return mnemosyne.AttachRequest{}, fmt.Errorf("layer %d is not an object", li)
		}
		var spec mnemosyne.LayerSpec
		if v, ok := asString(layerMap["path"]); ok {
			spec.Path = v
		}
		if v, ok := asInt(layerMap["in"]); ok {
			spec.In = v
		}
		if v, ok := asInt(layerMap["out"]); ok {
			spec.Out = v
		}
		if spec.Path == "" {
			return mnemosyne.AttachRequest{}, fmt.Errorf("layer %d is missing a path", li)
		}
		req.Layers = append(req.Layers, spec)
	}

	if v, ok := asString(raw["mode"]); ok {
		req.Mode = v
	}
	if v, ok := asInt(raw["rank"]); ok {
		req.Rank = v
	}
	if v, ok := asFloat64(raw["alpha"]); ok {
		req.Alpha = v
	}
	if v, ok := asFloat64(raw["dropout"]); ok {
		req.Dropout = v
	}
	if v, ok := asInt(raw["block_size"]); ok {
		req.BlockSize = v
	}
	if v, ok := asInt(raw["num_experts"]); ok {
		req.NumExperts = v
	}
	if v, ok := asInt(raw["top_k"]); ok {
		req.TopK = v
	}
	if v, ok := asString(raw["preset"]); ok {
		req.Preset = v
	}
	if v, ok := asFloat64(raw["init_radius"]); ok {
		req.InitRadius = v
	}
	if v, ok := asInt(raw["key_position"]); ok {
		req.KeyPosition = v
	}
	if v, ok := asInt(raw["scope_threshold"]); ok {
		req.ScopeThreshold = v
	}
	if v, ok := asString(raw["memory_module"]); ok {
		req.MemoryModule = v
	}
	if modules, ok := raw["target_modules"].([]any); ok {
		for _, m := range modules {
			if v, ok := asString(m); ok {
				req.TargetModules = append(req.TargetModules, v)
			}
		}
	}
	if v, ok := asString(raw["target_pattern"]); ok {
		req.TargetPattern = v
	}
	if v, ok := asString(raw["bias"]); ok {
		req.Bias = v
	}
	if v, ok := asInt64(raw["seed"]); ok {
		req.Seed = v
	}

	return req, nil
}

func exampleFromValue(raw any) (mnemosyne.EditExample, error) {
	exampleMap, ok := raw.(map[string]any)
	if !ok {
		return mnemosyne.EditExample{}, fmt.Errorf("example is not an object")
	}

	rowsRaw, ok := exampleMap["input"].([]any)
	if !ok || len(rowsRaw) == 0 {
		return mnemosyne.EditExample{}, fmt.Errorf("example is missing input rows")
	}
	var example mnemosyne.EditExample
	for ri, rowRaw := range rowsRaw {
		cells, ok := rowRaw.([]any)
		if !ok {
			return mnemosyne.EditExample{}, fmt.Errorf("input row %d is not a list", ri)
		}
		row := make([]float64, 0, len(cells))
		for ci, cell := range cells {
			v, ok := asFloat64(cell)
			if !ok {
				return mnemosyne.EditExample{}, fmt.Errorf("input row %d cell %d is not a number", ri, ci)
			}
			row = append(row, v)
		}
		example.Input = append(example.Input, row)
	}

	labelsRaw, ok := exampleMap["labels"].([]any)
	if !ok || len(labelsRaw) == 0 {
		return mnemosyne.EditExample{}, fmt.Errorf("example is missing labels")
	}
	for li, labelRaw := range labelsRaw {
		v, ok := asInt64(labelRaw)
		if !ok {
			return mnemosyne.EditExample{}, fmt.Errorf("label %d is not an integer", li)
		}
		example.Labels = append(example.Labels, v)
	}

	return example, nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}
