/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package util

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// RenderCBORPretty decodes one CBOR data item and renders it as indented JSON.
// Integer map keys listed in labels are shown by name; byte strings as h'..'.
func RenderCBORPretty(data []byte, labels map[uint64]string) (string, error) {
	var decoded any
	if err := cbor.Unmarshal(data, &decoded); err != nil {
		return "", fmt.Errorf("decode CBOR: %w", err)
	}

	pretty, err := json.MarshalIndent(jsonable(decoded, labels), "", "  ")
	if err != nil {
		return "", err
	}
	return string(pretty), nil
}

func jsonable(value any, labels map[uint64]string) any {
	switch v := value.(type) {
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = jsonable(elem, labels)
		}
		return out
	case map[any]any:
		// encoding/json sorts the string keys
		out := make(map[string]any, len(v))
		for key, val := range v {
			out[cborKey(key, labels)] = jsonable(val, labels)
		}
		return out
	case []byte:
		return fmt.Sprintf("h'%x'", v)
	case cbor.Tag:
		return map[string]any{
			"_cborTag": v.Number,
			"content":  jsonable(v.Content, labels),
		}
	default:
		return v
	}
}

func cborKey(key any, labels map[uint64]string) string {
	switch k := key.(type) {
	case uint64:
		if name, ok := labels[k]; ok {
			return name
		}
		return fmt.Sprint(k)
	case string:
		return k
	case []byte:
		return fmt.Sprintf("h'%x'", k)
	default:
		return fmt.Sprint(k)
	}
}
