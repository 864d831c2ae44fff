// Package jsoncodec is the JSON encoder used for application messages and
// monitor records.
package jsoncodec

import (
	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// MarshalString encodes v and returns it as a string.
func MarshalString(v any) (string, error) {
	return defaultConfig.MarshalToString(v)
}
