package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// RegisterBuiltins installs the demo tools used by offline runs and tests:
// echo reflects its params, wait sleeps, fail always errors.
func RegisterBuiltins(r *Registry) {
	r.Register("echo", "reflect parameters back as output", echoTool)
	r.Register("wait", "sleep for the given number of milliseconds", waitTool)
	r.Register("fail", "always fail, for exercising failure paths", failTool)
}

func echoTool(_ context.Context, params map[string]interface{}) (string, error) {
	if len(params) == 0 {
		return "echo", nil
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return strings.Join(parts, " "), nil
}

func waitTool(ctx context.Context, params map[string]interface{}) (string, error) {
	ms := 10
	if raw, ok := params["ms"]; ok {
		switch v := raw.(type) {
		case int:
			ms = v
		case float64:
			ms = int(v)
		case string:
			parsed, err := strconv.Atoi(v)
			if err != nil {
				return "", fmt.Errorf("invalid ms value %q: %w", v, err)
			}
			ms = parsed
		}
	}
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return fmt.Sprintf("waited %dms", ms), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func failTool(_ context.Context, params map[string]interface{}) (string, error) {
	if reason, ok := params["reason"].(string); ok && reason != "" {
		return "", errors.New(reason)
	}
	return "", errors.New("deliberate failure")
}
