package logx

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	defaultOpsTimeout = 10 * time.Second
	opsLineMax        = 3500
	opsValueMax       = 600
)

// formatOpsLine renders a JSON log line as "[LEVEL] message" followed by
// one "- key=value" line per field, keys sorted. Input that is not JSON is
// passed through trimmed.
func formatOpsLine(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return truncate(strings.TrimSpace(string(p)), opsLineMax)
	}

	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := m["message"].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, truncate(fmt.Sprint(m[k]), opsValueMax))
	}
	return truncate(b.String(), opsLineMax)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
