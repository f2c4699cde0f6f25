package agentapi

import (
	"fmt"
	"strings"
)

// extractJSON pulls the first JSON value delimited by open/close out of a
// model response. Models occasionally wrap the payload in prose or fences,
// so we slice rather than require a clean body.
func extractJSON(response string, open, close string) (string, error) {
	start := strings.Index(response, open)
	end := strings.LastIndex(response, close)
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("no %s...%s JSON found in response", open, close)
	}
	return response[start : end+1], nil
}
