package audit

import (
	"encoding/json"
	"fmt"
	"strings"
)

// VerdictError indicates a reasoner response that violates the verdict
// schema. It is a transient engine fault: the engine retries the
// evaluation rather than treating the response as a verdict.
type VerdictError struct {
	Detail string
}

func (e *VerdictError) Error() string {
	return fmt.Sprintf("malformed audit verdict: %s", e.Detail)
}

// parseVerdict validates a raw reasoner response against the strict
// verdict schema: verdict pass|fail, non-empty reason, and issues when the
// verdict is fail. Anything else is a VerdictError, never a best-effort
// string scrape.
func parseVerdict(raw string) (*Response, error) {
	jsonStr := extractJSON(raw)
	if jsonStr == "" {
		return nil, &VerdictError{Detail: "no JSON object in response"}
	}

	var resp Response
	if err := json.Unmarshal([]byte(jsonStr), &resp); err != nil {
		return nil, &VerdictError{Detail: fmt.Sprintf("unmarshal: %v", err)}
	}

	resp.Verdict = strings.ToLower(strings.TrimSpace(resp.Verdict))
	resp.Reason = strings.TrimSpace(resp.Reason)

	switch resp.Verdict {
	case "pass", "fail":
	default:
		return nil, &VerdictError{Detail: fmt.Sprintf("verdict %q is not pass or fail", resp.Verdict)}
	}
	if resp.Reason == "" {
		// Decisions without rationale are rejected outright.
		return nil, &VerdictError{Detail: "reason is empty"}
	}
	if resp.Verdict == "fail" && len(resp.Issues) == 0 {
		return nil, &VerdictError{Detail: "fail verdict without issues"}
	}

	issues := resp.Issues[:0]
	for _, issue := range resp.Issues {
		if trimmed := strings.TrimSpace(issue); trimmed != "" {
			issues = append(issues, trimmed)
		}
	}
	resp.Issues = issues
	if resp.Verdict == "fail" && len(resp.Issues) == 0 {
		return nil, &VerdictError{Detail: "fail verdict with only blank issues"}
	}

	return &resp, nil
}

// extractJSON pulls JSON content out of a response that may wrap it in
// markdown code fences or surrounding prose.
func extractJSON(response string) string {
	// Fenced ```json block first.
	start := strings.Index(response, "```json")
	if start != -1 {
		start += 7
		if end := strings.Index(response[start:], "```"); end != -1 {
			return strings.TrimSpace(response[start : start+end])
		}
	}

	// Plain fenced block.
	start = strings.Index(response, "```")
	if start != -1 {
		start += 3
		if end := strings.Index(response[start:], "```"); end != -1 {
			return strings.TrimSpace(response[start : start+end])
		}
	}

	// Raw JSON: balance braces from the first '{'.
	start = strings.Index(response, "{")
	if start != -1 {
		depth := 0
		for i := start; i < len(response); i++ {
			switch response[i] {
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return response[start : i+1]
				}
			}
		}
	}

	return ""
}
