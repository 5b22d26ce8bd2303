package translation

import "strings"

// SplitContextResponse extracts the translation of text from a response to
// a request that carried context lines before text. The split is by line
// count only; when the response does not have exactly as many lines as the
// request, the whole response is taken as the translation.
func SplitContextResponse(resp string, prior []string, text string) string {
	resp = strings.TrimSpace(resp)
	if len(prior) == 0 || resp == "" {
		return resp
	}
	ctxLines := 0
	for _, c := range prior {
		ctxLines += lineCount(c)
	}
	lines := strings.Split(resp, "\n")
	if len(lines) != ctxLines+lineCount(text) {
		return resp
	}
	return strings.TrimSpace(strings.Join(lines[ctxLines:], "\n"))
}

// JoinContext builds the bundled request body: context lines, then text.
func JoinContext(prior []string, text string) string {
	if len(prior) == 0 {
		return text
	}
	parts := make([]string, 0, len(prior)+1)
	parts = append(parts, prior...)
	parts = append(parts, text)
	return strings.Join(parts, "\n")
}

func lineCount(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 1
	}
	return strings.Count(s, "\n") + 1
}
