package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
)

// extractJSONObject pulls the outermost JSON object out of model text,
// tolerating markdown fences and chatter around it
func extractJSONObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return "", fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return "", fmt.Errorf("invalid JSON object in response")
	}
	return text[startIdx : endIdx+1], nil
}

// responseFromModelText wraps raw model output into the endpoint response
// shape. Model-level failures become success=false with the raw text kept
// as diagnostic context.
func responseFromModelText(text string) *OCRResponse {
	obj, err := extractJSONObject(text)
	if err != nil {
		return &OCRResponse{
			Success:  false,
			Error:    "the receipt could not be read",
			RawModel: text,
		}
	}

	var probe struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(obj), &probe); err != nil {
		return &OCRResponse{
			Success:  false,
			Error:    "the receipt could not be read",
			RawModel: text,
		}
	}
	if probe.Error != "" {
		return &OCRResponse{
			Success:  false,
			Error:    probe.Error,
			RawModel: text,
		}
	}

	return &OCRResponse{
		Success:  true,
		Data:     json.RawMessage(obj),
		RawModel: text,
	}
}
