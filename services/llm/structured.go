package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
)

// ExtractJSON finds the first JSON object or array embedded in an LLM
// response. Models often wrap JSON in markdown fences or prose; this
// strips everything outside the outermost braces.
func ExtractJSON(response string) (string, error) {
	cleaned := strings.TrimSpace(response)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	objStart := strings.Index(cleaned, "{")
	arrStart := strings.Index(cleaned, "[")

	start, closer := objStart, "}"
	if objStart == -1 || (arrStart != -1 && arrStart < objStart) {
		start, closer = arrStart, "]"
	}

	if start == -1 {
		return "", fmt.Errorf("no JSON found in response")
	}

	end := strings.LastIndex(cleaned, closer)
	if end == -1 || end <= start {
		return "", fmt.Errorf("unterminated JSON in response")
	}

	return cleaned[start : end+1], nil
}

// GenerateStructured runs a prompt that must yield JSON matching out's
// shape. On a malformed first response it makes exactly one repair
// attempt that feeds the bad output back to the model. If the repair
// also fails, the returned error wraps ErrUnstructuredOutput.
func GenerateStructured(ctx context.Context, client LLMClient, prompt string, params GenerationParams, out any) error {
	response, err := client.Generate(ctx, prompt, params)
	if err != nil {
		return err
	}

	parseErr := parseInto(response, out)
	if parseErr == nil {
		return nil
	}

	slog.Warn("LLM returned malformed JSON, attempting repair", "error", parseErr)

	repairPrompt := fmt.Sprintf(`Your previous response was not valid JSON.

Previous response:
%s

Error: %s

Respond again with ONLY the corrected JSON. No explanation, no markdown fences.`,
		truncateForRepair(response), parseErr)

	response, err = client.Generate(ctx, repairPrompt, params)
	if err != nil {
		return err
	}

	if parseErr = parseInto(response, out); parseErr != nil {
		return fmt.Errorf("repair attempt failed: %v: %w", parseErr, datatypes.ErrUnstructuredOutput)
	}
	return nil
}

// parseInto extracts and unmarshals the JSON portion of a response.
func parseInto(response string, out any) error {
	jsonStr, err := ExtractJSON(response)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(jsonStr), out); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return nil
}

// truncateForRepair limits how much of a bad response gets echoed back.
func truncateForRepair(s string) string {
	const limit = 2000
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
