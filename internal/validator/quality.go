package validator

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/obra-run/obra/internal/llmgateway"
)

// qualityPattern matches "QUALITY: 0.78" (or "QUALITY: 1"), case-insensitive.
var qualityPattern = regexp.MustCompile(`(?i)QUALITY:\s*([01](?:\.\d+)?)`)

// subscorePattern matches "SUBSCORE <name>: 0.x" lines.
var subscorePattern = regexp.MustCompile(`(?i)SUBSCORE\s+(\w+):\s*([01](?:\.\d+)?)`)

// commentPattern matches an optional trailing "COMMENT: ..." line.
var commentPattern = regexp.MustCompile(`(?i)COMMENT:\s*(.+)`)

// QualityResult is stage 2's verdict. Errored is set when the model's
// reply could not be parsed into a score at all — a validator-boundary
// failure, not a judgment about the Implementer's work.
type QualityResult struct {
	Quality   float64
	Subscores map[string]float64
	Comment   string
	Errored   bool
	RawReply  string
}

// qualityPromptTemplate is deterministic in structure: the same task
// description, response, and guidance always produce the same prompt, so
// scoring is reproducible given the same model.
const qualityPromptTemplate = `You are scoring one iteration of an automated coding agent's work.

TASK:
%s

IMPLEMENTER RESPONSE:
%s
%s
Respond with exactly these lines:
QUALITY: <a number between 0 and 1>
SUBSCORE correctness: <0-1>
SUBSCORE completeness: <0-1>
COMMENT: <one sentence>`

// ScoreQuality sends a structured scoring request to the Orchestrator LLM
// and parses its reply. toOrchGuidance may be empty.
func ScoreQuality(ctx context.Context, gw llmgateway.Gateway, taskDescription, response, toOrchGuidance string) QualityResult {
	guidance := ""
	if toOrchGuidance != "" {
		guidance = fmt.Sprintf("\nGUIDANCE FROM OPERATOR:\n%s\n", toOrchGuidance)
	}
	prompt := fmt.Sprintf(qualityPromptTemplate, taskDescription, response, guidance)

	reply, err := gw.Send(ctx, prompt, llmgateway.SendOptions{Structured: true})
	if err != nil {
		return QualityResult{Quality: 0, Errored: true}
	}
	return parseQualityReply(reply.Text)
}

func parseQualityReply(text string) QualityResult {
	match := qualityPattern.FindStringSubmatch(text)
	if match == nil {
		return QualityResult{Quality: 0, Errored: true, RawReply: text}
	}
	quality, err := strconv.ParseFloat(match[1], 64)
	if err != nil || quality < 0 || quality > 1 {
		return QualityResult{Quality: 0, Errored: true, RawReply: text}
	}

	subscores := map[string]float64{}
	for _, m := range subscorePattern.FindAllStringSubmatch(text, -1) {
		if v, err := strconv.ParseFloat(m[2], 64); err == nil {
			subscores[strings.ToLower(m[1])] = v
		}
	}

	comment := ""
	if m := commentPattern.FindStringSubmatch(text); m != nil {
		comment = strings.TrimSpace(m[1])
	}

	return QualityResult{Quality: quality, Subscores: subscores, Comment: comment, RawReply: text}
}
