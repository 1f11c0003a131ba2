package llm

import "fmt"

// systemPrompt frames every analysis call.
const systemPrompt = `You are a scientific paper analyst specializing in physics and mathematics.
Summarize and classify accurately using precise technical language.
When asked for JSON, output only JSON.`

const briefPrompt = `Summarize this physics/mathematics paper in 1-2 sentences.
Focus on the main contribution and result.

Title: %s

Abstract: %s

Summary:`

const standardPrompt = `Provide a paragraph summary of this physics/mathematics paper.
Include: main objective, methodology, key findings, and significance.

Title: %s

Abstract: %s

Full text excerpt:
%s

Summary:`

const detailedPrompt = `Analyze this physics/mathematics paper and provide a structured summary
covering the main contribution, methodology, key findings, limitations,
and future directions.

Title: %s

Abstract: %s

Full text excerpt:
%s

Analysis:`

const entityPrompt = `Extract the scientific concepts this physics/mathematics text mentions.
Concept kinds: method, theorem, dataset, equation, constant, conjecture, other.

Text:
%s

Output a JSON array:
[{"name": "...", "kind": "method|theorem|dataset|equation|constant|conjecture|other"}]

JSON:`

const classifyPrompt = `Classify this citation from a physics/mathematics paper.

Citation context: "%s"

Intent options:
- method: the citing paper uses methodology or techniques from the cited paper
- background: the citation provides background or establishes context
- result: the citing paper compares to or builds on results from the cited paper
- critique: the citing paper critiques or challenges the cited work
- extension: the citing paper directly extends or generalizes the cited work

Position options: abstract, introduction, methods, results, discussion, other.

Output JSON:
{"intent": "...", "position": "...", "confidence": 0.0}

JSON:`

// summaryPrompt builds the prompt for the given level. Excerpt is optional
// full text; only standard and detailed levels use it.
func summaryPrompt(level SummaryLevel, title, abstract, excerpt string) (GenerateRequest, error) {
	switch level {
	case LevelBrief:
		return GenerateRequest{
			System:      systemPrompt,
			Prompt:      fmt.Sprintf(briefPrompt, title, abstract),
			Temperature: 0.3,
			MaxTokens:   100,
		}, nil
	case LevelStandard:
		return GenerateRequest{
			System:      systemPrompt,
			Prompt:      fmt.Sprintf(standardPrompt, title, abstract, clip(excerpt, 2000)),
			Temperature: 0.5,
			MaxTokens:   300,
		}, nil
	case LevelDetailed:
		return GenerateRequest{
			System:      systemPrompt,
			Prompt:      fmt.Sprintf(detailedPrompt, title, abstract, clip(excerpt, 3000)),
			Temperature: 0.5,
			MaxTokens:   800,
		}, nil
	default:
		return GenerateRequest{}, fmt.Errorf("%w: unknown summary level %q", ErrInvalidInput, level)
	}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
