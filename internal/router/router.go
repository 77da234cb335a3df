// Package router implements the smart-router seam: a keyword-weighted
// heuristic deciding whether a prompt reads as single-agent work or
// multi-agent (liaison) orchestration. §1 calls the heuristics themselves
// "trivially re-expressible" and out of SPEC_FULL's core, but still gives
// them a concrete seam so the module runs end to end.
//
// Grounded on: original_source/src/takopi/smart_router.py
package router

import (
	"regexp"

	"github.com/classicrob/takopi-go/internal/model"
)

type weightedPattern struct {
	re     *regexp.Regexp
	weight float64
}

var liaisonPatterns = []weightedPattern{
	{regexp.MustCompile(`(?i)refactor\s+(?:all|multiple|across|the\s+entire)\b`), 0.85},
	{regexp.MustCompile(`(?i)update\s+(?:all|every|each)\s+\w+\s+files?\b`), 0.80},
	{regexp.MustCompile(`(?i)migrate\s+(?:from|to|the)\b`), 0.75},
	{regexp.MustCompile(`(?i)coordinate\b`), 0.90},
	{regexp.MustCompile(`(?i)orchestrate\b`), 0.90},
	{regexp.MustCompile(`(?i)in\s+parallel\b`), 0.85},
	{regexp.MustCompile(`(?i)(?:and|then)\s+(?:run|execute)\s+(?:tests?|lint)`), 0.70},
	{regexp.MustCompile(`(?i)(?:build|implement)\s+.+\s+(?:and|with)\s+tests?`), 0.65},
	{regexp.MustCompile(`(?i)full\s+(?:stack|feature|implementation)`), 0.70},
	{regexp.MustCompile(`(?i)entire\s+(?:codebase|project|application)`), 0.80},
	{regexp.MustCompile(`(?i)(?:multiple|several|many)\s+(?:files?|components?|modules?)`), 0.75},
	{regexp.MustCompile(`(?i)across\s+(?:the\s+)?(?:codebase|project)`), 0.80},
}

var simplePatterns = []weightedPattern{
	{regexp.MustCompile(`(?i)^fix\s+(?:the|this|a)\s+\w+`), 0.85},
	{regexp.MustCompile(`(?i)^(?:add|update|change|remove)\s+(?:the|this|a)\s+\w+`), 0.75},
	{regexp.MustCompile(`(?i)typo\b`), 0.90},
	{regexp.MustCompile(`(?i)^what\s+(?:is|does|are)\b`), 0.90},
	{regexp.MustCompile(`(?i)^explain\b`), 0.90},
	{regexp.MustCompile(`(?i)^how\s+(?:do|does|to)\b`), 0.85},
	{regexp.MustCompile(`(?i)^why\s+(?:is|does|do)\b`), 0.85},
	{regexp.MustCompile(`(?i)^read\s+(?:the\s+)?(?:file|code)`), 0.90},
	{regexp.MustCompile(`(?i)in\s+(?:this|the)\s+file\b`), 0.80},
}

func score(patterns []weightedPattern, text string) float64 {
	max := 0.0
	for _, p := range patterns {
		if p.re.MatchString(text) && p.weight > max {
			max = p.weight
		}
	}
	return max
}

// DecisionReason labels why SelectBackend picked the engine it did.
type DecisionReason string

const (
	ReasonExplicit  DecisionReason = "explicit"
	ReasonResume    DecisionReason = "resume"
	ReasonHeuristic DecisionReason = "heuristic"
	ReasonDefault   DecisionReason = "default"
)

// Decision is SelectBackend's full result; callers needing only the engine
// id can ignore the rest.
type Decision struct {
	Engine              model.EngineID
	Reason              DecisionReason
	Confidence          float64
	SuggestedMultiAgent bool
}

// Config parameterizes routing.
type Config struct {
	DefaultEngine     model.EngineID
	AvailableEngines  []model.EngineID
	ExplicitEngine    model.EngineID // set when the prompt carried a "/engine" directive
	ResumeEngine      model.EngineID // set when resuming a prior session
	LiaisonThreshold  float64        // default 0.70
	AutoSwitch        bool           // if true, a high liaison score actually switches the engine
}

func (c Config) hasEngine(id model.EngineID) bool {
	for _, e := range c.AvailableEngines {
		if e == id {
			return true
		}
	}
	return false
}

// SelectBackend decides which engine should handle prompt, per the
// priority explicit > resume > heuristic/default described in
// smart_router.py's SmartRouter.analyze.
func SelectBackend(prompt string, cfg Config) Decision {
	if cfg.ExplicitEngine != "" {
		return Decision{Engine: cfg.ExplicitEngine, Reason: ReasonExplicit, Confidence: 1.0}
	}
	if cfg.ResumeEngine != "" {
		return Decision{Engine: cfg.ResumeEngine, Reason: ReasonResume, Confidence: 1.0}
	}

	threshold := cfg.LiaisonThreshold
	if threshold == 0 {
		threshold = 0.70
	}

	liaisonScore := score(liaisonPatterns, prompt)
	simpleScore := score(simplePatterns, prompt)

	suggested := liaisonScore >= threshold && liaisonScore > simpleScore && cfg.hasEngine("liaison")

	if suggested && cfg.AutoSwitch {
		return Decision{Engine: "liaison", Reason: ReasonHeuristic, Confidence: liaisonScore, SuggestedMultiAgent: true}
	}

	confidence := simpleScore
	if confidence < 0.5 {
		confidence = 0.5
	}
	return Decision{Engine: cfg.DefaultEngine, Reason: ReasonDefault, Confidence: confidence, SuggestedMultiAgent: suggested}
}
