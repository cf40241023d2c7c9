// Package dialogue drives the multi-round clarification state machine used
// by business problem diagnosis. The engine itself is stateless: each call
// re-derives the phase from the round count and the collected answers, so
// callers thread State through successive calls.
package dialogue

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"peeragent/app/core/llm"
	"peeragent/app/core/parse"
	"peeragent/app/pkg/logger"
	"peeragent/app/pkg/types"
)

type Phase string

const (
	PhaseIdentify Phase = "identify"
	PhaseClarify  Phase = "clarify"
	PhaseDiagnose Phase = "diagnose"
)

const defaultMaxRounds = 3

// State is the caller-held conversation snapshot.
type State struct {
	TaskText  string
	Rounds    int
	MaxRounds int
	// Answers maps earlier questions to the client's replies.
	Answers map[string]string
}

// Diagnosis is the final structured output of the engine.
type Diagnosis struct {
	CustomerStatedProblem     string `json:"customer_stated_problem"`
	IdentifiedBusinessProblem string `json:"identified_business_problem"`
	HiddenRootRisk            string `json:"hidden_root_risk"`
	UrgencyLevel              string `json:"urgency_level"`
}

// Result is the outcome of one engine step. Exactly one of Questions or
// Diagnosis is populated.
type Result struct {
	NeedsMoreInfo bool       `json:"needs_more_info"`
	Phase         Phase      `json:"phase"`
	Rounds        int        `json:"rounds"`
	Questions     []string   `json:"questions,omitempty"`
	Diagnosis     *Diagnosis `json:"diagnosis,omitempty"`
}

var phaseGoals = map[Phase]string{
	PhaseIdentify: "Understand what the client believes the problem is, when it started, and which part of the business it touches.",
	PhaseClarify:  "Quantify the impact, find out which metrics moved, who is affected, and what has already been tried.",
}

var fallbackQuestions = map[Phase][]string{
	PhaseIdentify: {
		"What do you see as the main problem right now?",
		"When did you first notice it?",
		"Which part of the business does it affect most?",
	},
	PhaseClarify: {
		"How is the problem showing up in your numbers?",
		"Who is most affected by it?",
		"What have you already tried to fix it?",
	},
}

// Engine asks clarifying questions until it has enough to diagnose.
type Engine struct {
	client llm.Client
}

func NewEngine(client llm.Client) *Engine {
	return &Engine{client: client}
}

// Step runs one turn of the state machine. Question rounds never fail: a
// model or parse problem degrades to canned questions. Diagnosis likewise
// degrades to a best-effort result instead of erroring.
func (e *Engine) Step(ctx context.Context, state State) Result {
	maxRounds := state.MaxRounds
	if maxRounds <= 0 {
		maxRounds = defaultMaxRounds
	}

	phase := phaseFor(state.Rounds, maxRounds)
	if phase != PhaseDiagnose && state.Rounds < maxRounds {
		questions := e.askQuestions(ctx, phase, state)
		return Result{
			NeedsMoreInfo: true,
			Phase:         phase,
			Rounds:        state.Rounds + 1,
			Questions:     questions,
		}
	}

	diagnosis := e.diagnose(ctx, state)
	return Result{
		Phase:     PhaseDiagnose,
		Rounds:    state.Rounds,
		Diagnosis: diagnosis,
	}
}

func phaseFor(rounds, maxRounds int) Phase {
	if rounds >= maxRounds {
		return PhaseDiagnose
	}
	switch rounds {
	case 0:
		return PhaseIdentify
	case 1:
		return PhaseClarify
	default:
		return PhaseDiagnose
	}
}

func (e *Engine) askQuestions(ctx context.Context, phase Phase, state State) []string {
	system := fmt.Sprintf(`You are a business consultant running a structured diagnosis interview.
Current interview goal: %s

Ask 2-3 short clarifying questions. Respond with JSON only:
{"questions": ["...", "..."], "category": "%s"}`, phaseGoals[phase], phase)

	out, err := e.client.Invoke(ctx, []types.ChatMessage{
		{Role: types.RoleSystem, Content: system},
		{Role: types.RoleUser, Content: buildInterviewContext(state)},
	})
	if err != nil {
		logger.Warn("Question round failed, using canned questions: %v", err)
		return fallbackQuestions[phase]
	}

	if payload, err := parse.ExtractJSON(out); err == nil {
		if questions := parse.StringSlice(payload, "questions"); len(questions) > 0 {
			return capQuestions(questions)
		}
	}
	if questions := parse.Questions(out, 3); len(questions) > 0 {
		return questions
	}
	return fallbackQuestions[phase]
}

func (e *Engine) diagnose(ctx context.Context, state State) *Diagnosis {
	system := `You are a business consultant delivering a final diagnosis.
Based on the interview, respond with JSON only:
{
  "customer_stated_problem": "what the client said the problem is",
  "identified_business_problem": "the actual business problem",
  "hidden_root_risk": "the underlying risk the client has not named",
  "urgency_level": "Low, Medium, or Critical"
}`

	out, err := e.client.Invoke(ctx, []types.ChatMessage{
		{Role: types.RoleSystem, Content: system},
		{Role: types.RoleUser, Content: buildInterviewContext(state)},
	})
	if err != nil {
		logger.Warn("Diagnosis call failed, returning degraded diagnosis: %v", err)
		return degradedDiagnosis(state)
	}

	var diagnosis Diagnosis
	if err := parse.Unmarshal(out, &diagnosis); err != nil {
		logger.Warn("Diagnosis parse failed, returning degraded diagnosis: %v", err)
		return degradedDiagnosis(state)
	}
	diagnosis.UrgencyLevel = normalizeUrgency(diagnosis.UrgencyLevel)
	if strings.TrimSpace(diagnosis.CustomerStatedProblem) == "" {
		diagnosis.CustomerStatedProblem = state.TaskText
	}
	return &diagnosis
}

func degradedDiagnosis(state State) *Diagnosis {
	return &Diagnosis{
		CustomerStatedProblem:     state.TaskText,
		IdentifiedBusinessProblem: "The diagnosis could not be completed automatically. The collected answers suggest a business problem that needs a manual review.",
		HiddenRootRisk:            "Unknown; the automated analysis did not finish.",
		UrgencyLevel:              "Medium",
	}
}

func normalizeUrgency(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "low":
		return "Low"
	case "critical":
		return "Critical"
	default:
		return "Medium"
	}
}

func buildInterviewContext(state State) string {
	var b strings.Builder
	b.WriteString("Client task: ")
	b.WriteString(state.TaskText)

	if len(state.Answers) > 0 {
		b.WriteString("\n\nInterview so far:")
		questions := make([]string, 0, len(state.Answers))
		for q := range state.Answers {
			questions = append(questions, q)
		}
		sort.Strings(questions)
		for _, q := range questions {
			fmt.Fprintf(&b, "\nQ: %s\nA: %s", q, state.Answers[q])
		}
	}
	return b.String()
}

func capQuestions(questions []string) []string {
	if len(questions) > 3 {
		return questions[:3]
	}
	return questions
}
