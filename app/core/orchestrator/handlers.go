package orchestrator

import (
	"context"
	"fmt"

	"peeragent/app/core/dialogue"
	"peeragent/app/core/llm"
	"peeragent/app/core/parse"
	"peeragent/app/core/search"
	"peeragent/app/pkg/logger"
	"peeragent/app/pkg/types"
)

// textHandler covers the single-shot prompt categories: summary, translate,
// email and data. Each differs only in its system prompt.
type textHandler struct {
	category types.Category
	client   llm.Client
	system   string
}

var textPrompts = map[types.Category]string{
	types.CategorySummary:   "You are a summarization assistant. Produce a concise summary of the given text, keeping the key points and dropping filler.",
	types.CategoryTranslate: "You are a translation assistant. Translate the given text to the requested language, preserving tone and meaning. If no target language is named, translate to English.",
	types.CategoryEmail:     "You are an email writing assistant. Draft a clear, professional email for the given request, with a subject line and an appropriate sign-off.",
	types.CategoryData:      "You are a data analysis assistant. Analyze the described data or numbers, name the trends you see, and state your conclusions plainly.",
}

// NewTextHandler builds one of the single-shot prompt handlers.
func NewTextHandler(category types.Category, client llm.Client) Handler {
	system, ok := textPrompts[category]
	if !ok {
		system = "You are a helpful assistant."
	}
	return &textHandler{category: category, client: client, system: system}
}

func (h *textHandler) Category() types.Category {
	return h.category
}

func (h *textHandler) Handle(ctx context.Context, req Request) (map[string]interface{}, error) {
	out, err := h.client.Invoke(ctx, withHistory(h.system, req))
	if err != nil {
		return nil, fmt.Errorf("%s handler: %w", h.category, err)
	}
	return map[string]interface{}{
		"type":     "text",
		"category": string(h.category),
		"response": out,
	}, nil
}

// codeHandler answers programming tasks and splits the reply into code and
// explanation.
type codeHandler struct {
	client llm.Client
}

func NewCodeHandler(client llm.Client) Handler {
	return &codeHandler{client: client}
}

func (h *codeHandler) Category() types.Category {
	return types.CategoryCode
}

func (h *codeHandler) Handle(ctx context.Context, req Request) (map[string]interface{}, error) {
	system := "You are an expert software engineer. Answer the programming task with working code in a fenced code block, followed by a short explanation."
	out, err := h.client.Invoke(ctx, withHistory(system, req))
	if err != nil {
		return nil, fmt.Errorf("code handler: %w", err)
	}

	code, language := parse.FencedCode(out)
	return map[string]interface{}{
		"type":        "code",
		"category":    string(types.CategoryCode),
		"code":        code,
		"language":    language,
		"explanation": out,
	}, nil
}

// contentHandler researches a topic, enriching the prompt with web search
// results when they are available.
type contentHandler struct {
	client   llm.Client
	searcher search.Searcher
}

func NewContentHandler(client llm.Client, searcher search.Searcher) Handler {
	return &contentHandler{client: client, searcher: searcher}
}

func (h *contentHandler) Category() types.Category {
	return types.CategoryContent
}

func (h *contentHandler) Handle(ctx context.Context, req Request) (map[string]interface{}, error) {
	searchContext, sources := searchFor(ctx, h.searcher, req.Task)

	system := "You are a research assistant. Answer the question accurately and cite the provided sources when they are relevant."
	if searchContext != "" {
		system += "\n\n" + searchContext
	}

	out, err := h.client.Invoke(ctx, withHistory(system, req))
	if err != nil {
		return nil, fmt.Errorf("content handler: %w", err)
	}

	result := map[string]interface{}{
		"type":     "text",
		"category": string(types.CategoryContent),
		"response": out,
	}
	if len(sources) > 0 {
		result["sources"] = sources
	}
	return result, nil
}

// competitorHandler analyzes a market or competitor, backed by web search.
type competitorHandler struct {
	client   llm.Client
	searcher search.Searcher
}

func NewCompetitorHandler(client llm.Client, searcher search.Searcher) Handler {
	return &competitorHandler{client: client, searcher: searcher}
}

func (h *competitorHandler) Category() types.Category {
	return types.CategoryCompetitor
}

func (h *competitorHandler) Handle(ctx context.Context, req Request) (map[string]interface{}, error) {
	searchContext, sources := searchFor(ctx, h.searcher, req.Task)

	system := "You are a market analyst. Analyze the named competitor or market: positioning, strengths, weaknesses, and notable recent moves. Ground your analysis in the provided sources when present."
	if searchContext != "" {
		system += "\n\n" + searchContext
	}

	out, err := h.client.Invoke(ctx, withHistory(system, req))
	if err != nil {
		return nil, fmt.Errorf("competitor handler: %w", err)
	}

	result := map[string]interface{}{
		"type":     "text",
		"category": string(types.CategoryCompetitor),
		"response": out,
	}
	if len(sources) > 0 {
		result["sources"] = sources
	}
	return result, nil
}

// businessHandler drives the clarification state machine. Round count and
// collected answers arrive through the request context, so the duplex
// channel and the HTTP continue endpoint share one code path.
type businessHandler struct {
	engine    *dialogue.Engine
	maxRounds int
}

func NewBusinessHandler(client llm.Client, maxRounds int) Handler {
	return &businessHandler{engine: dialogue.NewEngine(client), maxRounds: maxRounds}
}

func (h *businessHandler) Category() types.Category {
	return types.CategoryBusiness
}

func (h *businessHandler) Handle(ctx context.Context, req Request) (map[string]interface{}, error) {
	state := dialogue.State{
		TaskText:  req.Task,
		MaxRounds: h.maxRounds,
		Rounds:    contextInt(req.Context, "rounds"),
		Answers:   contextAnswers(req.Context),
	}

	result := h.engine.Step(ctx, state)
	if result.NeedsMoreInfo {
		return map[string]interface{}{
			"type":            "questions",
			"category":        string(types.CategoryBusiness),
			"needs_more_info": true,
			"phase":           string(result.Phase),
			"rounds":          result.Rounds,
			"questions":       result.Questions,
		}, nil
	}

	return map[string]interface{}{
		"type":     "diagnosis",
		"category": string(types.CategoryBusiness),
		"phase":    string(result.Phase),
		"rounds":   result.Rounds,
		"diagnosis": map[string]interface{}{
			"customer_stated_problem":     result.Diagnosis.CustomerStatedProblem,
			"identified_business_problem": result.Diagnosis.IdentifiedBusinessProblem,
			"hidden_root_risk":            result.Diagnosis.HiddenRootRisk,
			"urgency_level":               result.Diagnosis.UrgencyLevel,
		},
	}, nil
}

// RegisterDefaults wires the full handler roster onto the orchestrator.
func RegisterDefaults(o *Orchestrator, client llm.Client, searcher search.Searcher, maxRounds int) {
	o.Register(NewCodeHandler(client))
	o.Register(NewContentHandler(client, searcher))
	o.Register(NewBusinessHandler(client, maxRounds))
	o.Register(NewCompetitorHandler(client, searcher))
	for _, cat := range []types.Category{
		types.CategorySummary, types.CategoryTranslate, types.CategoryEmail, types.CategoryData,
	} {
		o.Register(NewTextHandler(cat, client))
	}
}

func withHistory(system string, req Request) []types.ChatMessage {
	messages := make([]types.ChatMessage, 0, len(req.History)+2)
	messages = append(messages, types.ChatMessage{Role: types.RoleSystem, Content: system})
	messages = append(messages, req.History...)
	messages = append(messages, types.ChatMessage{Role: types.RoleUser, Content: req.Task})
	return messages
}

// searchFor runs a best-effort web search; a failure degrades to no context.
func searchFor(ctx context.Context, searcher search.Searcher, query string) (string, []map[string]string) {
	if searcher == nil {
		return "", nil
	}
	items, err := searcher.Search(ctx, query, 5)
	if err != nil {
		logger.Warn("Search failed, continuing without context: %v", err)
		return "", nil
	}

	var sources []map[string]string
	for _, item := range items {
		sources = append(sources, map[string]string{"title": item.Title, "url": item.URL})
	}
	return search.FormatContext(items), sources
}

func contextInt(m map[string]interface{}, key string) int {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func contextAnswers(m map[string]interface{}) map[string]string {
	answers := make(map[string]string)
	if m == nil {
		return answers
	}
	raw, ok := m["answers"].(map[string]interface{})
	if !ok {
		return answers
	}
	for q, a := range raw {
		answers[q] = fmt.Sprint(a)
	}
	return answers
}
