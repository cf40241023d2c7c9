// Package classify maps free-text tasks to handler categories. A keyword
// tier answers the clear cases without a model call; ambiguous input falls
// back to a single model invocation.
package classify

import (
	"context"
	"strings"

	"peeragent/app/core/llm"
	"peeragent/app/pkg/logger"
	"peeragent/app/pkg/types"
)

// categoryKeywords maps each category to its trigger substrings, matched
// case-insensitively against the task text.
var categoryKeywords = map[types.Category][]string{
	types.CategoryCode: {
		"code", "script", "function", "program", "python", "javascript", "java",
		"write", "implement", "create a", "debug", "fix code", "algorithm",
		"class", "method", "api", "database query", "sql", "html", "css",
		"typescript", "react", "vue", "angular", "backend", "frontend",
	},
	types.CategoryContent: {
		"search", "find", "research", "what is", "explain", "how does",
		"information about", "tell me about", "describe",
		"news about", "latest", "current", "article", "content about",
	},
	types.CategoryBusiness: {
		"sales", "revenue", "profit", "cost", "customer", "market",
		"business problem", "company", "organization", "strategy",
		"growth", "decline", "dropping", "increasing", "operational",
		"efficiency", "process", "workflow", "team", "management",
		"budget", "investment", "roi", "kpi", "metric", "performance",
		"diagnosis", "analyze my", "understand why", "root cause",
	},
	types.CategorySummary: {
		"summarize", "summary", "tldr", "condense", "brief", "shorten",
		"key points", "main points", "overview of",
	},
	types.CategoryTranslate: {
		"translate", "translation", "in english", "in spanish", "in french",
		"in german", "in turkish", "to english", "to turkish",
	},
	types.CategoryEmail: {
		"email", "draft email", "write email", "compose email",
		"professional email", "business email", "reply email",
	},
	types.CategoryData: {
		"data analysis", "analyze data", "csv", "excel", "spreadsheet",
		"statistics", "dataset", "data insights", "trends in data",
	},
	types.CategoryCompetitor: {
		"competitor", "competition", "market analysis", "swot",
		"competitive analysis", "rival", "industry analysis",
	},
}

const systemPrompt = `You are an intelligent task router. Classify the incoming task into exactly one category:

CODE: writing, debugging, or explaining code
CONTENT: research, information gathering, or content creation
BUSINESS: business problem diagnosis, analysis, or consulting
SUMMARY: summarizing text or documents
TRANSLATE: translating text between languages
EMAIL: drafting professional emails
DATA: analyzing data or statistics
COMPETITOR: analyzing competitors or markets

Respond with ONLY one word: CODE, CONTENT, BUSINESS, SUMMARY, TRANSLATE, EMAIL, DATA, or COMPETITOR`

// labelOrder is the parse order for the model's reply. Narrow-domain labels
// are checked before the broad ones so a well-formed "DATA" answer is not
// swallowed by a stray "CODE" substring elsewhere in the reply.
var labelOrder = []types.Category{
	types.CategorySummary,
	types.CategoryTranslate,
	types.CategoryEmail,
	types.CategoryData,
	types.CategoryCompetitor,
	types.CategoryCode,
	types.CategoryBusiness,
	types.CategoryContent,
}

// Classifier picks a handler category for a task. The zero value is not
// usable; construct with New.
type Classifier struct {
	client llm.Client
	// singleMatchPriority lists the narrow categories for which one keyword
	// hit is decisive, in priority order. Configuration, not code: the exact
	// ordering is under product review.
	singleMatchPriority []types.Category
}

func New(client llm.Client, singleMatchPriority []string) *Classifier {
	c := &Classifier{client: client}
	for _, raw := range singleMatchPriority {
		if cat, ok := types.ParseCategory(raw); ok {
			c.singleMatchPriority = append(c.singleMatchPriority, cat)
		}
	}
	if len(c.singleMatchPriority) == 0 {
		c.singleMatchPriority = []types.Category{
			types.CategorySummary, types.CategoryTranslate, types.CategoryEmail,
			types.CategoryData, types.CategoryCompetitor,
		}
	}
	return c
}

// Classify never fails: ambiguity resolves through the model fallback and a
// model error resolves to the broadest category.
func (c *Classifier) Classify(ctx context.Context, task string) types.Category {
	if cat, ok := c.keywordClassify(task); ok {
		logger.Debug("Task classified by keywords: %s", cat)
		return cat
	}
	cat := c.modelClassify(ctx, task)
	logger.Debug("Task classified by model: %s", cat)
	return cat
}

func (c *Classifier) keywordClassify(task string) (types.Category, bool) {
	lower := strings.ToLower(task)

	scores := map[types.Category]int{}
	for cat, keywords := range categoryKeywords {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				scores[cat]++
			}
		}
	}

	maxScore := 0
	for _, score := range scores {
		if score > maxScore {
			maxScore = score
		}
	}

	if maxScore >= 2 {
		var winners []types.Category
		for cat, score := range scores {
			if score == maxScore {
				winners = append(winners, cat)
			}
		}
		if len(winners) == 1 {
			return winners[0], true
		}
		return "", false
	}

	// A lone keyword is decisive only for the narrow-domain categories.
	if maxScore == 1 {
		for _, cat := range c.singleMatchPriority {
			if scores[cat] == 1 {
				return cat, true
			}
		}
	}

	return "", false
}

func (c *Classifier) modelClassify(ctx context.Context, task string) types.Category {
	out, err := c.client.Invoke(ctx, []types.ChatMessage{
		{Role: types.RoleSystem, Content: systemPrompt},
		{Role: types.RoleUser, Content: "Classify this task: " + task},
	})
	if err != nil {
		logger.Warn("Model classification failed, defaulting to content: %v", err)
		return types.CategoryContent
	}

	upper := strings.ToUpper(out)
	for _, cat := range labelOrder {
		if strings.Contains(upper, strings.ToUpper(string(cat))) {
			return cat
		}
	}
	return types.CategoryContent
}
