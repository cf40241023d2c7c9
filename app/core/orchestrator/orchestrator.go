// Package orchestrator is the single entry point for task execution: it
// classifies the task, dispatches to the bound handler, and records the
// exchange in session memory.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"peeragent/app/core/classify"
	"peeragent/app/core/memory"
	"peeragent/app/pkg/logger"
	"peeragent/app/pkg/types"
)

// Request carries one task invocation into a handler.
type Request struct {
	Task      string
	SessionID string
	TaskID    string
	History   []types.ChatMessage
	// Context is the caller-supplied free-form map; multi-turn handlers use
	// it to thread collected answers between calls.
	Context map[string]interface{}
}

// Handler executes tasks of one category.
type Handler interface {
	Category() types.Category
	Handle(ctx context.Context, req Request) (map[string]interface{}, error)
}

// Result is the tagged outcome of one execution: Output on success, Err on
// handler failure. Category is always set once classification ran.
type Result struct {
	Category types.Category         `json:"category"`
	Output   map[string]interface{} `json:"output,omitempty"`
	Err      error                  `json:"-"`
}

func (r Result) Failed() bool {
	return r.Err != nil
}

type Orchestrator struct {
	classifier *classify.Classifier
	memory     *memory.Store
	handlers   map[types.Category]Handler
}

func New(classifier *classify.Classifier, mem *memory.Store) *Orchestrator {
	return &Orchestrator{
		classifier: classifier,
		memory:     mem,
		handlers:   make(map[types.Category]Handler),
	}
}

// Register binds a handler to its category, replacing any previous binding.
func (o *Orchestrator) Register(handler Handler) {
	o.handlers[handler.Category()] = handler
}

// Categories lists the registered handler categories.
func (o *Orchestrator) Categories() []types.Category {
	var out []types.Category
	for _, cat := range types.Categories() {
		if _, ok := o.handlers[cat]; ok {
			out = append(out, cat)
		}
	}
	return out
}

// Execute classifies the task and runs the matching handler. Validation
// failures surface before classification; handler failures come back as a
// structured error result, never a panic.
func (o *Orchestrator) Execute(ctx context.Context, task, sessionID, taskID string, taskContext map[string]interface{}) Result {
	if strings.TrimSpace(task) == "" {
		return Result{Err: types.ErrEmptyTask}
	}

	category := o.classifier.Classify(ctx, task)
	return o.dispatch(ctx, category, task, sessionID, taskID, taskContext)
}

// ExecuteDirect bypasses classification for callers that already know the
// target handler.
func (o *Orchestrator) ExecuteDirect(ctx context.Context, category types.Category, task, sessionID, taskID string, taskContext map[string]interface{}) Result {
	if strings.TrimSpace(task) == "" {
		return Result{Category: category, Err: types.ErrEmptyTask}
	}
	return o.dispatch(ctx, category, task, sessionID, taskID, taskContext)
}

func (o *Orchestrator) dispatch(ctx context.Context, category types.Category, task, sessionID, taskID string, taskContext map[string]interface{}) Result {
	handler, ok := o.handlers[category]
	if !ok {
		return Result{Category: category, Err: fmt.Errorf("no handler registered for category %q", category)}
	}

	req := Request{
		Task:      task,
		SessionID: sessionID,
		TaskID:    taskID,
		History:   o.memory.History(sessionID),
		Context:   taskContext,
	}

	output, err := o.runHandler(ctx, handler, req)
	if err != nil {
		logger.Error("Handler %s failed for task %s: %v", category, taskID, err)
		return Result{Category: category, Err: err}
	}

	o.remember(sessionID, task, output)
	return Result{Category: category, Output: output}
}

func (o *Orchestrator) runHandler(ctx context.Context, handler Handler, req Request) (output map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.Handle(ctx, req)
}

func (o *Orchestrator) remember(sessionID, task string, output map[string]interface{}) {
	if sessionID == "" {
		return
	}
	o.memory.AddMessage(sessionID, types.ChatMessage{Role: types.RoleUser, Content: task})

	serialized, err := json.Marshal(output)
	if err != nil {
		serialized = []byte(fmt.Sprint(output))
	}
	o.memory.AddMessage(sessionID, types.ChatMessage{Role: types.RoleAssistant, Content: string(serialized)})
}
