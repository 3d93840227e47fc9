package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/haasonsaas/nexus/internal/mcp"
)

type fakeAsker struct {
	reply string
	err   error
}

func (f *fakeAsker) Ask(ctx context.Context, model, systemPrompt, userContent string, maxTokens int) (string, error) {
	return f.reply, f.err
}

func TestPlannerPlanParsesWellFormedReply(t *testing.T) {
	asker := &fakeAsker{reply: `{"candidate_tools":["search__lookup","fs__read"],"broad_search":false,"intent":"find a file"}`}
	p := NewPlanner(asker, "cheap-model")

	plan, err := p.Plan(context.Background(), "user: find the readme", []mcp.ToolSummaryView{
		{QualifiedName: "search__lookup", Description: "search"},
		{QualifiedName: "fs__read", Description: "read a file"},
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan == nil {
		t.Fatal("expected a non-nil plan")
	}
	if plan.BroadSearch {
		t.Fatal("expected broad_search=false")
	}
	if len(plan.CandidateTools) != 2 || plan.CandidateTools[0] != "search__lookup" {
		t.Fatalf("unexpected candidate tools: %+v", plan.CandidateTools)
	}
}

func TestPlannerPlanToleratesSurroundingProse(t *testing.T) {
	asker := &fakeAsker{reply: "Sure, here you go:\n" + `{"candidate_tools":["a"],"broad_search":false,"intent":"x"}` + "\nhope that helps!"}
	p := NewPlanner(asker, "")

	plan, err := p.Plan(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan == nil || len(plan.CandidateTools) != 1 || plan.CandidateTools[0] != "a" {
		t.Fatalf("expected the embedded JSON object to be extracted, got %+v", plan)
	}
}

func TestPlannerPlanDegradesToNilOnAskerError(t *testing.T) {
	asker := &fakeAsker{err: errors.New("upstream unavailable")}
	p := NewPlanner(asker, "cheap-model")

	plan, err := p.Plan(context.Background(), "tail", nil)
	if err != nil {
		t.Fatalf("expected a nil error on asker failure, got %v", err)
	}
	if plan != nil {
		t.Fatalf("expected a nil plan on asker failure, got %+v", plan)
	}
}

func TestPlannerPlanDegradesToNilOnMalformedJSON(t *testing.T) {
	asker := &fakeAsker{reply: "not json at all"}
	p := NewPlanner(asker, "cheap-model")

	plan, err := p.Plan(context.Background(), "tail", nil)
	if err != nil {
		t.Fatalf("expected a nil error on malformed JSON, got %v", err)
	}
	if plan != nil {
		t.Fatalf("expected a nil plan on malformed JSON, got %+v", plan)
	}
}

func TestPlannerPlanNilPlannerIsSafe(t *testing.T) {
	var p *Planner
	plan, err := p.Plan(context.Background(), "tail", nil)
	if err != nil || plan != nil {
		t.Fatalf("expected (nil, nil) from a nil *Planner, got (%+v, %v)", plan, err)
	}
}

func TestNarrowToolsFallsBackToFullListWhenIntersectionEmpty(t *testing.T) {
	tools := []mcp.OpenAITool{
		{Function: mcp.OpenAIFunction{Name: "search__lookup"}},
		{Function: mcp.OpenAIFunction{Name: "fs__read"}},
	}

	narrowed := narrowTools(tools, []string{"nonexistent_tool"})
	if len(narrowed) != len(tools) {
		t.Fatalf("expected fallback to the full tool list, got %+v", narrowed)
	}

	narrowed = narrowTools(tools, []string{"fs__read"})
	if len(narrowed) != 1 || narrowed[0].Function.Name != "fs__read" {
		t.Fatalf("expected narrowing to the matched tool only, got %+v", narrowed)
	}
}
