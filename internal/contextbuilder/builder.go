// Package contextbuilder assembles the agent input bundle: ancestor goals,
// dependency results, and the overall objective, rendered into a stable,
// section-delimited "Context Format" adapters can parse predictably.
//
// Builds a deterministic, ordered textual summary ahead of dispatch, with
// a size policy (20,000-word threshold, summarizer fallback, paragraph-
// boundary truncation) for bundles that would otherwise grow unbounded.
package contextbuilder

import (
	"fmt"
	"strings"

	"taskweaver/internal/graph"
	"taskweaver/internal/knowledge"
	"taskweaver/internal/node"
)

// Kind selects which strategy Build uses.
type Kind string

const (
	KindPlanning     Kind = "planning"
	KindExecution    Kind = "execution"
	KindModification Kind = "modification"
	KindAggregation  Kind = "aggregation"
	KindAtomization  Kind = "atomization"
)

// MaxWords is the size-policy threshold: full content is included when the
// combined word count is at or below this, otherwise the bundle is
// summarized or truncated.
const MaxWords = 20000

// MaxAncestorLayers bounds how many levels of parent goals Planning/
// Execution/Modification contexts include.
const MaxAncestorLayers = 5

// Summarizer is the optional adapter role invoked when a context bundle
// exceeds MaxWords; it must return a detailed summary that preserves
// findings, numbers, citations, and recommendations.
type Summarizer interface {
	Summarize(text string) (string, error)
}

// Builder renders context bundles from graph + knowledge-store state.
type Builder struct {
	g          *graph.Graph
	k          *knowledge.Store
	summarizer Summarizer
	objective  string
}

// New constructs a Builder. summarizer may be nil, in which case the size
// policy falls back to paragraph-boundary truncation.
func New(g *graph.Graph, k *knowledge.Store, objective string, summarizer Summarizer) *Builder {
	return &Builder{g: g, k: k, objective: objective, summarizer: summarizer}
}

// Build renders the context bundle for n under the given Kind.
func (b *Builder) Build(kind Kind, n *node.TaskNode) (string, error) {
	var sections []section
	switch kind {
	case KindAtomization:
		sections = []section{{"Task Goal", n.Goal}}
	case KindAggregation:
		sections = []section{
			joinSections("Task Dependencies", b.taskHierarchySection(n), b.horizontalDependenciesSection(n)),
			b.childResultsSection(n),
		}
	case KindModification:
		sections = []section{
			joinSections("Task Dependencies", b.taskHierarchySection(n), b.dependencyResultsSection(n)),
			{"Planning Context", b.objective},
			b.modificationSection(n),
		}
	default: // planning, execution
		sections = []section{
			joinSections("Task Dependencies", b.taskHierarchySection(n), b.dependencyResultsSection(n)),
			{"Planning Context", b.objective},
		}
	}

	rendered := render(sections)
	return b.applySizePolicy(rendered)
}

type section struct {
	Title string
	Body  string
}

// joinSections merges the bodies of parts under a single titled section,
// so a rendered bundle has exactly one "=== Title ===" delimiter per
// concern even when multiple internal helpers contribute to it.
func joinSections(title string, parts ...section) section {
	var bodies []string
	for _, p := range parts {
		if p.Body != "" {
			bodies = append(bodies, p.Body)
		}
	}
	return section{title, strings.Join(bodies, "\n\n")}
}

func render(sections []section) string {
	var b strings.Builder
	for _, s := range sections {
		if s.Body == "" {
			continue
		}
		fmt.Fprintf(&b, "=== %s ===\n%s\n\n", s.Title, s.Body)
	}
	return strings.TrimRight(b.String(), "\n")
}

// taskHierarchySection walks up to MaxAncestorLayers parent goals with
// their one-line summaries.
func (b *Builder) taskHierarchySection(n *node.TaskNode) section {
	var lines []string
	cur := n.ParentNodeID
	for depth := 0; depth < MaxAncestorLayers && cur != ""; depth++ {
		parent, ok := b.g.GetNode(cur)
		if !ok {
			break
		}
		lines = append([]string{fmt.Sprintf("- %s: %s", parent.TaskID, oneLine(parent.Goal, parent.OutputSummary))}, lines...)
		cur = parent.ParentNodeID
	}
	return section{"Task Dependencies", strings.Join(lines, "\n")}
}

func oneLine(goal, summary string) string {
	if summary != "" {
		return fmt.Sprintf("%s (%s)", goal, summary)
	}
	return goal
}

// dependencyResultsSection includes every DONE predecessor's result,
// resolved the same two ways the scheduler unions dependency ids
// (depends_on_indices plus graph predecessor edges).
func (b *Builder) dependencyResultsSection(n *node.TaskNode) section {
	ids := resolveDependencyIDs(b.g, n)
	var parts []string
	for _, id := range ids {
		rec, ok := b.k.Get(id)
		if !ok || rec.Status != node.StatusDone {
			continue
		}
		parts = append(parts, fmt.Sprintf("[%s] %s:\n%v", id, rec.Goal, rec.ResultOrSummary))
	}
	return section{"Task Dependencies", strings.Join(parts, "\n\n")}
}

// horizontalDependenciesSection is the aggregation-specific analog: the
// same dependency resolution, whose body Build joins with the parent
// hierarchy under the single "Task Dependencies" section, ahead of the
// children's full results.
func (b *Builder) horizontalDependenciesSection(n *node.TaskNode) section {
	s := b.dependencyResultsSection(n)
	return section{"Planning Context", s.Body}
}

// childResultsSection gathers every child's full result (or error for
// FAILED children), read from the nodes of n's sub-graph.
func (b *Builder) childResultsSection(n *node.TaskNode) section {
	n.Lock()
	subGraphID := n.SubGraphID
	n.Unlock()
	var parts []string
	if subGraphID == "" {
		return section{"Child Task Results", ""}
	}
	for _, c := range b.g.GetNodesInGraph(subGraphID) {
		c.Lock()
		id, goal, status, result := c.TaskID, c.Goal, c.Status, c.Result
		c.Unlock()
		if status == node.StatusFailed {
			parts = append(parts, fmt.Sprintf("[%s] %s: ERROR", id, goal))
			continue
		}
		parts = append(parts, fmt.Sprintf("[%s] %s:\n%v", id, goal, result))
	}
	return section{"Child Task Results", strings.Join(parts, "\n\n")}
}

// modificationSection surfaces the prior plan and the reviewer's
// instructions for a PlanModifier call, carried on the node via
// AuxData["original_plan"]/AuxData["modification_instructions"].
func (b *Builder) modificationSection(n *node.TaskNode) section {
	var lines []string
	if plan, ok := n.AuxData["original_plan"]; ok {
		lines = append(lines, fmt.Sprintf("Original plan:\n%v", plan))
	}
	if instructions, ok := n.AuxData["modification_instructions"].(string); ok && instructions != "" {
		lines = append(lines, fmt.Sprintf("Requested changes:\n%s", instructions))
	}
	return section{"Modification Request", strings.Join(lines, "\n\n")}
}

func resolveDependencyIDs(g *graph.Graph, n *node.TaskNode) []string {
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	if n.ParentNodeID != "" {
		if parent, ok := g.GetNode(n.ParentNodeID); ok {
			for _, idx := range n.DependsOnIndices {
				if idx >= 0 && idx < len(parent.PlannedSubTaskIDs) {
					add(parent.PlannedSubTaskIDs[idx])
				}
			}
		}
	}
	graphID := g.ContainerGraph(n.TaskID)
	if graphID != "" {
		for _, id := range g.Predecessors(graphID, n.TaskID) {
			add(id)
		}
	}
	return ids
}

func wordCount(s string) int { return len(strings.Fields(s)) }

// applySizePolicy enforces the size policy: full content at or below
// 20,000 words; otherwise a summarizer-adapter "detailed summary", falling back
// to paragraph-boundary truncation with an explicit annotation. No silent
// drops.
func (b *Builder) applySizePolicy(text string) (string, error) {
	if wordCount(text) <= MaxWords {
		return text, nil
	}
	if b.summarizer != nil {
		summary, err := b.summarizer.Summarize(text)
		if err == nil {
			return summary, nil
		}
	}
	return truncateAtParagraphBoundary(text, MaxWords), nil
}

// truncateAtParagraphBoundary keeps whole paragraphs until the word budget
// is spent, then appends an explicit truncation annotation.
func truncateAtParagraphBoundary(text string, maxWords int) string {
	paragraphs := strings.Split(text, "\n\n")
	var kept []string
	words := 0
	for _, p := range paragraphs {
		n := wordCount(p)
		if words+n > maxWords && words > 0 {
			break
		}
		kept = append(kept, p)
		words += n
	}
	kept = append(kept, fmt.Sprintf("[... truncated at paragraph boundary: %d of %d words kept, no summarizer available ...]", words, wordCount(text)))
	return strings.Join(kept, "\n\n")
}
