package research

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/deepscout/deepscout/internal/llm"
	"github.com/deepscout/deepscout/internal/scheduler"
)

// Request is the input handed to a workflow strategy.
type Request struct {
	Topic  string
	Prior  *Report // Optional result of a previous run, seeds the context
	Config Config
}

// Strategy is one pluggable research workflow: topic in, structured report
// out. Strategies call collaborators only through the toolkit and report
// progress through the task context.
type Strategy func(ctx context.Context, req Request, tk *Toolkit) (*Report, error)

// strategyFor maps a mode to its workflow.
func strategyFor(mode Mode) Strategy {
	switch mode {
	case ModeGraph:
		return runGraph
	case ModeMultiAgent:
		return runMultiAgent
	default:
		return runLinear
	}
}

// runLinear is the straight pipeline: one search pass, an LLM-proposed
// outline, then one synthesis call per section.
func runLinear(ctx context.Context, req Request, tk *Toolkit) (*Report, error) {
	cfg := req.Config
	sections := cfg.SectionCount
	if sections <= 0 {
		sections = 3
	}

	scheduler.ReportProgress(ctx, 0.1, "searching")
	results, err := tk.Search(ctx, req.Topic, searchLimit(cfg))
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", req.Topic, err)
	}

	scheduler.ReportProgress(ctx, 0.25, "outlining")
	outlinePrompt := fmt.Sprintf(
		"%sPropose %d section titles for a research report on %q. One title per line, no numbering.\n\nSource material:\n%s",
		priorContext(req.Prior), sections, req.Topic, formatResults(results))
	outline, err := tk.Complete(ctx, outlinePrompt)
	if err != nil {
		return nil, fmt.Errorf("outlining %q: %w", req.Topic, err)
	}
	titles := parseLines(outline, sections)
	if len(titles) == 0 {
		titles = []string{req.Topic}
	}

	report := &Report{
		Topic:       req.Topic,
		Sources:     collectSources(results),
		Metadata:    map[string]string{"mode": ModeLinear.String()},
		GeneratedAt: time.Now(),
	}

	for i, title := range titles {
		frac := 0.3 + 0.6*float64(i)/float64(len(titles))
		scheduler.ReportProgress(ctx, frac, "writing "+title)

		content, err := tk.Complete(ctx, fmt.Sprintf(
			"%sWrite the %q section of a research report on %q. Base it on:\n%s",
			priorContext(req.Prior), title, req.Topic, formatResults(results)))
		if err != nil {
			return nil, fmt.Errorf("writing section %q: %w", title, err)
		}
		report.Sections = append(report.Sections, Section{
			Title:   title,
			Content: content,
			Sources: report.Sources,
		})
	}

	scheduler.ReportProgress(ctx, 0.95, "summarizing")
	report.Summary, err = summarize(ctx, tk, report)
	if err != nil {
		return nil, err
	}
	return report, nil
}

// runGraph deepens iteratively: each round searches the current query,
// synthesizes findings, and asks the model for the most valuable follow-up
// question, which seeds the next round.
func runGraph(ctx context.Context, req Request, tk *Toolkit) (*Report, error) {
	cfg := req.Config
	depth := cfg.Depth
	if depth <= 0 {
		depth = 2
	}

	report := &Report{
		Topic:       req.Topic,
		Metadata:    map[string]string{"mode": ModeGraph.String()},
		GeneratedAt: time.Now(),
	}

	query := req.Topic
	for round := 0; round < depth; round++ {
		scheduler.ReportProgress(ctx, float64(round)/float64(depth), "round "+query)

		results, err := tk.Search(ctx, query, searchLimit(cfg))
		if err != nil {
			return nil, fmt.Errorf("searching %q: %w", query, err)
		}
		sources := collectSources(results)
		report.Sources = append(report.Sources, sources...)

		findings, err := tk.Complete(ctx, fmt.Sprintf(
			"%sSummarize what these sources say about %q:\n%s",
			priorContext(req.Prior), query, formatResults(results)))
		if err != nil {
			return nil, fmt.Errorf("synthesizing round %d: %w", round+1, err)
		}
		report.Sections = append(report.Sections, Section{
			Title:   query,
			Content: findings,
			Sources: sources,
		})

		if round == depth-1 {
			break
		}
		followUp, err := tk.Complete(ctx, fmt.Sprintf(
			"Given these findings on %q, state the single most valuable follow-up question, as a short search query:\n%s",
			req.Topic, findings))
		if err != nil {
			return nil, fmt.Errorf("deriving follow-up for round %d: %w", round+1, err)
		}
		next := parseLines(followUp, 1)
		if len(next) == 0 {
			break
		}
		query = next[0]
	}

	scheduler.ReportProgress(ctx, 0.95, "summarizing")
	var err error
	report.Summary, err = summarize(ctx, tk, report)
	if err != nil {
		return nil, err
	}
	return report, nil
}

// runMultiAgent splits the topic into sub-topics and researches them
// concurrently, then merges the per-agent sections into one report.
func runMultiAgent(ctx context.Context, req Request, tk *Toolkit) (*Report, error) {
	cfg := req.Config
	agents := cfg.SubAgents
	if agents <= 0 {
		agents = 3
	}

	scheduler.ReportProgress(ctx, 0.1, "splitting topic")
	split, err := tk.Complete(ctx, fmt.Sprintf(
		"%sSplit the research topic %q into %d independent sub-topics. One per line, no numbering.",
		priorContext(req.Prior), req.Topic, agents))
	if err != nil {
		return nil, fmt.Errorf("splitting topic %q: %w", req.Topic, err)
	}
	subTopics := parseLines(split, agents)
	if len(subTopics) == 0 {
		subTopics = []string{req.Topic}
	}

	sections := make([]Section, len(subTopics))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(agents)

	for i, sub := range subTopics {
		i, sub := i, sub
		g.Go(func() error {
			results, err := tk.Search(gctx, sub, searchLimit(cfg))
			if err != nil {
				return fmt.Errorf("searching sub-topic %q: %w", sub, err)
			}
			content, err := tk.Complete(gctx, fmt.Sprintf(
				"Write a focused report section on %q (part of a larger report on %q) based on:\n%s",
				sub, req.Topic, formatResults(results)))
			if err != nil {
				return fmt.Errorf("writing sub-topic %q: %w", sub, err)
			}
			sections[i] = Section{Title: sub, Content: content, Sources: collectSources(results)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{
		Topic:       req.Topic,
		Sections:    sections,
		Metadata:    map[string]string{"mode": ModeMultiAgent.String()},
		GeneratedAt: time.Now(),
	}
	for _, s := range sections {
		report.Sources = append(report.Sources, s.Sources...)
	}

	scheduler.ReportProgress(ctx, 0.95, "summarizing")
	report.Summary, err = summarize(ctx, tk, report)
	if err != nil {
		return nil, err
	}
	return report, nil
}

func summarize(ctx context.Context, tk *Toolkit, report *Report) (string, error) {
	var b strings.Builder
	for _, s := range report.Sections {
		fmt.Fprintf(&b, "## %s\n%s\n\n", s.Title, s.Content)
	}
	summary, err := tk.Complete(ctx, fmt.Sprintf(
		"Summarize this report on %q in one paragraph:\n\n%s", report.Topic, b.String()))
	if err != nil {
		return "", fmt.Errorf("summarizing %q: %w", report.Topic, err)
	}
	return summary, nil
}

func searchLimit(cfg Config) int {
	if cfg.SearchResults > 0 {
		return cfg.SearchResults
	}
	return 5
}

// priorContext renders a previous report as prompt context for continuous
// research runs.
func priorContext(prior *Report) string {
	if prior == nil || prior.Summary == "" {
		return ""
	}
	return fmt.Sprintf("Prior findings on %q:\n%s\n\n", prior.Topic, prior.Summary)
}

// parseLines extracts up to max non-empty lines, stripping common list
// markers the model tends to add.
func parseLines(s string, max int) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*0123456789. ")
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == max {
			break
		}
	}
	return out
}

func formatResults(results []llm.SearchResult) string {
	if len(results) == 0 {
		return "(no sources found)"
	}
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "- %s (%s): %s\n", r.Title, r.URL, r.Snippet)
	}
	return b.String()
}

func collectSources(results []llm.SearchResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.URL)
	}
	return out
}
