package evidence

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/certstate-cli/internal/certstate"
	"github.com/sells-group/certstate-cli/internal/model"
	"github.com/sells-group/certstate-cli/internal/tokens"
)

// SystemInstruction is the system message of every extraction request.
const SystemInstruction = "Return strict JSON only. No explanations."

// DefaultSystemRules is used when no rules file is configured.
const DefaultSystemRules = `You maintain a certification record for one compliance scheme.
Fill fields only from facts stated in the evidence. Keep list entries short and
deduplicated. Use ISO country or region names. Never guess values.`

const (
	fillHeader     = "\n\nONLY FILL THE FIELDS PRESENT IN THIS JSON (keep exact shape/keys; others must remain untouched in your output):\n"
	evidenceHeader = "\n\nEVIDENCE (snippets from the page; use exact facts, do not guess):\n"
	trimmedHeader  = "\n\nEVIDENCE (trimmed):\n"
	fullTail       = "\n\nReturn STRICT JSON ONLY in the FULL original shape (all fields) by merging your filled values into the original state. For any field you cannot fill with certainty from the EVIDENCE, keep it null or empty array. Do not invent. No prose."
	trimmedTail    = "\n\nReturn STRICT JSON ONLY in the FULL original shape."
	blockSeparator = "\n\n"
)

// ErrBudgetTooSmall is returned when not even an empty user message fits.
var ErrBudgetTooSmall = eris.New("evidence: token budget cannot hold the fixed prompt framing")

// Prompt is a two-message extraction request.
type Prompt struct {
	System string
	User   string
}

// Messages returns the prompt in chat order.
func (p Prompt) Messages() []tokens.Message {
	return []tokens.Message{
		{Role: "system", Content: p.System},
		{Role: "user", Content: p.User},
	}
}

// Selector builds sparse prompts.
type Selector struct {
	cfg           *Config
	m             *matcher
	est           *tokens.Estimator
	minEvidence   int
	sentenceRatio float64
	shrinkRatio   float64
}

// Option configures a Selector.
type Option func(*Selector)

// WithMinEvidenceTokens sets the size the shrink loop tries not to go under.
func WithMinEvidenceTokens(n int) Option {
	return func(s *Selector) { s.minEvidence = n }
}

// WithSentenceTrimRatio sets the share of the budget the first sentence-level
// trim aims for.
func WithSentenceTrimRatio(r float64) Option {
	return func(s *Selector) { s.sentenceRatio = r }
}

// WithShrinkRatio sets the per-iteration shrink factor of the evidence.
func WithShrinkRatio(r float64) Option {
	return func(s *Selector) { s.shrinkRatio = r }
}

// NewSelector compiles cfg. A nil cfg selects DefaultConfig.
func NewSelector(cfg *Config, est *tokens.Estimator, opts ...Option) (*Selector, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m, err := compile(cfg)
	if err != nil {
		return nil, err
	}
	s := &Selector{
		cfg:           cfg,
		m:             m,
		est:           est,
		minEvidence:   500,
		sentenceRatio: 0.8,
		shrinkRatio:   0.9,
	}
	for _, o := range opts {
		o(s)
	}
	if s.shrinkRatio <= 0 || s.shrinkRatio >= 1 {
		return nil, eris.Errorf("evidence: shrink ratio %v must be in (0,1)", s.shrinkRatio)
	}
	if s.sentenceRatio <= 0 || s.sentenceRatio > 1 {
		return nil, eris.Errorf("evidence: sentence trim ratio %v must be in (0,1]", s.sentenceRatio)
	}
	return s, nil
}

// Estimator returns the estimator prompts are measured with.
func (s *Selector) Estimator() *tokens.Estimator { return s.est }

// FramingTokens is the cost of a prompt whose user message is empty.
func (s *Selector) FramingTokens() int {
	return s.est.CountMessages(Prompt{System: SystemInstruction}.Messages())
}

// Clean strips boilerplate lines from page text.
func (s *Selector) Clean(text string) string { return s.m.Clean(text) }

// SignalLines filters cleaned text down to signal lines.
func (s *Selector) SignalLines(text string) string {
	return s.m.SignalLines(text, s.cfg.SignalPrefixes)
}

// Snippets extracts keyword windows for field from signal text.
func (s *Selector) Snippets(text, field string) Snippet {
	return s.m.Snippets(text, field, s.cfg.WindowLines, s.cfg.MaxSnippets)
}

// BuildPrompt assembles the sparse prompt for pageText against state. The
// prompt's message token count never exceeds maxTotal-reserve.
func (s *Selector) BuildPrompt(rules string, state *certstate.State, pageText string, maxTotal, reserve int) (Prompt, model.PromptDiagnostics, error) {
	budget := maxTotal - reserve
	diag := model.PromptDiagnostics{
		RawTokens:    s.est.CountTokens(pageText),
		BudgetTokens: budget,
		EmptyFields:  state.EmptyFields(),
	}
	framing := s.FramingTokens()
	if budget < framing {
		return Prompt{}, diag, ErrBudgetTooSmall
	}

	signal := s.SignalLines(s.Clean(pageText))

	var blocks []string
	for _, f := range diag.EmptyFields {
		if sn := s.Snippets(signal, f); len(sn.Windows) > 0 {
			blocks = append(blocks, sn.Block())
		}
	}
	evidence := signal
	diag.EvidenceMode = model.EvidenceSignal
	if len(blocks) > 0 {
		evidence = strings.Join(blocks, blockSeparator)
		diag.EvidenceMode = model.EvidenceSnippets
	}

	schema, err := restrictedSchema(state, diag.EmptyFields)
	if err != nil {
		return Prompt{}, diag, err
	}
	head := strings.TrimSpace(rules) + fillHeader + schema

	p := Prompt{System: SystemInstruction, User: head + evidenceHeader + evidence + fullTail}
	if s.est.CountMessages(p.Messages()) > budget {
		diag.Trimmed = true
		p = s.shrink(head+trimmedHeader, evidence, budget, framing)
	}

	diag.PromptTokens = s.est.CountMessages(p.Messages())
	return p, diag, nil
}

// shrink fits head+evidence+tail into budget. The evidence is first cut at a
// sentence boundary to a share of the budget, then reduced by shrinkRatio per
// iteration. Every iteration strictly lowers the evidence token count, and
// minEvidence only bounds the step size, so the loop ends once the evidence
// is empty at the latest. If the head alone does not fit, the user message
// is hard-truncated.
func (s *Selector) shrink(head, evidence string, budget, framing int) Prompt {
	build := func(ev string) Prompt {
		return Prompt{System: SystemInstruction, User: head + ev + trimmedTail}
	}

	ev := s.trimSentences(evidence, int(float64(budget)*s.sentenceRatio))
	p := build(ev)
	for s.est.CountMessages(p.Messages()) > budget && ev != "" {
		cur := s.est.CountTokens(ev)
		if cur == 0 {
			ev = ""
			p = build(ev)
			break
		}
		target := max(s.minEvidence, int(float64(cur)*s.shrinkRatio))
		if target >= cur {
			target = int(float64(cur) * s.shrinkRatio)
		}
		next := s.trimSentences(ev, target)
		if s.est.CountTokens(next) >= cur {
			next = s.est.TruncateToTokenLimit(ev, target)
		}
		ev = next
		p = build(ev)
	}

	if s.est.CountMessages(p.Messages()) > budget {
		p.User = s.est.TruncateToTokenLimit(p.User, budget-framing)
	}
	return p
}

// trimSentences returns the longest sentence-aligned prefix of text within
// maxTokens, or a hard token cut when not even the first sentence fits.
func (s *Selector) trimSentences(text string, maxTokens int) string {
	if s.est.CountTokens(text) <= maxTokens {
		return text
	}
	cuts := sentenceCuts(text)
	// largest k with count(text[:cuts[k]]) <= maxTokens
	k := sort.Search(len(cuts), func(i int) bool {
		return s.est.CountTokens(text[:cuts[i]]) > maxTokens
	}) - 1
	if k >= 0 {
		return text[:cuts[k]]
	}
	return s.est.TruncateToTokenLimit(text, maxTokens)
}

func restrictedSchema(state *certstate.State, empty []string) (string, error) {
	names := append(append([]string{}, empty...), certstate.FieldSources)
	inner, err := state.MarshalSubset(names)
	if err != nil {
		return "", eris.Wrap(err, "evidence: render schema")
	}
	return `{"` + certstate.Envelope + `":` + string(inner) + `}`, nil
}
