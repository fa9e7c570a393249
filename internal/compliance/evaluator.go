package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
)

const maxTextMatchEvidence = 3

// Evaluator applies a policy to a document. It holds no per-call state and
// is safe for concurrent use.
type Evaluator struct {
	analyzer    Analyzer
	expressions *ExpressionEvaluator
	logger      *slog.Logger
	now         func() time.Time

	mu       sync.RWMutex
	patterns map[string]*regexp.Regexp
}

// NewEvaluator builds an evaluator. analyzer and expressions may be nil; the
// matching rule types then come back as NEEDS_REVIEW.
func NewEvaluator(analyzer Analyzer, expressions *ExpressionEvaluator, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		analyzer:    analyzer,
		expressions: expressions,
		logger:      logger,
		now:         time.Now,
		patterns:    make(map[string]*regexp.Regexp),
	}
}

// Evaluation is the verdict of one policy against one document.
type Evaluation struct {
	Status      Status
	Requirement string
	Result      CheckResult
	Notes       string
}

// Evaluate runs every rule and requirement. A policy with neither is
// PENDING. Otherwise the document is COMPLIANT with no gaps, NON_COMPLIANT
// with any critical gap and NEEDS_REVIEW in between. An expired document is
// always a critical gap.
func (e *Evaluator) Evaluate(ctx context.Context, doc Document, policy Policy) Evaluation {
	requirement := policy.Description
	if requirement == "" {
		requirement = "Policy compliance check"
	}
	if len(policy.Rules) == 0 && policy.Requirements.Empty() {
		return Evaluation{
			Status:      StatusPending,
			Requirement: "No rules defined",
			Result:      CheckResult{Evidence: []string{}, Gaps: []Gap{}, Outcomes: []RuleOutcome{}},
			Notes:       "Policy defines no rules or requirements.",
		}
	}

	now := e.now()
	view := documentView(doc)
	outcomes := make([]RuleOutcome, 0, len(policy.Rules)+3)
	for _, rule := range policy.Rules {
		outcome := e.evaluateRule(ctx, doc, view, rule, now)
		if rule.Critical || policy.Requirements.IsCritical(rule.ID) || policy.Requirements.IsCritical(rule.Name) {
			for i := range outcome.Gaps {
				outcome.Gaps[i].Critical = true
			}
		}
		outcomes = append(outcomes, outcome)
	}
	outcomes = append(outcomes, evaluateRequirements(doc, view, policy.Requirements, now)...)

	if doc.Expired(now) && !hasExpiryGap(outcomes) {
		outcomes = append(outcomes, RuleOutcome{
			Requirement: "expiry",
			CheckType:   string(CheckDate),
			Gaps:        []Gap{{Requirement: "expiry", Message: expiredMessage(doc), Critical: true}},
		})
	}

	result := CheckResult{Evidence: []string{}, Gaps: []Gap{}, Outcomes: outcomes}
	var scoreSum float64
	for _, o := range outcomes {
		result.Evidence = append(result.Evidence, o.Evidence...)
		result.Gaps = append(result.Gaps, o.Gaps...)
		scoreSum += o.Score
	}
	result.RuleScore = round3(scoreSum / float64(len(outcomes)))

	status := StatusCompliant
	for _, g := range result.Gaps {
		if g.Critical {
			status = StatusNonCompliant
			break
		}
		status = StatusNeedsReview
	}

	notes := fmt.Sprintf("Checked %d rules. All compliant.", len(outcomes))
	if len(result.Gaps) > 0 {
		notes = fmt.Sprintf("Checked %d rules. %d gaps found.", len(outcomes), len(result.Gaps))
	}
	return Evaluation{Status: status, Requirement: requirement, Result: result, Notes: notes}
}

func (e *Evaluator) evaluateRule(ctx context.Context, doc Document, view map[string]any, rule Rule, now time.Time) RuleOutcome {
	name := rule.Name
	if name == "" {
		name = rule.ID
	}
	outcome := RuleOutcome{Requirement: name, CheckType: string(rule.CheckType)}
	switch rule.CheckType {
	case CheckTextMatch:
		return e.textMatch(outcome, doc.ExtractedText, rule)
	case CheckPresence:
		return presence(outcome, view, splitFields(rule.Pattern))
	case CheckDate:
		return dateRule(outcome, doc, now)
	case CheckAI:
		return e.aiAnalysis(ctx, outcome, doc.ExtractedText, rule)
	case CheckExpression:
		return e.expression(outcome, view, rule, now)
	}
	return review(outcome, fmt.Sprintf("Unknown check type: %s", rule.CheckType))
}

func (e *Evaluator) textMatch(o RuleOutcome, text string, rule Rule) RuleOutcome {
	if rule.Pattern == "" {
		return review(o, "No pattern defined for text match")
	}
	re, err := e.compilePattern(rule.Pattern)
	if err != nil {
		return review(o, fmt.Sprintf("Invalid pattern %q: %v", rule.Pattern, err))
	}
	matches := re.FindAllString(text, maxTextMatchEvidence)
	if len(matches) > 0 {
		o.Passed, o.Score, o.Evidence = true, 1, matches
		return o
	}
	o.Gaps = []Gap{{Requirement: o.Requirement, Message: fmt.Sprintf("Pattern %q not found in document", rule.Pattern)}}
	return o
}

func (e *Evaluator) compilePattern(pattern string) (*regexp.Regexp, error) {
	e.mu.RLock()
	re, ok := e.patterns[pattern]
	e.mu.RUnlock()
	if ok {
		return re, nil
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.patterns[pattern] = re
	e.mu.Unlock()
	return re, nil
}

func presence(o RuleOutcome, view map[string]any, fields []string) RuleOutcome {
	if len(fields) == 0 {
		return review(o, "No fields defined for presence check")
	}
	var missing, found []string
	for _, field := range fields {
		if isBlank(lookup(view, field)) {
			missing = append(missing, field)
		} else {
			found = append(found, field)
		}
	}
	o.Evidence = found
	o.Score = round3(float64(len(found)) / float64(len(fields)))
	if len(missing) == 0 {
		o.Passed = true
		return o
	}
	o.Gaps = []Gap{{Requirement: o.Requirement, Message: "Missing fields: " + strings.Join(missing, ", ")}}
	return o
}

func dateRule(o RuleOutcome, doc Document, now time.Time) RuleOutcome {
	switch {
	case doc.Expired(now):
		o.Gaps = []Gap{{Requirement: o.Requirement, Message: expiredMessage(doc), Critical: true}}
		return o
	case doc.EffectiveDate != nil && doc.EffectiveDate.After(now):
		o.Score = 0.5
		o.Gaps = []Gap{{Requirement: o.Requirement, Message: "Document is not yet effective"}}
		return o
	case doc.PublishDate != nil && doc.EffectiveDate != nil:
		o.Passed, o.Score = true, 1
		o.Evidence = []string{"Document has publish and effective dates"}
		return o
	}
	o.Score = 0.5
	o.Gaps = []Gap{{Requirement: o.Requirement, Message: "Missing required dates"}}
	return o
}

func (e *Evaluator) aiAnalysis(ctx context.Context, o RuleOutcome, text string, rule Rule) RuleOutcome {
	if e.analyzer == nil {
		return review(o, "AI analysis not configured")
	}
	requirement := rule.Description
	if requirement == "" {
		requirement = rule.Name
	}
	res, err := e.analyzer.Analyze(ctx, AnalysisRequest{Requirement: requirement, Text: text})
	if err != nil {
		e.log().Warn("ai analysis failed", slog.String("rule", rule.ID), slog.Any("error", err))
		return review(o, "AI analysis failed: "+err.Error())
	}
	o.Score = res.Score
	o.Evidence = res.Evidence
	if res.Compliant {
		o.Passed = true
		return o
	}
	if len(res.Gaps) == 0 {
		res.Gaps = []string{"Requirement not met: " + requirement}
	}
	for _, g := range res.Gaps {
		o.Gaps = append(o.Gaps, Gap{Requirement: o.Requirement, Message: g})
	}
	return o
}

func (e *Evaluator) expression(o RuleOutcome, view map[string]any, rule Rule, now time.Time) RuleOutcome {
	if e.expressions == nil {
		return review(o, "Expression rules not configured")
	}
	ok, err := e.expressions.Eval(rule.Expression, view, now)
	if err != nil {
		return review(o, fmt.Sprintf("Expression failed: %v", err))
	}
	if ok {
		o.Passed, o.Score = true, 1
		o.Evidence = []string{"Expression satisfied: " + rule.Expression}
		return o
	}
	o.Gaps = []Gap{{Requirement: o.Requirement, Message: "Expression not satisfied: " + rule.Expression}}
	return o
}

func evaluateRequirements(doc Document, view map[string]any, reqs Requirements, now time.Time) []RuleOutcome {
	var out []RuleOutcome
	if len(reqs.RequiredFields) > 0 {
		o := presence(RuleOutcome{Requirement: "requiredFields", CheckType: "requirement"}, view, reqs.RequiredFields)
		markCritical(&o, reqs.IsCritical("requiredFields"))
		out = append(out, o)
	}
	if len(reqs.RequiredCategories) > 0 {
		o := RuleOutcome{Requirement: "requiredCategories", CheckType: "requirement"}
		matched := false
		for _, c := range reqs.RequiredCategories {
			if strings.EqualFold(c, doc.Category) {
				matched = true
				break
			}
		}
		if matched {
			o.Passed, o.Score = true, 1
			o.Evidence = []string{"Category " + doc.Category}
		} else {
			o.Gaps = []Gap{{
				Requirement: o.Requirement,
				Message:     fmt.Sprintf("Category %q is not one of %s", doc.Category, strings.Join(reqs.RequiredCategories, ", ")),
			}}
		}
		markCritical(&o, reqs.IsCritical("requiredCategories"))
		out = append(out, o)
	}
	if reqs.MaxAgeDays > 0 {
		o := RuleOutcome{Requirement: "maxAgeDays", CheckType: "requirement"}
		issued := doc.UploadedAt
		if doc.PublishDate != nil {
			issued = *doc.PublishDate
		}
		age := int(now.Sub(issued).Hours() / 24)
		if issued.IsZero() || age > reqs.MaxAgeDays {
			o.Gaps = []Gap{{Requirement: o.Requirement, Message: fmt.Sprintf("Document is older than %d days", reqs.MaxAgeDays)}}
		} else {
			o.Passed, o.Score = true, 1
			o.Evidence = []string{fmt.Sprintf("Document is %d days old", age)}
		}
		markCritical(&o, reqs.IsCritical("maxAgeDays"))
		out = append(out, o)
	}
	return out
}

func markCritical(o *RuleOutcome, critical bool) {
	if !critical {
		return
	}
	for i := range o.Gaps {
		o.Gaps[i].Critical = true
	}
}

func review(o RuleOutcome, note string) RuleOutcome {
	o.Score = 0.5
	o.Notes = note
	o.Gaps = []Gap{{Requirement: o.Requirement, Message: note}}
	return o
}

func hasExpiryGap(outcomes []RuleOutcome) bool {
	for _, o := range outcomes {
		if o.CheckType != string(CheckDate) {
			continue
		}
		for _, g := range o.Gaps {
			if g.Critical && strings.HasPrefix(g.Message, "Document has expired") {
				return true
			}
		}
	}
	return false
}

func expiredMessage(doc Document) string {
	return fmt.Sprintf("Document has expired (%s)", doc.ExpiryDate.UTC().Format(time.DateOnly))
}

func (e *Evaluator) log() *slog.Logger {
	if e.logger != nil {
		return e.logger.With(slog.String("component", "compliance_evaluator"))
	}
	return slog.Default().With(slog.String("component", "compliance_evaluator"))
}

// documentView is the field map used by presence rules, requirements and
// CEL expressions. Metadata keys are also reachable under "metadata.".
func documentView(doc Document) map[string]any {
	view := map[string]any{
		"id":            doc.ID,
		"clientId":      doc.ClientID,
		"fileName":      doc.FileName,
		"title":         doc.Title,
		"documentType":  doc.DocumentType,
		"category":      doc.Category,
		"status":        string(doc.Status),
		"extractedText": doc.ExtractedText,
		"metadata":      doc.Metadata,
		"uploadedAt":    doc.UploadedAt,
	}
	if doc.Metadata == nil {
		view["metadata"] = map[string]any{}
	}
	for key, val := range map[string]*time.Time{"publishDate": doc.PublishDate, "effectiveDate": doc.EffectiveDate, "expiryDate": doc.ExpiryDate} {
		if val != nil {
			view[key] = *val
		} else {
			view[key] = nil
		}
	}
	return view
}

// lookup resolves a dotted path. Paths that miss the top level are retried
// under metadata.
func lookup(view map[string]any, path string) any {
	if val, ok := walk(view, path); ok {
		return val
	}
	if meta, ok := view["metadata"].(map[string]any); ok {
		if val, ok := walk(meta, path); ok {
			return val
		}
	}
	return nil
}

func walk(root map[string]any, path string) (any, bool) {
	var current any = root
	for _, key := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func isBlank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case time.Time:
		return val.IsZero()
	case []any:
		return len(val) == 0
	case []string:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}
	return false
}

func splitFields(pattern string) []string {
	var out []string
	for _, f := range strings.Split(pattern, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func round3(v float64) float64 {
	return float64(int64(v*1000+0.5)) / 1000
}
