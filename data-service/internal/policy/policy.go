// Package policy decides whether a caller may read secure data.
package policy

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/redhat-et/obo-delegation-demo/pkg/logger"
	"github.com/redhat-et/obo-delegation-demo/pkg/metrics"
	"github.com/redhat-et/obo-delegation-demo/pkg/telemetry"
)

//go:embed secure_data.rego
var secureDataPolicy string

const decisionQuery = "data.obo.data.authorization.decision"

// Input is what the policy sees about a request
type Input struct {
	Subject          string
	Audience         []string
	Authorities      []string
	ExpectedAudience string
	CallerType       string
}

// Decision is the policy outcome
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason"`
}

// Evaluator runs the compiled secure-data policy
type Evaluator struct {
	query   rego.PreparedEvalQuery
	service string
	log     *logger.Logger
}

// NewEvaluator compiles the embedded policy
func NewEvaluator(ctx context.Context, service string, log *logger.Logger) (*Evaluator, error) {
	query, err := rego.New(
		rego.Query(decisionQuery),
		rego.Module("secure_data.rego", secureDataPolicy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile policy: %w", err)
	}
	return &Evaluator{query: query, service: service, log: log}, nil
}

// Evaluate returns the decision for in. An evaluation error is returned as
// an error; a missing or malformed result denies.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) (*Decision, error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "policy.evaluate", telemetry.AttrSubject.String(in.Subject))
	defer span.End()

	audience := in.Audience
	if audience == nil {
		audience = []string{}
	}
	authorities := in.Authorities
	if authorities == nil {
		authorities = []string{}
	}

	e.log.Policy("Evaluating secure data policy",
		"sub", in.Subject,
		"caller_type", in.CallerType,
		"authorities", authorities)
	results, err := e.query.Eval(ctx, rego.EvalInput(map[string]any{
		"subject":           in.Subject,
		"audience":          audience,
		"authorities":       authorities,
		"expected_audience": in.ExpectedAudience,
	}))
	if err != nil {
		metrics.AuthorizationDecisions.WithLabelValues(e.service, "error", in.CallerType).Inc()
		telemetry.SetSpanError(span, err)
		return nil, fmt.Errorf("evaluation error: %w", err)
	}

	decision := &Decision{Reason: "No policy decision available"}
	if len(results) > 0 && len(results[0].Expressions) > 0 {
		if resultMap, ok := results[0].Expressions[0].Value.(map[string]any); ok {
			if allow, ok := resultMap["allow"].(bool); ok {
				decision.Allow = allow
			}
			if reason, ok := resultMap["reason"].(string); ok {
				decision.Reason = reason
			}
		}
	}

	metrics.AuthorizationDuration.WithLabelValues(e.service).Observe(time.Since(start).Seconds())
	label := "deny"
	if decision.Allow {
		label = "allow"
		e.log.Allow(decision.Reason, "sub", in.Subject)
	} else {
		e.log.Deny("DENY: "+decision.Reason, "sub", in.Subject, "audience", in.Audience)
	}
	metrics.AuthorizationDecisions.WithLabelValues(e.service, label, in.CallerType).Inc()

	span.SetAttributes(
		telemetry.AttrDecision.String(label),
		telemetry.AttrReason.String(decision.Reason),
	)
	telemetry.SetSpanOK(span)
	return decision, nil
}
