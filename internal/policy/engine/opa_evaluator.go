package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	devicedomain "token-lifecycle/backend/internal/device/domain"
)

const defaultPolicyQuery = "data.tokenlifecycle.device_consistency"

// DefaultRegoPolicy requires the device id and IP address recorded with a refresh token to match
// the refreshing client. A custom policy must live in the same package and define allow and reasons.
const DefaultRegoPolicy = `package tokenlifecycle.device_consistency

default allow := false

reasons contains "device_id_mismatch" if {
	input.recorded.device_id != input.current.device_id
}

reasons contains "ip_address_mismatch" if {
	input.recorded.ip_address != input.current.ip_address
}

allow if {
	input.recorded.device_id != ""
	count(reasons) == 0
}
`

// OPAEvaluator evaluates the device-consistency rule with an OPA Rego policy compiled once at startup.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles policy, or DefaultRegoPolicy when policy is empty.
func NewOPAEvaluator(ctx context.Context, policy string) (*OPAEvaluator, error) {
	if policy == "" {
		policy = DefaultRegoPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"device_consistency.rego": policy})
	if err != nil {
		return nil, fmt.Errorf("compile device policy: %w", err)
	}
	pq, err := rego.New(
		rego.Query(defaultPolicyQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare device policy: %w", err)
	}
	return &OPAEvaluator{query: pq}, nil
}

// HealthCheck evaluates the policy against a matching device pair and expects it to be allowed.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	input := map[string]interface{}{
		"recorded": map[string]interface{}{"device_id": "health", "ip_address": "127.0.0.1"},
		"current":  map[string]interface{}{"device_id": "health", "ip_address": "127.0.0.1"},
	}
	d, err := e.eval(ctx, input)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return fmt.Errorf("device policy denies an identical device pair")
	}
	return nil
}

// EvaluateDeviceConsistency implements DeviceEvaluator.
func (e *OPAEvaluator) EvaluateDeviceConsistency(ctx context.Context, recorded, current devicedomain.Info) (DeviceDecision, error) {
	return e.eval(ctx, map[string]interface{}{
		"recorded": deviceInput(recorded),
		"current":  deviceInput(current),
	})
}

func deviceInput(d devicedomain.Info) map[string]interface{} {
	return map[string]interface{}{
		"device_id":    d.DeviceID(),
		"ip_address":   d.IPAddress(),
		"fingerprint":  d.Fingerprint(),
		"platform":     string(d.Platform()),
		"browser":      string(d.Browser()),
		"device_class": string(d.Class()),
	}
}

func (e *OPAEvaluator) eval(ctx context.Context, input map[string]interface{}) (DeviceDecision, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return DeviceDecision{}, fmt.Errorf("eval device policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return DeviceDecision{}, fmt.Errorf("device policy returned no result")
	}
	doc, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return DeviceDecision{}, fmt.Errorf("device policy returned %T", rs[0].Expressions[0].Value)
	}
	var out DeviceDecision
	out.Allowed, _ = doc["allow"].(bool)
	if list, ok := doc["reasons"].([]interface{}); ok {
		for _, r := range list {
			if s, ok := r.(string); ok {
				out.Reasons = append(out.Reasons, s)
			}
		}
		sort.Strings(out.Reasons)
	}
	return out, nil
}
