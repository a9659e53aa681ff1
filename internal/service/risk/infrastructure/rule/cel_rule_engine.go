package rule

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"riskgate/internal/pkg/logger"
	"riskgate/internal/service/risk/domain"
	"riskgate/internal/service/risk/domain/port"
)

// Config 是一条自定义规则：表达式为真时贡献 weight 分，并产生名为 name 的标记
type Config struct {
	Name       string `yaml:"name" json:"name"`
	Expression string `yaml:"expression" json:"expression"`
	Weight     int    `yaml:"weight" json:"weight"`
}

type compiledRule struct {
	cfg     Config
	program cel.Program
}

// CELRuleEngine 用 CEL 表达式计算自定义规则命中。
// 表达式可以使用 attempt、profile、signals 三个 map 变量，必须返回 bool。
type CELRuleEngine struct {
	rules []compiledRule
}

var _ port.RuleEngine = (*CELRuleEngine)(nil)

func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("attempt", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("profile", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("signals", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
}

// NewCELRuleEngine 编译全部规则，任何一条不合法都返回错误
func NewCELRuleEngine(configs []Config) (*CELRuleEngine, error) {
	env, err := newEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	seen := map[string]bool{}
	engine := &CELRuleEngine{}
	for _, c := range configs {
		c.Name = strings.TrimSpace(c.Name)
		switch {
		case c.Name == "":
			return nil, fmt.Errorf("rule name must not be empty")
		case domain.RiskFlag(c.Name).IsBuiltin():
			return nil, fmt.Errorf("rule %q clashes with a built-in flag", c.Name)
		case seen[c.Name]:
			return nil, fmt.Errorf("duplicate rule %q", c.Name)
		case c.Weight < 0:
			return nil, fmt.Errorf("rule %q has negative weight", c.Name)
		}
		seen[c.Name] = true

		ast, iss := env.Compile(c.Expression)
		if iss != nil && iss.Err() != nil {
			return nil, fmt.Errorf("rule %q: %w", c.Name, iss.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("rule %q must return bool, got %s", c.Name, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", c.Name, err)
		}
		engine.rules = append(engine.rules, compiledRule{cfg: c, program: prg})
	}
	return engine, nil
}

// Evaluate 返回所有命中的规则。运行期出错的规则记录日志后跳过。
func (e *CELRuleEngine) Evaluate(ctx context.Context, in port.RuleInput) []domain.RuleHit {
	if len(e.rules) == 0 {
		return nil
	}
	vars := activation(in)

	var hits []domain.RuleHit
	for _, r := range e.rules {
		out, _, err := r.program.ContextEval(ctx, vars)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("rule", r.cfg.Name).Msg("Custom risk rule failed, skipping")
			continue
		}
		if matched, ok := out.Value().(bool); ok && matched {
			hits = append(hits, domain.RuleHit{Flag: domain.RiskFlag(r.cfg.Name), Weight: r.cfg.Weight})
		}
	}
	return hits
}

func (e *CELRuleEngine) Len() int {
	return len(e.rules)
}

func activation(in port.RuleInput) map[string]interface{} {
	profile := in.Profile
	if profile == nil {
		profile = domain.NewRiskProfile(in.Attempt.Email)
	}
	devices := make([]string, len(profile.DeviceFingerprints))
	copy(devices, profile.DeviceFingerprints)

	return map[string]interface{}{
		"attempt": map[string]interface{}{
			"email":             in.Attempt.Email,
			"deviceFingerprint": in.Attempt.DeviceFingerprint,
			"lotId":             in.Attempt.LotID,
			"quantity":          int64(in.Attempt.Quantity),
			"address":           in.Attempt.Address,
		},
		"profile": map[string]interface{}{
			"email":              profile.Email,
			"orderCount":         int64(profile.OrderCount),
			"cancellationCount":  int64(profile.CancellationCount),
			"cancellationRatio":  profile.CancellationRatio(),
			"deviceFingerprints": devices,
			"blacklisted":        profile.Blacklisted,
			"tier":               string(profile.Tier),
		},
		"signals": map[string]interface{}{
			"lotOrderCount":       int64(in.Signals.LotOrderCount),
			"deviceCustomerCount": int64(in.Signals.DeviceCustomerCount),
		},
	}
}
