package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/adskit/ads/internal/agent"
)

// delegationPattern matches a fenced delegation block:
//
//	<<<agent.<id>
//	<prompt>
//	>>>
var delegationPattern = regexp.MustCompile(`(?i)<<<agent\.([a-z0-9_-]+)[\t ]*\r?\n([\s\S]*?)>>>`)

// Directive is one parsed delegation block.
type Directive struct {
	AgentID string
	Prompt  string
	Block   string
}

// ParseDelegations extracts delegation directives from supervisor text.
// Blocks addressed to excludeID (the supervisor itself) are skipped.
func ParseDelegations(text, excludeID string) []Directive {
	matches := delegationPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	exclude := normalizeAgentID(excludeID)
	directives := make([]Directive, 0, len(matches))
	for _, m := range matches {
		id := normalizeAgentID(m[1])
		if exclude != "" && id == exclude {
			continue
		}
		directives = append(directives, Directive{
			AgentID: id,
			Prompt:  strings.TrimSpace(m[2]),
			Block:   m[0],
		})
	}
	return directives
}

// ResolveDelegations runs the delegation middleware over supervisor text:
// each known, ready agent's block is executed with streaming off and replaced
// in-place with a collaboration summary; unknown or unready agents get a
// stubbed note. On duplicate block text the first remaining occurrence is
// replaced.
func (o *Orchestrator) ResolveDelegations(ctx context.Context, text, supervisorID string) string {
	directives := ParseDelegations(text, supervisorID)
	if len(directives) == 0 {
		return text
	}

	for _, d := range directives {
		replacement := o.runDirective(ctx, d)
		text = strings.Replace(text, d.Block, replacement, 1)
	}
	return text
}

func (o *Orchestrator) runDirective(ctx context.Context, d Directive) string {
	a, ok := o.Get(d.AgentID)
	if !ok {
		o.logger.Warn("delegation to unknown agent skipped", zap.String("agent_id", d.AgentID))
		return fmt.Sprintf("⚠️ 未知代理 %s，已跳过", d.AgentID)
	}
	meta := a.Metadata()
	if !a.Status().Ready {
		o.logger.Warn("delegation to unready agent skipped", zap.String("agent_id", d.AgentID))
		return fmt.Sprintf("⚠️ 代理 %s 当前不可用，已跳过", meta.Name)
	}

	res, err := o.InvokeAgent(ctx, d.AgentID, agent.TextInput(d.Prompt), agent.SendOptions{Streaming: false})
	if err != nil {
		o.logger.Error("delegation failed",
			zap.String("agent_id", d.AgentID),
			zap.Error(err))
		return fmt.Sprintf("🤝 %s(协作代理) 执行失败: %v", meta.Name, err)
	}
	return fmt.Sprintf("🤝 %s(协作代理) %s", meta.Name, strings.TrimSpace(res.Response))
}
