package app

import (
	"github.com/adskit/ads/internal/agent"
	"github.com/adskit/ads/internal/agent/adapters"
	"github.com/adskit/ads/internal/agent/cliproc"
	"github.com/adskit/ads/internal/common/logger"
	"github.com/adskit/ads/internal/config"
	"github.com/adskit/ads/internal/session"
)

// NewAdapterFactory builds the per-session adapter set from the feature
// flags: Codex always, Amp and Droid when their binary is configured, Claude
// and Gemini only when their credentials are present.
func NewAdapterFactory(cfg *config.Config, runner *cliproc.Runner, log *logger.Logger) session.AdapterFactory {
	return func() []agent.Adapter {
		var out []agent.Adapter

		out = append(out, adapters.NewCLIAdapter(adapters.CLIProfile{
			ID:           agent.IDCodex,
			Name:         "Codex",
			Vendor:       "openai",
			Binary:       cfg.Agents.CodexBin,
			Wire:         adapters.WireCanonical,
			Sandbox:      agent.SandboxWorkspaceWrite,
			Capabilities: []string{"chat", "code", "delegation", "supervision"},
		}, runner, log))

		if cfg.Agents.AmpBin != "" {
			out = append(out, adapters.NewCLIAdapter(adapters.CLIProfile{
				ID:           agent.IDAmp,
				Name:         "Amp",
				Vendor:       "sourcegraph",
				Binary:       cfg.Agents.AmpBin,
				Wire:         adapters.WireStreamJSON,
				Sandbox:      agent.SandboxWorkspaceWrite,
				Capabilities: []string{"chat", "code"},
			}, runner, log))
		}

		if cfg.Agents.DroidBin != "" {
			out = append(out, adapters.NewCLIAdapter(adapters.CLIProfile{
				ID:           agent.IDDroid,
				Name:         "Droid",
				Vendor:       "factory",
				Binary:       cfg.Agents.DroidBin,
				Wire:         adapters.WireCanonical,
				Sandbox:      agent.SandboxWorkspaceWrite,
				Capabilities: []string{"chat", "code"},
			}, runner, log))
		}

		flags := config.AgentFeatureFlags(cfg)
		if flags.Claude {
			claude := config.ResolveClaudeConfig(cfg)
			out = append(out, adapters.NewClaudeAdapter(adapters.ClaudeConfig{
				APIKey:  claude.APIKey,
				Model:   claude.Model,
				BaseURL: claude.BaseURL,
			}, log))
		}
		if flags.Gemini {
			gemini := config.ResolveGeminiConfig(cfg)
			out = append(out, adapters.NewGeminiAdapter(adapters.GeminiConfig{
				APIKey: gemini.APIKey,
				Model:  gemini.Model,
			}, log))
		}
		return out
	}
}
