package streamparse

import (
	"strings"

	"github.com/adskit/ads/pkg/protocol"
)

// Tool name constants as emitted by the vendor CLIs.
const (
	toolBash         = "Bash"
	toolEdit         = "Edit"
	toolWrite        = "Write"
	toolMultiEdit    = "MultiEdit"
	toolNotebookEdit = "NotebookEdit"
	toolWebSearch    = "WebSearch"
	toolWebFetch     = "WebFetch"
	toolTodoWrite    = "TodoWrite"
)

// classifyTool maps a vendor tool name onto the canonical item kind. The
// mapping is deterministic from the name alone.
func classifyTool(name string) protocol.ItemKind {
	switch name {
	case toolBash:
		return protocol.ItemCommandExecution
	case toolEdit, toolWrite, toolMultiEdit, toolNotebookEdit:
		return protocol.ItemFileChange
	case toolWebSearch, toolWebFetch:
		return protocol.ItemWebSearch
	case toolTodoWrite:
		return protocol.ItemTodoList
	}
	if strings.HasPrefix(name, "mcp__") {
		return protocol.ItemMcpToolCall
	}
	return protocol.ItemMcpToolCall
}

// changeKind derives the file_change flavour from the tool name.
func changeKind(name string) string {
	switch name {
	case toolWrite:
		return "add"
	case toolEdit, toolMultiEdit, toolNotebookEdit:
		return "update"
	}
	return ""
}

// mcpParts splits an mcp__server__tool name into its server and tool parts.
func mcpParts(name string) (server, tool string) {
	parts := strings.SplitN(name, "__", 3)
	if len(parts) == 3 {
		return parts[1], parts[2]
	}
	return "", name
}
