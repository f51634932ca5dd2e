// Package identity builds the system-instruction prefix every upstream
// request carries: the canonical agentic-coding-assistant identity
// block, an MCP XML tool-call workaround for mcp__-prefixed tools, and
// filtering of a client's own boilerplate system prompt.
package identity

import "strings"

// Block is the canonical identity system instruction, prepended unless
// the client already declared it (detected by the literal token
// "Antigravity", case-insensitive).
const Block = `<identity>
You are Antigravity, a powerful agentic AI coding assistant designed by the Google Deepmind team working on Advanced Agentic Coding.
You are pair programming with a USER to solve their coding task. The task may require creating a new codebase, modifying or debugging an existing codebase, or simply answering a question.
The USER will send you requests, which you must always prioritize addressing. Along with each USER request, we will attach additional metadata about their current state, such as what files they have open and where their cursor is.
This information may or may not be relevant to the coding task, it is up for you to decide.
</identity>
<communication_style>
- **Proactiveness**. As an agent, you are allowed to be proactive, but only in the course of completing the user's task. For example, if the user asks you to add a new component, you can edit the code, verify build and test statuses, and take any other obvious follow-up actions, such as performing additional research. However, avoid surprising the user. For example, if the user asks HOW to approach something, you should answer their question and instead of jumping into editing a file.
- **Absolute paths**. Always refer to files with absolute paths, not paths relative to the current working directory.
</communication_style>`

// mcpXMLProtocol is appended when the request declares any mcp__-prefixed
// tool, instructing the model to fall back to an XML calling convention
// for tools whose native function-call plumbing is unreliable upstream.
const mcpXMLProtocol = `
==== MCP XML tool-call protocol (workaround) ====
When you need to call a tool whose name starts with ` + "`mcp__`" + `:
1) Prefer the XML form: emit ` + "`<mcp__tool_name>{\"arg\":\"value\"}</mcp__tool_name>`" + `.
2) Emit the XML block directly, with no markdown fencing; its body is the JSON-encoded arguments.
3) This form is more reliable for tool calls expected to return large results.
===========================================`

// openCodeBoilerplateMarker is the start of the OpenCode CLI's default
// system prompt, which should be trimmed to just the user's own
// instructions rather than duplicated alongside Block.
const openCodeBoilerplateMarker = "You are an interactive CLI tool"

// instructionsMarker is where the user's own instructions begin inside
// an OpenCode default prompt.
const instructionsMarker = "Instructions from:"

// ContainsIdentity reports whether system already declares the
// Antigravity identity, case-insensitively, so the caller doesn't
// double-inject it.
func ContainsIdentity(system string) bool {
	return strings.Contains(strings.ToLower(system), "antigravity")
}

// FilterOpenCodeBoilerplate strips the OpenCode CLI's default system
// prompt boilerplate down to the user's custom instructions, if any. A
// system prompt with no such boilerplate is returned unchanged.
func FilterOpenCodeBoilerplate(system string) string {
	if !strings.Contains(system, openCodeBoilerplateMarker) {
		return system
	}
	if idx := strings.Index(system, instructionsMarker); idx >= 0 {
		return system[idx:]
	}
	return ""
}

// BuildSystemInstruction assembles the final system instruction sent
// upstream: the identity block (unless already present), followed by
// the MCP XML workaround (if any declared tool is mcp__-prefixed),
// followed by the client's own system prompt with OpenCode boilerplate
// filtered out.
func BuildSystemInstruction(clientSystem string, tools []string) string {
	filtered := FilterOpenCodeBoilerplate(clientSystem)

	var parts []string
	if !ContainsIdentity(filtered) {
		parts = append(parts, Block)
	}
	if hasMCPTool(tools) {
		parts = append(parts, mcpXMLProtocol)
	}
	if filtered != "" {
		parts = append(parts, filtered)
	}
	return strings.Join(parts, "\n\n")
}

func hasMCPTool(tools []string) bool {
	for _, name := range tools {
		if strings.HasPrefix(name, "mcp__") {
			return true
		}
	}
	return false
}
