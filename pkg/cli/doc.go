// Package cli holds terminal output helpers for the voicebridge commands:
// YAML/JSON/table output and lipgloss styling.
//
//	cli.Output(records, cli.OutputOptions{Format: cli.FormatTable})
package cli
