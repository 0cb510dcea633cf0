package orchestrator

import (
	"fmt"

	"github.com/relaygate/relaygate/pkg/models"
)

// SoftTrimConfig bounds the head+tail trim applied to an oversize tool
// result once the soft threshold is crossed.
type SoftTrimConfig struct {
	MaxChars  int
	HeadChars int
	TailChars int
}

// PruningConfig controls how aggressively loadMessages trims history.
// Grounded on ContextPruningSettings
// (internal/agent/context/pruning.go), adapted from its combined
// ToolCalls/ToolResults message shape to this module's Parts-based Message.
type PruningConfig struct {
	KeepLastAssistants int
	SoftRatio          float64
	HardRatio          float64
	MinPrunableChars   int
	SoftTrim           SoftTrimConfig
	HardEnabled        bool
}

// DefaultPruningConfig mirrors DefaultContextPruningSettings.
func DefaultPruningConfig() PruningConfig {
	return PruningConfig{
		KeepLastAssistants: 3,
		SoftRatio:          0.3,
		HardRatio:          0.5,
		MinPrunableChars:   50000,
		SoftTrim:           SoftTrimConfig{MaxChars: 4000, HeadChars: 1500, TailChars: 1500},
		HardEnabled:        true,
	}
}

type prunableRef struct {
	msgIndex  int
	partIndex int
}

// PruneMessages trims or clears oversize tool-result content from messages
// to keep the estimated context size under window*HardRatio, protecting the
// last KeepLastAssistants assistants' tool results and skipping images
// entirely. Returns messages unchanged if nothing qualifies.
func PruneMessages(messages []models.Message, cfg PruningConfig, window int) []models.Message {
	if len(messages) == 0 || window <= 0 {
		return messages
	}

	cutoff, ok := findAssistantCutoff(messages, cfg.KeepLastAssistants)
	if !ok || cutoff <= 0 {
		return messages
	}

	totalChars := 0
	for _, m := range messages {
		totalChars += estimateMessageChars(m)
	}
	if float64(totalChars)/float64(window) < cfg.SoftRatio {
		return messages
	}

	var prunable []prunableRef
	prunableChars := 0
	for i := 0; i < cutoff; i++ {
		for j, p := range messages[i].Parts {
			if p.Type != models.ContentToolResult {
				continue
			}
			prunable = append(prunable, prunableRef{msgIndex: i, partIndex: j})
			prunableChars += len(p.ToolResultContent)
		}
	}
	if prunableChars < cfg.MinPrunableChars {
		return messages
	}

	out := cloneMessages(messages)

	for _, ref := range prunable {
		part := &out[ref.msgIndex].Parts[ref.partIndex]
		trimmed, changed := softTrim(part.ToolResultContent, cfg.SoftTrim)
		if !changed {
			continue
		}
		totalChars += len(trimmed) - len(part.ToolResultContent)
		part.ToolResultContent = trimmed
	}

	if !cfg.HardEnabled || float64(totalChars)/float64(window) < cfg.HardRatio {
		return out
	}

	for _, ref := range prunable {
		if float64(totalChars)/float64(window) < cfg.HardRatio {
			break
		}
		part := &out[ref.msgIndex].Parts[ref.partIndex]
		before := len(part.ToolResultContent)
		part.ToolResultContent = fmt.Sprintf("[tool result cleared, was %d chars]", before)
		totalChars += len(part.ToolResultContent) - before
	}

	return out
}

func findAssistantCutoff(messages []models.Message, keepLastAssistants int) (int, bool) {
	if keepLastAssistants <= 0 {
		return len(messages), true
	}
	remaining := keepLastAssistants
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleAssistant {
			remaining--
			if remaining == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

func softTrim(content string, cfg SoftTrimConfig) (string, bool) {
	if cfg.MaxChars <= 0 || len(content) <= cfg.MaxChars {
		return content, false
	}
	head, tail := cfg.HeadChars, cfg.TailChars
	if head < 0 {
		head = 0
	}
	if tail < 0 {
		tail = 0
	}
	if head+tail >= len(content) {
		return content, false
	}
	trimmed := content[:head] + "\n...\n" + content[len(content)-tail:]
	note := fmt.Sprintf("\n\n[tool result trimmed: kept first %d and last %d chars of %d]", head, tail, len(content))
	return trimmed + note, true
}

func estimateMessageChars(msg models.Message) int {
	chars := len(msg.Text)
	for _, p := range msg.Parts {
		switch p.Type {
		case models.ContentText:
			chars += len(p.Text)
		case models.ContentToolUse:
			chars += len(p.ToolUseName) + len(p.ToolUseInput)
		case models.ContentToolResult:
			chars += len(p.ToolResultContent)
		case models.ContentImage:
			chars += len(p.ImageData)
		}
	}
	return chars
}

func cloneMessages(messages []models.Message) []models.Message {
	out := make([]models.Message, len(messages))
	for i, m := range messages {
		clone := m
		if len(m.Parts) > 0 {
			clone.Parts = append([]models.ContentPart(nil), m.Parts...)
		}
		out[i] = clone
	}
	return out
}
