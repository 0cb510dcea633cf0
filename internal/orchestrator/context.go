package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Fixed workspace file set read into every turn's system context, grounded
// on the AGENTS.md/SOUL.md/USER.md/IDENTITY.md prompt-section loader
// (internal/gateway/system_prompt_loader.go), widened from a config-driven
// filename table to a fixed name list.
const (
	FileAgents    = "AGENTS.md"
	FileSoul      = "SOUL.md"
	FileUser      = "USER.md"
	FileIdentity  = "IDENTITY.md"
	FileTools     = "TOOLS.md"
	FileBootstrap = "BOOTSTRAP.md"
	FileHeartbeat = "HEARTBEAT.md"
	FileMemory    = "MEMORY.md"
)

// WorkspaceConfig locates and bounds the workspace file set.
type WorkspaceConfig struct {
	Dir string

	// PerFileMaxChars truncates any single file's content in place, with a
	// trailing marker, when exceeded. 0 means no per-file cap.
	PerFileMaxChars int

	// TotalMaxChars shrinks the longest sections first until the combined
	// content fits. 0 means no total cap.
	TotalMaxChars int
}

// WorkspaceMode selects which conditional files join the fixed set.
type WorkspaceMode struct {
	// FirstRun includes BOOTSTRAP.md and, when Bootstrap is also true,
	// reduces the whole set to AGENTS.md + BOOTSTRAP.md only.
	FirstRun bool
	Bootstrap bool

	// Heartbeat includes HEARTBEAT.md and MEMORY.md.
	Heartbeat bool
	// Private includes HEARTBEAT.md and MEMORY.md (same conditional files,
	// distinct trigger).
	Private bool
}

// WorkspaceSection is one labeled, already-truncated file's content, or a
// missing-file placeholder. Missing files are never an error.
type WorkspaceSection struct {
	Label   string
	Content string
	Missing bool
}

type workspaceFile struct {
	label string
	name  string
}

// workspaceFileList returns the ordered (label, filename) pairs to read for
// mode.
func workspaceFileList(mode WorkspaceMode) []workspaceFile {
	if mode.Bootstrap && mode.FirstRun {
		return []workspaceFile{
			{"Workspace instructions", FileAgents},
			{"Bootstrap checklist", FileBootstrap},
		}
	}

	files := []workspaceFile{
		{"Workspace instructions", FileAgents},
		{"Persona and boundaries", FileSoul},
		{"Workspace user profile", FileUser},
		{"Workspace identity", FileIdentity},
		{"Tool notes", FileTools},
	}
	if mode.FirstRun {
		files = append(files, workspaceFile{"Bootstrap checklist", FileBootstrap})
	}
	if mode.Heartbeat || mode.Private {
		files = append(files, workspaceFile{"Heartbeat checklist", FileHeartbeat}, workspaceFile{"Workspace memory", FileMemory})
	}
	return files
}

// BuildWorkspaceSections reads the fixed workspace file set for mode under
// cfg.Dir, normalizing line endings and applying the per-file and total
// character caps.
func BuildWorkspaceSections(cfg WorkspaceConfig, mode WorkspaceMode) ([]WorkspaceSection, error) {
	files := workspaceFileList(mode)
	sections := make([]WorkspaceSection, 0, len(files))

	for _, f := range files {
		content, found, err := readWorkspaceFile(cfg.Dir, f.name, cfg.PerFileMaxChars)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: read %s: %w", f.name, err)
		}
		if !found {
			sections = append(sections, WorkspaceSection{Label: f.label, Content: fmt.Sprintf("(%s not found)", f.name), Missing: true})
			continue
		}
		sections = append(sections, WorkspaceSection{Label: f.label, Content: content})
	}

	shrinkLongestFirst(sections, cfg.TotalMaxChars)
	return sections, nil
}

func readWorkspaceFile(dir, name string, maxChars int) (content string, found bool, err error) {
	if strings.TrimSpace(dir) == "" {
		return "", false, nil
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}

	normalized := strings.ReplaceAll(string(data), "\r\n", "\n")
	normalized = strings.TrimSpace(normalized)
	if maxChars > 0 {
		normalized = truncateWithMarker(normalized, maxChars)
	}
	return normalized, true, nil
}

func truncateWithMarker(content string, maxChars int) string {
	runes := []rune(content)
	if len(runes) <= maxChars {
		return content
	}
	return strings.TrimSpace(string(runes[:maxChars])) + fmt.Sprintf("\n...[truncated, %d chars total]", len(runes))
}

// shrinkLongestFirst trims section content in place, longest first, until
// the combined length fits totalMax. 0 disables the cap.
func shrinkLongestFirst(sections []WorkspaceSection, totalMax int) {
	if totalMax <= 0 {
		return
	}
	total := 0
	for _, s := range sections {
		total += len(s.Content)
	}
	if total <= totalMax {
		return
	}

	order := make([]int, len(sections))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return len(sections[order[a]].Content) > len(sections[order[b]].Content)
	})

	for _, idx := range order {
		if total <= totalMax {
			return
		}
		over := total - totalMax
		content := sections[idx].Content
		if len(content) <= over {
			total -= len(content)
			sections[idx].Content = ""
			continue
		}
		cut := len(content) - over
		sections[idx].Content = truncateWithMarker(content[:cut], cut)
		total -= over
	}
}

// SystemContextInput carries the pieces of the system prompt assembly
// beyond the workspace file set: a skills index and a user-facts block,
// both appended only when non-empty.
type SystemContextInput struct {
	Sections    []WorkspaceSection
	SkillsIndex string
	UserFacts   string
}

// BuildSystemContext assembles the final system prompt string from the
// workspace sections plus the skills index and user-facts block, grounded
// on buildSystemPrompt (internal/gateway/system_prompt.go).
func BuildSystemContext(in SystemContextInput) string {
	var b strings.Builder
	for _, s := range in.Sections {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(s.Label)
		b.WriteString(":\n")
		b.WriteString(s.Content)
	}
	if idx := strings.TrimSpace(in.SkillsIndex); idx != "" {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Available skills:\n")
		b.WriteString(idx)
	}
	if facts := strings.TrimSpace(in.UserFacts); facts != "" {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("User facts:\n")
		b.WriteString(facts)
	}
	return b.String()
}
