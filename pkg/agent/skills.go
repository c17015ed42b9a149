package agent

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"log/slog"
)

// Skill is one reusable capability description included in the system
// prompt catalog. Loaded from markdown files; the first heading names the
// skill, the first paragraph after it is the summary.
type Skill struct {
	Name        string
	Description string
	Body        string
}

// instructionsFile is the per-workspace operator guidance prepended to the
// system prompt when present.
const instructionsFile = "AGENTS.md"

// LoadInstructions reads the workspace AGENTS.md, if any.
func LoadInstructions(baseDir string) string {
	data, err := os.ReadFile(filepath.Join(baseDir, instructionsFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// LoadSkills reads every .md file under dir as a skill, sorted by name.
// A missing directory yields an empty catalog.
func LoadSkills(dir string) []Skill {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var skills []Skill
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			slog.Warn("Skipping unreadable skill file", "file", entry.Name(), "error", err)
			continue
		}
		skills = append(skills, parseSkill(entry.Name(), string(data)))
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
	return skills
}

func parseSkill(filename, body string) Skill {
	name := strings.TrimSuffix(filename, ".md")
	description := ""

	lines := strings.Split(body, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if heading, ok := strings.CutPrefix(trimmed, "# "); ok {
			name = strings.TrimSpace(heading)
			for _, rest := range lines[i+1:] {
				if text := strings.TrimSpace(rest); text != "" && !strings.HasPrefix(text, "#") {
					description = text
					break
				}
			}
			break
		}
	}
	return Skill{Name: name, Description: description, Body: strings.TrimSpace(body)}
}

// Catalog renders the skill list for the system prompt.
func Catalog(skills []Skill) string {
	if len(skills) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Available skills:\n")
	for _, skill := range skills {
		b.WriteString("- ")
		b.WriteString(skill.Name)
		if skill.Description != "" {
			b.WriteString(": ")
			b.WriteString(skill.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}
