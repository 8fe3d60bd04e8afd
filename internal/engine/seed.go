package engine

import (
	"embed"
	"strings"
)

//go:embed prompts/*.md
var promptFS embed.FS

// QueenPrompt renders the seeded system prompt of a room's Queen.
func QueenPrompt(roomName, objective string) string {
	return renderPrompt("queen.md", map[string]string{
		"ROOM":      roomName,
		"OBJECTIVE": objective,
	})
}

// WorkerPrompt renders the default system prompt for a worker created
// without one.
func WorkerPrompt(name, role, objective string) string {
	return renderPrompt("worker.md", map[string]string{
		"NAME":      name,
		"ROLE":      role,
		"OBJECTIVE": objective,
	})
}

func renderPrompt(file string, vars map[string]string) string {
	raw, err := promptFS.ReadFile("prompts/" + file)
	if err != nil {
		// Embedded files cannot go missing in a built binary.
		panic("missing prompt template " + file)
	}
	out := string(raw)
	for key, val := range vars {
		out = strings.ReplaceAll(out, "{{"+key+"}}", val)
	}
	return out
}
