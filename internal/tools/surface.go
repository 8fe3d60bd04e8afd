package tools

// QueenSurface is the full tool list granted to a room's queen.
var QueenSurface = []string{
	"set_goal",
	"create_subgoal",
	"update_progress",
	"complete_goal",
	"abandon_goal",
	"propose",
	"vote",
	"create_worker",
	"update_worker",
	"schedule_task",
	"remember",
	"recall",
	"send_message",
	"configure_room",
	"web_search",
	"web_fetch",
	"browser",
	"wallet_balance",
	"wallet_send",
	"wallet_history",
}

// queenOnly are the management tools withheld from non-queen workers.
var queenOnly = map[string]bool{
	"create_worker":  true,
	"update_worker":  true,
	"configure_room": true,
	"schedule_task":  true,
	"wallet_send":    true,
}

// SurfaceForRole returns the allowed tool names for a worker role.
func SurfaceForRole(role string) []string {
	if role == "queen" {
		return append([]string(nil), QueenSurface...)
	}
	out := make([]string, 0, len(QueenSurface))
	for _, name := range QueenSurface {
		if !queenOnly[name] {
			out = append(out, name)
		}
	}
	return out
}
