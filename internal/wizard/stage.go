// Package wizard drives a session from idea to running job through four
// stages. The stage is never stored: it is inferred from what the controller
// holds and the last stage-advancing action.
package wizard

// Stage is one step of the wizard.
type Stage int

const (
	IdeaEntry Stage = iota
	ScriptSelection
	Configuration
	Progress
)

func (s Stage) String() string {
	switch s {
	case IdeaEntry:
		return "idea"
	case ScriptSelection:
		return "scripts"
	case Configuration:
		return "configure"
	case Progress:
		return "progress"
	default:
		return "unknown"
	}
}

// Action is the last explicit user action that can move the stage.
type Action string

const (
	ActionNone       Action = "none"
	ActionCreate     Action = "create"
	ActionRegenerate Action = "regenerate"
	ActionContinue   Action = "continue"
	ActionBack       Action = "back"
	ActionRun        Action = "run"
)

// ParseAction maps a stored action name back to an Action. Unknown names
// become ActionNone.
func ParseAction(s string) Action {
	switch a := Action(s); a {
	case ActionCreate, ActionRegenerate, ActionContinue, ActionBack, ActionRun:
		return a
	default:
		return ActionNone
	}
}

// Facts are the observable inputs to stage inference.
type Facts struct {
	HasSession bool
	HasScripts bool
	LastAction Action
	// GenerateFailed is set when script generation failed after a create in
	// this process. It is never persisted.
	GenerateFailed bool
}

// InferStage is total over Facts.
//
// A session without scripts is normally a reload that lost its candidate
// cache, which lands on ScriptSelection. Two exceptions: when generation just
// failed after a create the wizard stays on IdeaEntry so the user can retry,
// and a session that was already run goes straight to Progress.
func InferStage(f Facts) Stage {
	if !f.HasSession {
		return IdeaEntry
	}

	if !f.HasScripts {
		switch {
		case f.LastAction == ActionRun:
			return Progress
		case f.GenerateFailed:
			return IdeaEntry
		default:
			return ScriptSelection
		}
	}

	switch f.LastAction {
	case ActionContinue:
		return Configuration
	case ActionRun:
		return Progress
	default:
		return ScriptSelection
	}
}

// DefaultSelection keeps current if set, otherwise picks the first candidate.
func DefaultSelection(current string, orderedKeys []string) string {
	if current != "" {
		return current
	}
	if len(orderedKeys) == 0 {
		return ""
	}
	return orderedKeys[0]
}

// ReconcileSelection applies a regenerated candidate list to the current
// selection. A key that is no longer offered falls back to the default.
func ReconcileSelection(current string, orderedKeys []string) string {
	for _, k := range orderedKeys {
		if k == current {
			return current
		}
	}
	return DefaultSelection("", orderedKeys)
}
