package training

// Module Gate: pure resolution of per-module lock state for one enrollment.
// Modules are evaluated in ascending order; the first is always unlocked and
// module i unlocks only once module i-1 is completed.

// ResolveModules computes the gate view over already-loaded progress rows.
// progress is keyed by module id; missing rows read as untouched modules.
func ResolveModules(t Training, progress map[string]ModuleProgress) []ModuleView {
	views := make([]ModuleView, 0, len(t.Modules))
	prevCompleted := true // first module is always unlocked
	for _, m := range t.Modules {
		mp := progress[m.ID]
		v := ModuleView{
			ModuleID:         m.ID,
			Title:            m.Title,
			Order:            m.Order,
			Locked:           !prevCompleted,
			Completed:        mp.Completed,
			ContentViewed:    mp.ContentViewed,
			HasQuiz:          m.Quiz != nil,
			QuizRequired:     m.QuizRequired,
			QuizScore:        mp.Score,
			QuizPassed:       mp.Passed,
			OriginalFilename: m.OriginalFilename,
		}
		views = append(views, v)
		prevCompleted = prevCompleted && mp.Completed
	}
	return views
}

// AllModulesCompleted reports whether every module of t is completed, which is
// the unlock condition for the final quiz.
func AllModulesCompleted(t Training, progress map[string]ModuleProgress) bool {
	for _, m := range t.Modules {
		if !progress[m.ID].Completed {
			return false
		}
	}
	return true
}

func completedCount(t Training, progress map[string]ModuleProgress) int {
	n := 0
	for _, m := range t.Modules {
		if progress[m.ID].Completed {
			n++
		}
	}
	return n
}

func moduleByID(t Training, moduleID string) (Module, bool) {
	for _, m := range t.Modules {
		if m.ID == moduleID {
			return m, true
		}
	}
	return Module{}, false
}

func viewByID(views []ModuleView, moduleID string) (ModuleView, bool) {
	for _, v := range views {
		if v.ModuleID == moduleID {
			return v, true
		}
	}
	return ModuleView{}, false
}

func lastOrder(t Training) int {
	if len(t.Modules) == 0 {
		return 0
	}
	return t.Modules[len(t.Modules)-1].Order
}
