package detect

// pastTenseCompletionVerbs lists spinner verbs that actually describe a
// finished action ("Cooked for 12s") rather than an in-flight one
// ("Cooking…"). A content-spinner hit whose verb appears here downgrades
// to Idle instead of Processing.
var pastTenseCompletionVerbs = map[string]bool{
	"cooked":      true,
	"brewed":      true,
	"baked":       true,
	"finished":    true,
	"done":        true,
	"completed":   true,
	"wrapped":     true,
	"assembled":   true,
	"crafted":     true,
	"synthesized": true,
}

func isPastTenseCompletion(verb string) bool {
	return pastTenseCompletionVerbs[normalizeVerb(verb)]
}
