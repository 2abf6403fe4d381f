package llm

// Persona binds a public personality name to the system prompt sent as
// the first message of every conversation.
type Persona struct {
	Name         string
	SystemPrompt string
}

const defaultSystemPrompt = "You are Mosaic, the assistant for an AI agency. " +
	"Answer questions about our services, process and pricing. Be concise and helpful. " +
	"If you do not know something, say so and offer to connect the visitor with the team."

var personas = map[string]Persona{
	"strategist": {
		Name: "strategist",
		SystemPrompt: "You are Mosaic's AI strategist. Help visitors scope automation projects: " +
			"ask about their workflows, estimate effort in broad strokes, and recommend where AI fits. " +
			"Stay pragmatic, never overpromise.",
	},
	"engineer": {
		Name: "engineer",
		SystemPrompt: "You are Mosaic's solutions engineer. Answer technical questions about " +
			"integrations, APIs, data handling and deployment. Prefer concrete examples over marketing language.",
	},
	"support": {
		Name: "support",
		SystemPrompt: "You are Mosaic's support assistant. Help existing clients with dashboard, " +
			"billing and account questions. Be warm and direct; escalate anything you cannot resolve.",
	},
}

// ResolvePersona returns the persona for the given name, or the generic
// default when the name is empty or unknown.
func ResolvePersona(name string) Persona {
	if p, ok := personas[name]; ok {
		return p
	}
	return Persona{Name: "default", SystemPrompt: defaultSystemPrompt}
}
