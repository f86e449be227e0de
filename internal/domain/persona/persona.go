// Package persona implements persona system-prompt loading and
// eligibility validation against enabled plugins and available tools.
// Grounded on original_source/personas/__init__.py; Go has no dynamic
// module-import equivalent, so personas are registered statically
// through Registry.Add rather than discovered via importlib. NewRegistry
// seeds only the built-in "default" and "subagent" personas; nothing in
// this package loads personas from files.
package persona

// Requirements lists the plugins and tools a persona needs to be
// usable.
type Requirements struct {
	Plugins     []string `yaml:"plugins"`
	CoreTools   []string `yaml:"core_tools"`
	PluginTools []string `yaml:"plugin_tools"`
}

// Persona is one named system-prompt + requirement set.
type Persona struct {
	Name         string       `yaml:"name"`
	SystemPrompt string       `yaml:"system_prompt"`
	Requirements Requirements `yaml:"requirements"`
}

// ValidationResult reports whether a persona's dependencies are met.
type ValidationResult struct {
	PersonaName        string
	Eligible           bool
	MissingPlugins     []string
	MissingCoreTools   []string
	MissingPluginTools []string
}

// DefaultSystemPrompt is used when no persona is registered under the
// requested name.
const DefaultSystemPrompt = "You are a helpful assistant with access to tools. Use them when they help you answer accurately."

// SubagentSystemPrompt is the reserved persona for subagent-mode
// Planner runs (spec §4.7's subagent mode (ii)).
const SubagentSystemPrompt = `You are a focused subagent spawned to complete a specific task.

## Your Role
- Complete ONLY the assigned task
- Be thorough but concise in your response
- Your entire response will be reported back to the main agent

## Rules
1. Stay focused on your specific task
2. Do not try to spawn other subagents
3. Do not ask questions - work with what you have
4. Provide a complete, self-contained response

Complete your task now.`

// Registry holds the set of loaded personas, keyed by name.
type Registry struct {
	personas map[string]*Persona
}

// NewRegistry creates an empty Registry pre-seeded with the built-in
// "default" and "subagent" personas.
func NewRegistry() *Registry {
	r := &Registry{personas: make(map[string]*Persona)}
	r.Add(&Persona{Name: "default", SystemPrompt: DefaultSystemPrompt})
	r.Add(&Persona{Name: "subagent", SystemPrompt: SubagentSystemPrompt})
	return r
}

// Add registers or replaces a persona.
func (r *Registry) Add(p *Persona) {
	r.personas[p.Name] = p
}

// Prompt returns the named persona's system prompt, falling back to
// DefaultSystemPrompt when unregistered.
func (r *Registry) Prompt(name string) string {
	if p, ok := r.personas[name]; ok {
		return p.SystemPrompt
	}
	return DefaultSystemPrompt
}

// Requirements returns the named persona's requirements, or a zero
// value if it carries none / is unregistered.
func (r *Registry) Requirements(name string) Requirements {
	if p, ok := r.personas[name]; ok {
		return p.Requirements
	}
	return Requirements{}
}

// Validate checks whether name's requirements are satisfied by
// enabledPlugins and availableTools. A nil availableTools skips the
// tool checks (plugin-only validation), matching the original's
// Optional[List[str]] = None behavior.
func (r *Registry) Validate(name string, enabledPlugins []string, availableTools []string) ValidationResult {
	reqs := r.Requirements(name)

	enabledSet := toSet(enabledPlugins)
	missingPlugins := missing(reqs.Plugins, enabledSet)

	var missingCoreTools, missingPluginTools []string
	if availableTools != nil {
		toolSet := toSet(availableTools)
		missingCoreTools = missing(reqs.CoreTools, toolSet)
		missingPluginTools = missing(reqs.PluginTools, toolSet)
	}

	return ValidationResult{
		PersonaName:        name,
		Eligible:           len(missingPlugins) == 0 && len(missingCoreTools) == 0 && len(missingPluginTools) == 0,
		MissingPlugins:     missingPlugins,
		MissingCoreTools:   missingCoreTools,
		MissingPluginTools: missingPluginTools,
	}
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

func missing(required []string, have map[string]struct{}) []string {
	var out []string
	for _, r := range required {
		if _, ok := have[r]; !ok {
			out = append(out, r)
		}
	}
	return out
}
