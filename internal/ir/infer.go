package ir

import (
	"fmt"
	"strings"

	"specforge/internal/logging"
)

// crudActions are the actions the literal API surface already covers; flows
// mentioning them never produce inferred endpoints.
var crudActions = map[string]bool{
	"create": true, "read": true, "show": true, "list": true,
	"update": true, "delete": true,
}

// InferOperations derives non-CRUD endpoints from behavioral flows. Each
// inferred endpoint targets the entity named by its flow step and carries the
// flow's entity set as the valid target set; an inferred operation must never
// be attached to an entity outside that set. Inferred endpoints are marked
// Inferred and deduplicated against the literal API surface.
func InferOperations(app *ApplicationIR) []Endpoint {
	var inferred []Endpoint

	literal := make(map[string]bool)
	for _, ep := range app.API.Endpoints {
		literal[ep.Method+" "+NormalizePathShape(ep.Path)] = true
	}

	for _, flow := range app.Behavior.Flows {
		valid := flowEntities(flow)
		for _, step := range flow.Steps {
			action := strings.ToLower(strings.TrimSpace(step.Action))
			if action == "" || crudActions[action] {
				continue
			}
			if step.Entity == "" {
				logging.Get(logging.CategoryIR).Warn("flow %s: step %q has no target entity, skipping", flow.Name, step.Action)
				continue
			}
			if app.Domain.Entity(step.Entity) == nil {
				logging.Get(logging.CategoryIR).Warn("flow %s: step %q targets unknown entity %s, skipping", flow.Name, step.Action, step.Entity)
				continue
			}

			path := fmt.Sprintf("/%s/{id}/%s", Pluralize(strings.ToLower(step.Entity)), action)
			canonical, err := CanonicalPath(path)
			if err != nil {
				continue
			}
			key := "POST " + NormalizePathShape(canonical)
			if literal[key] {
				continue
			}
			literal[key] = true

			inferred = append(inferred, Endpoint{
				Method:        "POST",
				Path:          canonical,
				Entity:        step.Entity,
				Operation:     action,
				Inferred:      true,
				ValidEntities: valid,
			})
			logging.IRDebug("inferred operation %s on %s from flow %s", action, step.Entity, flow.Name)
		}
	}
	return inferred
}

// flowEntities collects the distinct entities a flow touches.
func flowEntities(flow Flow) []string {
	seen := make(map[string]bool)
	var out []string
	for _, step := range flow.Steps {
		if step.Entity == "" || seen[strings.ToLower(step.Entity)] {
			continue
		}
		seen[strings.ToLower(step.Entity)] = true
		out = append(out, step.Entity)
	}
	return out
}
