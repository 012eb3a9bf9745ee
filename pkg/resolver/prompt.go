package resolver

import (
	"fmt"
	"strings"
)

// promptTemplate is the fixed format string from which every Propose call
// builds its Dispatcher request. Section markers follow the teacher's
// convention (system/user/assistant delimited blocks); the schema asked of
// the model is the ResolutionProposal's string/numeric fields.
const promptTemplate = `<|system|>
You are an incident resolution assistant. Given an incident and similar
historical incidents, produce a resolution proposal.

Respond with a single JSON object with exactly these fields:
  "analysis": string, root-cause analysis of the incident
  "recommended_actions": array of strings, ordered list of concrete steps
  "next_steps": string, what to monitor or do after applying the actions
  "reasoning": string, why this resolution fits the retrieved context
  "confidence": number in [0,1]
  "risk_level": one of "Low", "Medium", "High"
  "estimated_minutes": integer, expected time to resolve

CRITICAL DECISION RULES:
- Never fabricate a source that was not provided in the context below.
- If the provided context is insufficient, say so in "reasoning" and lower "confidence".
- "recommended_actions" must have at least one entry.
<|user|>
Incident: %s
Technical area: %s
Severity: %s
Description:
%s
<|assistant|>
Context from %d retrieved source(s):
%s
`

// repairTemplate is sent back to the model for the single bounded repair
// attempt on a JSON parse failure, per spec.md §4.G step 6.
const repairTemplate = `<|system|>
Your previous response could not be parsed as JSON matching the requested
schema. Respond again with ONLY the JSON object, no surrounding prose.
<|user|>
%s
`

func buildPrompt(incident scrubbedIncident, sources []scrubbedEntry) string {
	var ctx strings.Builder
	for _, s := range sources {
		fmt.Fprintf(&ctx, "- [%s] %s: %s (similarity %.2f)\n", s.kind, s.title, s.description, s.similarity)
	}
	if ctx.Len() == 0 {
		ctx.WriteString("(no similar sources retrieved)\n")
	}
	return fmt.Sprintf(promptTemplate, incident.title, incident.technicalArea, incident.severity, incident.description, len(sources), ctx.String())
}

func buildRepairPrompt(priorResponse string) string {
	return fmt.Sprintf(repairTemplate, priorResponse)
}
