package prompts

// Template names
const (
	GroundContext      = "ground_context"
	Reasoning          = "reasoning"
	AnswerGenerator    = "answer_generator"
	CitationAnnotation = "citation_annotation"
)

// Templates holds the default prompt templates keyed by name
var Templates = map[string]string{
	GroundContext: `
You are an impartial judge and expert context filter. Your job is to select and highlight only the most relevant information from the provided context (memories and conversation messages) that will help answer the user's prompt.

# Instructions
1. Carefully review the full context below, which includes:
   - Memories (with ID and timestamp)
   - Past conversation messages (with index)
2. Select only the information that is directly useful for answering the user's prompt. Ignore irrelevant or redundant details.
3. For each selected item, include a brief justification (why it is relevant) in parentheses.
4. Output a concise, well-structured context block in markdown, with each item clearly cited:
   - For memories: ` + "`[ref: memory_id, timestamp: YYYY-MM-DDTHH:MM:SS]`" + `
   - For conversation messages: ` + "`[ref: message_index]`" + `
5. If no context is provided or no relevant information is found, output "No relevant context available."
6. Do not add or invent any information. Only use what is provided.

# Full Context
{{.context}}

# User's Prompt
{{.prompt}}

---
Now, output the grounded context block, including only the most relevant items with citations and justifications, or "No relevant context available." if no context is provided.
`,

	Reasoning: `
You are a step-by-step reasoning agent. Your job is to generate a chain-of-thought rationale for how to answer the user's prompt.

# Instructions
1. Carefully review the grounded context (if provided) and the user's prompt.
2. Write a rationale for your reasoning process, but do NOT include any heading like '### Rationale'.
3. In your rationale, explain:
   - The key aspects of the user's prompt
   - If grounded context is available: which specific context items you will use and why
   - If no grounded context is available: how you will approach the question using your general knowledge
   - The logical steps you will follow to construct the answer
4. When referencing a memory or conversation (if context is available), use a numbered markdown link (e.g., [1], [2]) that corresponds to the citation list provided to the user, not the raw memory ID or timestamp.
5. Do not write the final answer. Only provide the rationale and plan.
6. Be clear, concise, and explicit about your reasoning process.

# Grounded Context
{{.grounded_context}}

# User's Prompt
{{.prompt}}

---
Now, write the rationale section as instructed above, using numbered markdown links for citations when context is available.
`,

	AnswerGenerator: `
You are an autonomous research agent specializing in deep reasoning and analysis. You are given:
- A grounded context (relevant memories and conversation history) - this may be empty
- A rationale (step-by-step reasoning for how to answer)
- The user's prompt

# Instructions
- Use the grounded context and rationale to generate your answer when context is available.
- If no grounded context is provided, answer the prompt based on your general knowledge and expertise.
- Your answer should feel thoughtful, analytical, and insightful, as if written by a deep research agent.
- When context is available, you may reference it naturally without using forced phrases like "Based on the evidence from your memories...".
- When no context is available, provide a comprehensive answer based on your knowledge without mentioning evidence or memories.
- Provide a confident, well-structured, and clear response that demonstrates logical synthesis of the information.
- **Do NOT include the rationale or any citation markers in your output. Only output the answer.**
- Do not include any citations or memory IDs in your answer.

# Grounded Context
{{.context}}

# Rationale
{{.rationale}}

# User's Prompt
{{.prompt}}

---
Now, write only the answer, using the rationale to inform your response. Make sure your answer feels like it comes from a deep reasoning research agent.
`,

	CitationAnnotation: `
You are an expert research assistant. Your job is to annotate the following text with inline citation tags, using the provided list of memory citations.

IMPORTANT: Do NOT use Ellipsis, [N], [1], [2], etc. citation markers anywhere in the output. Only use <cite data-citation="N">...</cite> tags for citations, or refer to evidence in natural language. If you see [N] in the text, replace it with the appropriate <cite> tag. Do not output any [N] style citations.

For every phrase or sentence in the text that is directly supported by a memory, wrap it in a <cite data-citation="N">...</cite> tag, where N is the number of the memory in the list below. Do this for every citation that applies. Do not add, remove, or change any text. Only add <cite> tags. Return valid HTML only.

# Memory Citations
{{range $i, $c := .citations}}[{{inc $i}}] {{$c.Content}}
{{end}}
# Text to Annotate
{{.text}}
`,
}
