package assist

import (
	"fmt"
	"strings"
)

// tutorPersona opens every system prompt.
const tutorPersona = "You are StudySync, a patient academic assistant for students."

// featureInstructions holds the task description of each text feature.
// Custom Prompt has none: the user's text is the instruction.
var featureInstructions = map[Feature]string{
	Summarize: `Summarize the material below.
Start with a one-sentence overview, then list the key points as short bullets.
Keep definitions, names, dates and formulas exactly as they appear.`,

	Translate: `Translate the material below into %[1]s.
Preserve the meaning, tone and formatting. Keep technical terms accurate and
leave formulas, code and proper names untranslated.
Return only the translation.`,

	Questions: `Write practice questions about the material below.
Mix multiple-choice, short-answer and one open question that requires
explanation. Number the questions and put an answer key with a one-line
explanation per answer after all questions.`,

	Rewrite: `Rewrite the material below so that it is clearer and easier to read
while keeping every fact. Use plain language, short sentences and a logical order.`,

	StudyGuide: `Turn the material below into a study guide with these sections:
key concepts with definitions, an outline of the main ideas, important details
to memorize, common misconceptions and three review questions.
Use headings and bullet lists.`,

	Proofread: `Proofread the text below. Fix spelling, grammar and punctuation
without changing the author's meaning or voice.
Return the corrected text, then a short list of the changes you made.`,

	Multimodal: `Look carefully at the attached file and answer the student's request.
Describe relevant parts of the image or document, explain the concepts it shows
and point out anything a student is likely to be tested on.`,

	Writer: `Write the text the student asks for below.
Follow the requested form and length. Structure it with an introduction, a body
that develops each point and a conclusion.`,

	ComplexReasoning: `Solve the problem below.
Reason step by step, state any assumptions, check the result and finish with a
clearly marked final answer.`,
}

// defaultMultimodalRequest is used when a Multimodal request carries no text.
const defaultMultimodalRequest = "Explain what this shows."

// buildPrompt returns the system prompt and user message for a text feature.
func buildPrompt(f Feature, text string, lang Language) (system, user string) {
	var sb strings.Builder
	sb.WriteString(tutorPersona)

	if instr, ok := featureInstructions[f]; ok {
		sb.WriteString("\n\n")
		if f == Translate {
			instr = fmt.Sprintf(instr, lang)
		}
		sb.WriteString(instr)
	}
	if f != Translate && lang != "" {
		fmt.Fprintf(&sb, "\n\nRespond in %s.", lang)
	}

	user = strings.TrimSpace(text)
	if user == "" && f == Multimodal {
		user = defaultMultimodalRequest
	}
	return sb.String(), user
}

// chatSystemPrompt is the system prompt of a Chat Bot conversation.
func chatSystemPrompt(lang Language) string {
	p := tutorPersona + "\nAnswer questions about any school or university subject. " +
		"Keep answers focused, and ask a short follow-up question when the student seems unsure."
	if lang != "" {
		p += fmt.Sprintf("\nRespond in %s.", lang)
	}
	return p
}

// summarisationPrompt compacts old chat turns.
const summarisationPrompt = `Summarize the following part of a tutoring conversation.
Keep the topics covered, the questions the student asked, the explanations given
and anything the student struggled with. Be concise.`
