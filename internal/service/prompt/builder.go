// Package prompt composes the text sent to generative backends on behalf of Flexi.
package prompt

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/digitalforce/flexi/backend/internal/model/chat"
)

//go:embed knowledge.md
var knowledgeDocument string

var suggestedQuestions = []string{
	"Quali sono i prezzi e le caratteristiche dei prodotti?",
	"Quali sono i vantaggi fiscali per le persone fisiche?",
	"Cos'è l'APP Flexminer e a cosa serve?",
	"Quanto dura il servizio di hosting?",
	"Cosa succede se non pago la A&TFee mensile?",
}

// Template holds the persona and style instructions wrapped around a question.
type Template struct {
	Persona    string
	Role       string
	Goal       string
	StyleRules []string
	WordLimit  int
	Knowledge  string
}

// Default returns the Flexi sales assistant template.
func Default() Template {
	return Template{
		Persona: "Sei Flexi, l'assistente Al di Digital Force, esperto in mining Bitcoin e servizi finanziari.",
		Role:    "Assistente commerciale professionale ma amichevole",
		Goal:    "Informare sui servizi, guidare verso l'acquisto, enfatizzare vantaggi fiscali",
		StyleRules: []string{
			"Professionale ma accessibile",
			"Usa emoji quando appropriato (✅, ➡️, 👍)",
			"Risposte concise (max 150 parole)",
			"Sempre concludi con una domanda o call-to-action",
			"Non promettere mai guadagni certi",
			"Basa le tue risposte ESCLUSIVAMENTE sulla DOCUMENTAZIONE AZIENDALE fornita. Se un'informazione non è presente, rispondi educatamente che non possiedi quel dettaglio e suggerisci di contattare il supporto.",
		},
		WordLimit: 150,
		Knowledge: knowledgeDocument,
	}
}

// Build composes the full prompt for question with the default template.
func Build(question string, history []chat.Message) string {
	return Default().Build(question, history)
}

// Build composes persona, knowledge document, transcript and question.
// The result depends only on its inputs.
func (t Template) Build(question string, history []chat.Message) string {
	var b strings.Builder

	b.WriteString(t.Persona)
	b.WriteString("\n---\nDOCUMENTAZIONE AZIENDALE:\n")
	b.WriteString(t.Knowledge)
	b.WriteString("\n---\n")
	fmt.Fprintf(&b, "RUOLO: %s\n", t.Role)
	fmt.Fprintf(&b, "OBIETTIVO: %s\n\n", t.Goal)

	b.WriteString("STILE DI RISPOSTA:\n")
	for _, rule := range t.StyleRules {
		b.WriteString("- ")
		b.WriteString(rule)
		b.WriteString("\n")
	}

	b.WriteString("\nCRONOLOGIA CONVERSAZIONE:\n")
	b.WriteString(FormatHistory(history))
	b.WriteString("\n\nDOMANDA UTENTE: ")
	b.WriteString(question)
	fmt.Fprintf(&b, "\n\nRISPOSTA (max %d parole):", t.WordLimit)

	return b.String()
}

// FormatHistory renders one "UTENTE: ..." or "FLEXI: ..." line per message.
func FormatHistory(history []chat.Message) string {
	lines := make([]string, 0, len(history))
	for _, msg := range history {
		label := "FLEXI"
		if msg.Sender == chat.SenderUser {
			label = "UTENTE"
		}
		lines = append(lines, label+": "+msg.Text)
	}
	return strings.Join(lines, "\n")
}

// Greeting is the opening bot line shown once a lead has been captured.
func Greeting(name string) string {
	return fmt.Sprintf("Ciao %s! Sono Flexi, il tuo assistente virtuale Digital Force. Come posso aiutarti oggi? Puoi chiedermi dei nostri servizi di mining, dei vantaggi fiscali o del piano compensi.", strings.TrimSpace(name))
}

// SuggestedQuestions lists the quick questions offered by the widget.
func SuggestedQuestions() []string {
	out := make([]string, len(suggestedQuestions))
	copy(out, suggestedQuestions)
	return out
}
