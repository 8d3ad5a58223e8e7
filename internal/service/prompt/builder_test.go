package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/digitalforce/flexi/backend/internal/model/chat"
)

func TestBuildOrdersSections(t *testing.T) {
	history := []chat.Message{
		{ID: 1, Sender: chat.SenderBot, Text: "Ciao Anna!"},
		{ID: 2, Sender: chat.SenderUser, Text: "Quanto costa un ASIC?"},
	}

	got := Build("E la garanzia?", history)

	persona := strings.Index(got, "Sei Flexi")
	docs := strings.Index(got, "DOCUMENTAZIONE AZIENDALE:")
	transcript := strings.Index(got, "CRONOLOGIA CONVERSAZIONE:\nFLEXI: Ciao Anna!\nUTENTE: Quanto costa un ASIC?")
	question := strings.Index(got, "DOMANDA UTENTE: E la garanzia?")
	budget := strings.Index(got, "RISPOSTA (max 150 parole):")

	require.Zero(t, persona)
	require.Greater(t, docs, persona)
	require.Greater(t, transcript, docs)
	require.Greater(t, question, transcript)
	require.Greater(t, budget, question)
	require.True(t, strings.HasSuffix(got, "RISPOSTA (max 150 parole):"))
}

func TestBuildEmbedsKnowledge(t *testing.T) {
	got := Build("prezzi?", nil)

	require.Contains(t, got, "7.450 €")
	require.Contains(t, got, "info@digitalforcemining.it")
	require.Contains(t, got, "CRONOLOGIA CONVERSAZIONE:\n\n\nDOMANDA UTENTE: prezzi?")
}

func TestBuildIsDeterministic(t *testing.T) {
	history := []chat.Message{{Sender: chat.SenderUser, Text: "ciao"}}
	require.Equal(t, Build("q", history), Build("q", history))
}

func TestGreetingAndSuggestions(t *testing.T) {
	require.True(t, strings.HasPrefix(Greeting(" Marco "), "Ciao Marco! Sono Flexi"))

	questions := SuggestedQuestions()
	require.Len(t, questions, 5)
	questions[0] = "changed"
	require.NotEqual(t, "changed", SuggestedQuestions()[0])
}
