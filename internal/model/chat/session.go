package chat

import "time"

// MaxTurns caps the number of question/answer pairs kept per session.
const MaxTurns = 10

// Turn is one resolved question and the answer returned for it.
type Turn struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	At       time.Time `json:"at"`
}

// SessionRecord is the server-side memory of one cookie-identified visitor.
type SessionRecord struct {
	ID        string    `json:"sessionId"`
	Turns     []Turn    `json:"turns"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AppendTurn adds turn to turns and evicts the oldest entries beyond MaxTurns.
// The input slice is never modified.
func AppendTurn(turns []Turn, turn Turn) []Turn {
	start := 0
	if len(turns)+1 > MaxTurns {
		start = len(turns) + 1 - MaxTurns
	}

	next := make([]Turn, 0, MaxTurns)
	next = append(next, turns[start:]...)
	return append(next, turn)
}
