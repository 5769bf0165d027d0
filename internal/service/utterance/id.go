package utterance

import (
	"fmt"
	"sync/atomic"
)

// Generator hands out utterance ids for one listening session.
type Generator struct {
	sessionID string
	counter   atomic.Uint64
}

func NewGenerator(sessionID string) *Generator {
	return &Generator{sessionID: sessionID}
}

// Next returns "<session>-utt-N", starting at 1.
func (g *Generator) Next() string {
	return fmt.Sprintf("%s-utt-%d", g.sessionID, g.counter.Add(1))
}

// Issued reports how many ids have been handed out.
func (g *Generator) Issued() uint64 {
	return g.counter.Load()
}
