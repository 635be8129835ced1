// Package id mints prefixed nanoid identifiers.
package id

import gonanoid "github.com/matoous/go-nanoid/v2"

const (
	idLength = 21
	// alphabet avoids '-' and '_' so the prefix separator stays unambiguous.
	alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

	PrefixConversation = "conv"
	PrefixMessage      = "msg"
	PrefixToolCall     = "tc"
)

type Generator struct{}

func New() *Generator {
	return &Generator{}
}

// generate panics only if the system random source fails.
func (g *Generator) generate(prefix string) string {
	return prefix + "_" + gonanoid.MustGenerate(alphabet, idLength)
}

func (g *Generator) GenerateConversationID() string { return g.generate(PrefixConversation) }
func (g *Generator) GenerateMessageID() string      { return g.generate(PrefixMessage) }
func (g *Generator) GenerateToolCallID() string     { return g.generate(PrefixToolCall) }
