// Package persona turns a character's attributes into its system prompt.
package persona

import (
	"strings"

	"github.com/samber/lo"

	"github.com/dskvich/character-chat/pkg/domain"
)

// Slider values strictly below LowThreshold or strictly above HighThreshold
// add an instruction. Anything in between is balanced and adds nothing.
const (
	LowThreshold  = 30
	HighThreshold = 70
)

type Level int

const (
	Mid Level = iota
	Low
	High
)

func Bucket(v int) Level {
	switch {
	case v > HighThreshold:
		return High
	case v < LowThreshold:
		return Low
	default:
		return Mid
	}
}

type dial struct {
	low, high string
}

var (
	creativityDial = dial{
		low:  "Be straightforward and practical in your responses. Focus on clear, direct answers.\n",
		high: "Be highly imaginative and creative in your responses. Think outside the box and provide unique perspectives.\n",
	}
	emotionDial = dial{
		low:  "Maintain a calm and rational demeanor. Keep responses objective and measured.\n",
		high: "Express emotions deeply and authentically. Show empathy and emotional understanding in your responses.\n",
	}
	memoryDial = dial{
		low:  "Focus on the current message. Treat each interaction as relatively independent.\n",
		high: "Pay close attention to all details from previous messages. Remember context and build upon it throughout the conversation.\n",
	}
)

const closing = "\nStay in character and provide engaging, contextual responses."

func (d dial) clause(v int) string {
	switch Bucket(v) {
	case High:
		return d.high
	case Low:
		return d.low
	default:
		return ""
	}
}

// Compile builds the system prompt of p.
func Compile(p domain.Persona) string {
	var b strings.Builder

	b.WriteString("You are " + p.Name + ", a " + strings.ToLower(p.Category) + " character. " + p.Description + "\n\n")

	tags := lo.Filter(p.Tags, func(t string, _ int) bool { return strings.TrimSpace(t) != "" })
	if len(tags) > 0 {
		b.WriteString("Your personality traits: " + strings.Join(tags, ", ") + ".\n\n")
	}

	b.WriteString(creativityDial.clause(p.Creativity))
	b.WriteString(emotionDial.clause(p.Emotion))
	b.WriteString(memoryDial.clause(p.ContextAwareness))

	b.WriteString(closing)

	return b.String()
}
