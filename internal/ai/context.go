package ai

import (
	"strings"

	"github.com/ashureev/replyd/internal/domain"
	"github.com/ashureev/replyd/internal/identity"
)

// DefaultContextLimit bounds how many recent records feed a reply.
const DefaultContextLimit = 20

// profileContextLimit bounds how many recent records feed a profile rewrite.
const profileContextLimit = 10

const profileSystemPrompt = `You maintain a short memory profile about one conversation partner.
Rewrite the profile using only facts the partner disclosed about themselves
in the conversation. Keep it as terse markdown bullet points. Keep existing
facts unless the conversation contradicts them. If nothing new was
disclosed, return the current profile unchanged. Return only the profile
text with no commentary.`

// BuildTurns assembles the model context for one reply: a system turn built
// from the persona and partner profile, then the most recent records mapped
// to user and assistant turns oldest first. The limit applies before
// merging; consecutive records in the same direction merge into one turn.
func BuildTurns(msgs []domain.Message, persona, partnerName, profile string, limit int) []domain.Turn {
	if limit <= 0 {
		limit = DefaultContextLimit
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	system := strings.TrimSpace(persona)
	if system == "" {
		system = identity.DefaultPersona
	}

	var b strings.Builder
	b.WriteString(system)
	if len(msgs) == 0 {
		b.WriteString("\n\nThis is the first contact with this partner; there is no conversation history yet.")
	}
	if strings.TrimSpace(profile) != "" {
		b.WriteString("\n\n[Profile: ")
		b.WriteString(partnerName)
		b.WriteString("]\n")
		b.WriteString(strings.TrimSpace(profile))
	}

	turns := []domain.Turn{{Role: domain.RoleSystem, Content: b.String()}}
	for _, m := range msgs {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		role := domain.RoleUser
		if m.Direction == domain.DirectionSent {
			role = domain.RoleAssistant
		}
		if last := &turns[len(turns)-1]; last.Role == role {
			last.Content += "\n" + text
		} else {
			turns = append(turns, domain.Turn{Role: role, Content: text})
		}
	}
	return turns
}

// BuildProfileTurns assembles the model context for a profile rewrite from
// the most recent records.
func BuildProfileTurns(current string, recent []domain.Message, partnerName string) []domain.Turn {
	if len(recent) > profileContextLimit {
		recent = recent[len(recent)-profileContextLimit:]
	}
	if strings.TrimSpace(partnerName) == "" {
		partnerName = "Partner"
	}

	var b strings.Builder
	b.WriteString("Current profile:\n")
	if strings.TrimSpace(current) == "" {
		b.WriteString("(empty)\n")
	} else {
		b.WriteString(strings.TrimSpace(current))
		b.WriteString("\n")
	}
	b.WriteString("\nRecent conversation with ")
	b.WriteString(partnerName)
	b.WriteString(":\n")
	for _, m := range recent {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		speaker := partnerName
		if m.Direction == domain.DirectionSent {
			speaker = "Me"
		}
		b.WriteString(speaker)
		b.WriteString(": ")
		b.WriteString(text)
		b.WriteString("\n")
	}

	return []domain.Turn{
		{Role: domain.RoleSystem, Content: profileSystemPrompt},
		{Role: domain.RoleUser, Content: b.String()},
	}
}
