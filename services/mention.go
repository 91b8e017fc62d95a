package services

import (
	"regexp"
	"strings"

	"featureforge/models"
)

var mentionPattern = regexp.MustCompile(`@([\w.-]+)`)

// ParseMentions extracts @tokens from content in order of appearance.
// Tokens are compared case-insensitively and returned once each. Trailing
// punctuation such as the period in "thanks @alice." is not part of the token.
func ParseMentions(content string) []string {
	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	seen := make(map[string]bool, len(matches))
	tokens := make([]string, 0, len(matches))
	for _, m := range matches {
		token := strings.TrimRight(m[1], ".-")
		if token == "" {
			continue
		}
		key := strings.ToLower(token)
		if seen[key] {
			continue
		}
		seen[key] = true
		tokens = append(tokens, token)
	}
	return tokens
}

// mentionHandle is the text a token is matched against: the member's name,
// or the local part of their email when the name is empty.
func mentionHandle(u *models.User) string {
	if u == nil {
		return ""
	}
	if u.Name != "" {
		return u.Name
	}
	local, _, _ := strings.Cut(u.Email, "@")
	return local
}

// ResolveMentions maps each token to the first member whose handle contains it.
// A user mentioned by several tokens appears once.
func ResolveMentions(tokens []string, members []models.TeamMember) []models.MentionRef {
	refs := make([]models.MentionRef, 0, len(tokens))
	seen := make(map[uint]bool, len(tokens))
	for _, token := range tokens {
		needle := strings.ToLower(token)
		for _, m := range members {
			handle := mentionHandle(m.User)
			if handle == "" || !strings.Contains(strings.ToLower(handle), needle) {
				continue
			}
			if !seen[m.UserID] {
				seen[m.UserID] = true
				refs = append(refs, models.MentionRef{
					UserID:   m.UserID,
					Username: handle,
					Email:    m.User.Email,
				})
			}
			break
		}
	}
	return refs
}
