package utils

import (
	"fmt"
	"html"
)

// TeamInviteEmail invites someone without an account to join a team
func TeamInviteEmail(to, teamName, inviterName, appURL string) EmailMessage {
	body := fmt.Sprintf(`
		<html>
		<body>
			<h2>You're invited to %s</h2>
			<p>%s invited you to collaborate on FeatureForge.</p>
			<p><a href="%s/register?email=%s">Create your account</a> to join the team.</p>
		</body>
		</html>
	`, html.EscapeString(teamName), html.EscapeString(inviterName), appURL, html.EscapeString(to))

	return EmailMessage{
		Kind:     "team_invite",
		To:       to,
		Subject:  fmt.Sprintf("Join %s on FeatureForge", teamName),
		HTMLBody: body,
	}
}

// TeamAddedEmail tells an existing user they were added to a team
func TeamAddedEmail(to, teamName, inviterName, appURL string, teamID uint) EmailMessage {
	body := fmt.Sprintf(`
		<html>
		<body>
			<h2>Welcome to %s</h2>
			<p>%s added you to the team.</p>
			<p><a href="%s/teams/%d">Open the team</a></p>
		</body>
		</html>
	`, html.EscapeString(teamName), html.EscapeString(inviterName), appURL, teamID)

	return EmailMessage{
		Kind:     "team_added",
		To:       to,
		Subject:  fmt.Sprintf("You were added to %s", teamName),
		HTMLBody: body,
	}
}

// MentionEmail tells a user they were mentioned in a comment
func MentionEmail(to, authorName, featureTitle, excerpt, appURL string, featureID uint) EmailMessage {
	body := fmt.Sprintf(`
		<html>
		<body>
			<h2>%s mentioned you</h2>
			<p>On <strong>%s</strong>:</p>
			<blockquote>%s</blockquote>
			<p><a href="%s/features/%d">View the conversation</a></p>
		</body>
		</html>
	`, html.EscapeString(authorName), html.EscapeString(featureTitle), html.EscapeString(excerpt), appURL, featureID)

	return EmailMessage{
		Kind:     "mention",
		To:       to,
		Subject:  fmt.Sprintf("%s mentioned you on %s", authorName, featureTitle),
		HTMLBody: body,
	}
}
