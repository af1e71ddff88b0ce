// Package alerts evaluates alert rules against published entities and
// delivers webhook notifications to Teams, Slack or generic HTTP targets
// when a rule fires or resolves.
package alerts
