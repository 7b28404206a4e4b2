// Package alerts evaluates alert rules against API health statuses and
// delivers webhook notifications to Teams, Slack, PagerDuty, or generic HTTP
// targets when a rule fires or resolves.
//
// Engine implements health.Observer; subscribe it to the monitor and every
// computed status is evaluated.
package alerts
