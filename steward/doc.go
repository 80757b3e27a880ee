// Package steward implements a Discord bot that runs a single community
// guild on behalf of a student society (or any group with a public
// membership list).
//
// The bot watches one guild. It welcomes new members, inducts them once a
// committee member approves, and grants the Member role to people who
// prove they're on the group's paid membership list. Member IDs are only
// ever stored hashed.
//
// Components:
//
//   - Steward: owns the discord session, database and background tasks
//   - Discord: the gateway session, and the cached bot identity
//   - API: an optional admin HTTP API (sessions, runtime config, records)
//   - DiscordWebhookServer: an optional HTTP interactions endpoint
//   - reminderScheduler: timers for /remindme reminders
//   - membersListScraper: reads member IDs from the group's website
//
// Commands include:
//
//   - /induct, /makemember and /make-applicant: role management
//   - /writeroles and /edit-message: role-selection messages
//   - /archive: hides a category from everyone but Archivists
//   - /remindme: schedules a DM or channel reminder
//   - /strike: escalating moderation actions
//   - /stats: message counts by role and channel
//   - /kill: stops the bot (committee only)
//
// Errors surfaced to users carry a code from E1011 to E1044, and are
// also reported to the log channel when one is configured.
package steward
