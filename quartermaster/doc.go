// Package quartermaster implements a Discord bot that keeps a library of
// named text snippets ("tags") and proxies AI requests to hosted services.
//
// The bot exposes three slash commands:
//
//   - /tag: Create, fetch, edit, delete and transfer ownership of tags,
//     which are persisted to SQLite or PostgreSQL.
//   - /imagine: Generate an image from a prompt via the configured
//     OpenAI-compatible gateway.
//   - /describe: Classify an uploaded image via a hosted classification
//     model, and report the labels and confidence scores.
//
// Mentioning the bot in a guild channel sends the message text to the
// chat-completion endpoint and replies with the completion.
//
// Quartermaster also serves a small read-only status API (health check and
// tag statistics). All external failures are logged and collapsed into a
// single generic user-facing message; the original error never reaches
// Discord.
package quartermaster
