// Package cmd implements the cobra command tree for the gerritctl CLI,
// including subcommands for authentication, change queries, review
// actions, reviewer management, and shell completion.
package cmd
