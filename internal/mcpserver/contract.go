package mcpserver

// NoteFormat describes how notes are written and organised, for LLM clients
// that create or edit them.
const NoteFormat = `# notetree Note Format

Notes form a forest: every note has at most one parent and an ordered list of
children. Ids are assigned by the store; never invent one.

## Text

A note is plain Markdown. Its **name** is taken from the first heading line,
for example:

` + "```" + `markdown
# Weekly standup

- [ ] send the summary
` + "```" + `

Rules:

1. The heading must be followed by a line break. A note whose text is just
   ` + "`# Title`" + ` without a trailing newline has no name yet.
2. A note without any heading has an empty name.
3. Notes added without text start as ` + "`# Untitled`" + `.
4. GitHub-flavoured Markdown (tables, task lists, strikethrough) renders in the
   preview. Raw HTML is sanitised.

## Editing workflow

Only the **active** note can be edited, and edits stay unsaved until saved:

1. ` + "`select_note`" + ` makes a note active. It fails while the current active
   note has unsaved changes.
2. ` + "`edit_note`" + ` replaces the whole text of the active note. Pass the
   checksum returned by ` + "`read_note`" + ` as ` + "`if_match`" + ` to avoid overwriting
   a newer version.
3. ` + "`save_note`" + ` writes the active note to the store. Unsaved edits are
   also saved automatically after a minute without further edits.

` + "`delete_note`" + ` removes a note **and its whole subtree**.
`
