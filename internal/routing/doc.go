// Package routing implements the priority-ordered route table and its
// dispatcher-facing matcher.
//
// Routes bind a rule tree to a set of channel actions. Match evaluates
// routes in descending priority (stable for ties), unions matched actions,
// honors stop_on_match, and falls back to the default route only when no
// explicit route matched. The active table is published through an atomic
// pointer: reloads swap the whole table and in-flight Match calls observe
// either the old or the new table in full.
package routing
