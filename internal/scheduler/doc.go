// Package scheduler runs named maintenance jobs on cron schedules and keeps
// their state in SQLite, so schedules survive restarts.
//
// Each job's next due time is persisted. A poll loop runs every job whose due
// time has passed; an occurrence missed while the process was down is
// therefore run once on the first poll after startup, and several missed
// occurrences collapse into a single run.
package scheduler
