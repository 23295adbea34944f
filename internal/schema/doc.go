// Package schema defines the records pomosync keeps locally and exchanges
// with the account API.
//
// # Settings
//
// One settings record exists per installation and per account:
//
//	{
//	  "pomodoroDuration": 25,
//	  "shortBreakDuration": 5,
//	  "longBreakDuration": 15,
//	  "autoStartBreak": false,
//	  "autoStartPomodoro": false,
//	  "lastUpdated": "2026-01-10T07:36:29.000Z"
//	}
//
// Durations are minutes. Values below one minute are kept as fractions of a
// minute (0.05 is three seconds); older clients stored short test timers
// that way.
//
// # Completed sessions
//
// The session log is append-only:
//
//	{"timestamp": "2026-01-10T07:36:29.000Z", "pomodoroDuration": 25}
//
// Entries pushed to the account carry a server identity in "_id". Two
// entries are the same session when their canonical timestamps are equal;
// see CanonicalTimestamp.
//
// # Merge state
//
// MergeState is the value stored under the merge-pending key. Its presence
// means a merge decision is outstanding.
//
// # Backups
//
// Document is the portable export format:
//
//	{
//	  "version": "1.0.0",
//	  "timestamp": "2026-01-10T07:36:29.000Z",
//	  "settings": {...},
//	  "stats": {"completed": [...]}
//	}
package schema
