// Package period implements the time-period algebra used by conditions.
//
// A Period is a set of moments that can be rolled back (the current or most
// recent occurrence ending at or before t) and rolled forward (the nearest
// occurrence starting at or after t). Anchored intervals, cron schedules and
// static intervals also answer membership; deltas are relative windows and
// never do.
package period
