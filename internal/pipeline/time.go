package pipeline

import "time"

// timeNow stamps moves, invoices and reminders. Tests freeze it.
var timeNow = time.Now
