package models

import "time"

var fixedTime = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
