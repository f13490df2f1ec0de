// Package format turns API timestamps and units into dashboard labels.
//
// Every function works on the UTC calendar of the timestamp shifted by the
// location's offset, so the result does not depend on the host time zone.
package format

import (
	"fmt"
	"time"
)

var WeekdayNames = [7]string{
	"Sunday",
	"Monday",
	"Tuesday",
	"Wednesday",
	"Thursday",
	"Friday",
	"Saturday",
}

var MonthNames = [12]string{
	"January",
	"February",
	"March",
	"April",
	"May",
	"June",
	"July",
	"August",
	"September",
	"October",
	"November",
	"December",
}

func shifted(ts int64, tzOffset int) time.Time {
	return time.Unix(ts+int64(tzOffset), 0).UTC()
}

// Date renders "Tuesday 2, July".
func Date(ts int64, tzOffset int) string {
	t := shifted(ts, tzOffset)
	return fmt.Sprintf("%s %d, %s", WeekdayNames[t.Weekday()], t.Day(), MonthNames[t.Month()-1])
}

// Hour renders the 12-hour clock hour, e.g. "12 AM" or "3 PM".
func Hour(ts int64, tzOffset int) string {
	h, period := twelveHour(shifted(ts, tzOffset).Hour())
	return fmt.Sprintf("%d %s", h, period)
}

// Clock renders "H:MM AM/PM".
func Clock(ts int64, tzOffset int) string {
	t := shifted(ts, tzOffset)
	h, period := twelveHour(t.Hour())
	return fmt.Sprintf("%d:%02d %s", h, t.Minute(), period)
}

func twelveHour(hour int) (int, string) {
	period := "AM"
	if hour >= 12 {
		period = "PM"
	}
	if h := hour % 12; h != 0 {
		return h, period
	}
	return 12, period
}

// MpsToKmh converts meters per second to kilometers per hour.
func MpsToKmh(mps float64) float64 {
	return mps * 3600 / 1000
}
