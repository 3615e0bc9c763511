package realtime

import "shuttle-realtime/internal/shuttle"

type notice struct {
	title   string
	message string
}

var notices = map[shuttle.Status]notice{
	shuttle.StatusBoarding: {
		title:   "Boarding Started",
		message: "Your shuttle is boarding now. Please head to the pickup point.",
	},
	shuttle.StatusInTransit: {
		title:   "Trip Started",
		message: "Your shuttle has departed and is on its way.",
	},
	shuttle.StatusArriving: {
		title:   "Arriving Soon",
		message: "Your shuttle is approaching the destination.",
	},
}

// NotificationFor returns the passenger notice for a status transition.
// Statuses without an entry produce no notification.
func NotificationFor(status shuttle.Status) (title, message string, ok bool) {
	n, ok := notices[status]
	if !ok {
		return "", "", false
	}
	return n.title, n.message, true
}
