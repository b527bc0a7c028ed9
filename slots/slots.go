package slots

// SlotMinutes is the length of one bookable slot.
const SlotMinutes = 30

// LongShiftMinutes is the duration at which a second break is deducted.
const LongShiftMinutes = 600

// ForShift returns the bookable slots in a rostered shift of the given length.
// One slot is taken by a break, two once the shift reaches ten hours.
func ForShift(minutes int) int {
	if minutes <= 0 {
		return 0
	}
	deduction := 1
	if minutes >= LongShiftMinutes {
		deduction = 2
	}
	n := minutes/SlotMinutes - deduction
	if n < 0 {
		return 0
	}
	return n
}

// ForAppointment returns the slots an appointment occupies. Partial slots round up.
func ForAppointment(minutes int) int {
	if minutes <= 0 {
		return 0
	}
	return (minutes + SlotMinutes - 1) / SlotMinutes
}
