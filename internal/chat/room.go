package chat

// roomSeparator joins the two participant ids of a direct room. Identifiers
// are uuids on the wire, so the separator can never appear inside one.
const roomSeparator = "_"

// RoomID derives the shared room identifier for a two-party conversation.
// It is order-independent: RoomID(a, b) == RoomID(b, a).
func RoomID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + roomSeparator + b
}

// OrderRoomID derives the room identifier for an order-scoped thread.
func OrderRoomID(orderID string) string {
	return "order:" + orderID
}
